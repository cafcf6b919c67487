package genesis

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"nftmarket/crypto"
	"nftmarket/ledger"
	"nftmarket/native/marketplace"
)

// GenesisSpec is the YAML document seeding a fresh ledger.
type GenesisSpec struct {
	GenesisTime string            `yaml:"genesisTime"`
	Alloc       map[string]string `yaml:"alloc"` // addr -> whole units
	Assets      []AssetSpec       `yaml:"assets"`

	genesisTimestamp time.Time
	balances         []Allocation
}

// AssetSpec mints one unique asset to its creator at genesis.
type AssetSpec struct {
	Creator string `yaml:"creator"`
	Salt    string `yaml:"salt"`
	URI     string `yaml:"uri"`

	creator crypto.Address
}

// Allocation is a parsed native balance grant.
type Allocation struct {
	Address crypto.Address
	Amount  uint64
}

// LoadGenesisSpec reads and validates a genesis file.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var spec GenesisSpec
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, err
	}
	return &spec, nil
}

// GenesisTimestamp returns the parsed genesis time, zero when unset.
func (s *GenesisSpec) GenesisTimestamp() time.Time {
	if s == nil {
		return time.Time{}
	}
	return s.genesisTimestamp
}

// Allocations returns the balance grants sorted by address.
func (s *GenesisSpec) Allocations() []Allocation {
	if s == nil {
		return nil
	}
	return append([]Allocation(nil), s.balances...)
}

func (s *GenesisSpec) validate() error {
	if strings.TrimSpace(s.GenesisTime) != "" {
		ts, err := time.Parse(time.RFC3339, strings.TrimSpace(s.GenesisTime))
		if err != nil {
			return fmt.Errorf("genesisTime: %w", err)
		}
		s.genesisTimestamp = ts.UTC()
	}

	addrs := make([]string, 0, len(s.Alloc))
	for addr := range s.Alloc {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	s.balances = s.balances[:0]
	for _, addrStr := range addrs {
		addr, err := crypto.DecodeAddress(strings.TrimSpace(addrStr))
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
		amount, err := marketplace.ParsePrice(s.Alloc[addrStr])
		if err != nil {
			return fmt.Errorf("alloc[%q]: %w", addrStr, err)
		}
		s.balances = append(s.balances, Allocation{Address: addr, Amount: amount})
	}

	seen := make(map[string]struct{}, len(s.Assets))
	for i := range s.Assets {
		asset := &s.Assets[i]
		creator, err := crypto.DecodeAddress(strings.TrimSpace(asset.Creator))
		if err != nil {
			return fmt.Errorf("assets[%d].creator: %w", i, err)
		}
		asset.creator = creator
		if len(asset.Salt) == 0 || len(asset.Salt) > crypto.MaxSeedLength {
			return fmt.Errorf("assets[%d].salt: %w", i, ledger.ErrInvalidSalt)
		}
		if strings.TrimSpace(asset.URI) == "" {
			return fmt.Errorf("assets[%d].uri: %w", i, ledger.ErrInvalidURI)
		}
		key := creator.String() + "/" + asset.Salt
		if _, dup := seen[key]; dup {
			return fmt.Errorf("assets[%d]: duplicate creator and salt", i)
		}
		seen[key] = struct{}{}
	}
	return nil
}
