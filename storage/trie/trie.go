package trie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	gethtrie "github.com/ethereum/go-ethereum/trie"

	"nftmarket/storage"
)

// EmptyRoot is the root of a range with no entries.
var EmptyRoot = gethtypes.EmptyRootHash

// Commitment is a Merkle Patricia root over a key range.
type Commitment struct {
	Root    common.Hash
	Entries int
}

// Root hashes every entry stored under prefix into a Merkle Patricia trie
// keyed by the remainder of each key. Backends iterate in ascending key
// order, which is what the stack trie requires, so nothing is buffered.
//
// The walk is not a snapshot: writes that land while it runs may or may not
// be covered.
func Root(db storage.Database, prefix []byte) (Commitment, error) {
	st := gethtrie.NewStackTrie(nil)
	var (
		count     int
		updateErr error
	)
	err := db.Iterate(prefix, func(key, value []byte) bool {
		if len(value) == 0 {
			return true
		}
		if updateErr = st.Update(key[len(prefix):], value); updateErr != nil {
			updateErr = fmt.Errorf("trie: insert %x: %w", key, updateErr)
			return false
		}
		count++
		return true
	})
	if err != nil {
		return Commitment{}, err
	}
	if updateErr != nil {
		return Commitment{}, updateErr
	}
	if count == 0 {
		return Commitment{Root: EmptyRoot}, nil
	}
	return Commitment{Root: st.Hash(), Entries: count}, nil
}
