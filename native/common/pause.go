package common

import (
	"errors"
	"strings"
	"sync"
)

// Module names accepted by the pause switch.
const (
	ModuleMarketplace = "marketplace"
	ModuleFaucet      = "faucet"
)

var ErrModulePaused = errors.New("module paused")

// Modules lists every module the pause switch understands.
func Modules() []string {
	return []string{ModuleMarketplace, ModuleFaucet}
}

// IsKnownModule reports whether module names a pausable module.
func IsKnownModule(module string) bool {
	module = normalizeModule(module)
	for _, known := range Modules() {
		if module == known {
			return true
		}
	}
	return false
}

// PauseView answers whether a module is currently halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Guard returns ErrModulePaused when module is halted in p. A nil view never
// pauses anything.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// PauseSet is a mutable PauseView seeded from configuration.
type PauseSet struct {
	mu     sync.RWMutex
	paused map[string]bool
}

// NewPauseSet marks every listed module as paused. Names are matched case
// insensitively.
func NewPauseSet(modules ...string) *PauseSet {
	set := &PauseSet{paused: make(map[string]bool)}
	for _, module := range modules {
		set.Set(module, true)
	}
	return set
}

// IsPaused implements PauseView.
func (s *PauseSet) IsPaused(module string) bool {
	if s == nil {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.paused[normalizeModule(module)]
}

// Set toggles the pause flag for module.
func (s *PauseSet) Set(module string, paused bool) {
	module = normalizeModule(module)
	if module == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if paused {
		s.paused[module] = true
		return
	}
	delete(s.paused, module)
}

func normalizeModule(module string) string {
	return strings.ToLower(strings.TrimSpace(module))
}
