package ledger

import (
	"sort"
	"sync"

	"nftmarket/crypto"
)

type accountLock struct {
	mu   sync.RWMutex
	refs int
}

// lockTable hands out per-account reader/writer locks. Entries are reference
// counted so the table only holds accounts that are currently in use.
type lockTable struct {
	mu    sync.Mutex
	locks map[crypto.Address]*accountLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[crypto.Address]*accountLock)}
}

type lockRequest struct {
	addr     crypto.Address
	writable bool
}

// acquire locks every declared account in address order and returns the
// matching release function. Acquiring in a global order rules out deadlock
// between transactions with overlapping account sets.
func (t *lockTable) acquire(metas []AccountMeta) func() {
	merged := make(map[crypto.Address]bool, len(metas))
	for _, meta := range metas {
		merged[meta.Address] = merged[meta.Address] || meta.Writable
	}
	reqs := make([]lockRequest, 0, len(merged))
	for addr, writable := range merged {
		reqs = append(reqs, lockRequest{addr: addr, writable: writable})
	}
	sort.Slice(reqs, func(i, j int) bool { return reqs[i].addr.Less(reqs[j].addr) })

	held := make([]*accountLock, len(reqs))
	t.mu.Lock()
	for i, req := range reqs {
		lock, ok := t.locks[req.addr]
		if !ok {
			lock = &accountLock{}
			t.locks[req.addr] = lock
		}
		lock.refs++
		held[i] = lock
	}
	t.mu.Unlock()

	for i, req := range reqs {
		if req.writable {
			held[i].mu.Lock()
		} else {
			held[i].mu.RLock()
		}
	}

	return func() {
		for i := len(reqs) - 1; i >= 0; i-- {
			if reqs[i].writable {
				held[i].mu.Unlock()
			} else {
				held[i].mu.RUnlock()
			}
		}
		t.mu.Lock()
		for i, req := range reqs {
			held[i].refs--
			if held[i].refs == 0 {
				delete(t.locks, req.addr)
			}
		}
		t.mu.Unlock()
	}
}
