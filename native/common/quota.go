package common

import (
	"errors"
	"math"
	"sync"

	"nftmarket/crypto"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaAmountExceeded   = errors.New("quota amount cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the usage counters for an address within one epoch.
type QuotaNow struct {
	ReqCount   uint32
	AmountUsed uint64
	EpochID    uint64
}

// Quota defines the per-address limits for a metered interaction. Zero
// disables the corresponding limit.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxAmountPerEpoch   uint64
	EpochSeconds        uint32
}

// Epoch maps a unix timestamp onto the quota window.
func (q Quota) Epoch(unix int64) uint64 {
	if q.EpochSeconds == 0 || unix <= 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional request and amount fit within the
// quota. The returned QuotaNow reflects the updated counters when the quota is
// not exceeded and equals prev otherwise.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addAmount uint64) (QuotaNow, error) {
	next := prev
	if prev.EpochID != nowEpoch {
		next = QuotaNow{EpochID: nowEpoch}
	}

	if addReq > 0 {
		if next.ReqCount > math.MaxUint32-addReq {
			return prev, ErrQuotaCounterOverflow
		}
		next.ReqCount += addReq
	}
	if q.MaxRequestsPerEpoch > 0 && next.ReqCount > q.MaxRequestsPerEpoch {
		return prev, ErrQuotaRequestsExceeded
	}

	if addAmount > 0 {
		if next.AmountUsed > math.MaxUint64-addAmount {
			return prev, ErrQuotaCounterOverflow
		}
		next.AmountUsed += addAmount
	}
	if q.MaxAmountPerEpoch > 0 && next.AmountUsed > q.MaxAmountPerEpoch {
		return prev, ErrQuotaAmountExceeded
	}

	return next, nil
}

// QuotaTracker keeps per-address counters in memory.
type QuotaTracker struct {
	quota Quota
	mu    sync.Mutex
	usage map[crypto.Address]QuotaNow
}

func NewQuotaTracker(q Quota) *QuotaTracker {
	return &QuotaTracker{quota: q, usage: make(map[crypto.Address]QuotaNow)}
}

// Consume charges one request and amount against addr at time unix.
func (t *QuotaTracker) Consume(addr crypto.Address, unix int64, amount uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	next, err := CheckQuota(t.quota, t.quota.Epoch(unix), t.usage[addr], 1, amount)
	if err != nil {
		return err
	}
	t.usage[addr] = next
	return nil
}
