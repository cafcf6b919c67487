package common

import (
	"errors"
	"testing"

	"nftmarket/crypto"
)

func TestGuard(t *testing.T) {
	if err := Guard(nil, ModuleMarketplace); err != nil {
		t.Fatalf("nil view should not pause: %v", err)
	}
	set := NewPauseSet(" Marketplace ")
	if err := Guard(set, ModuleMarketplace); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected ErrModulePaused, got %v", err)
	}
	if err := Guard(set, ModuleFaucet); err != nil {
		t.Fatalf("faucet should not be paused: %v", err)
	}
	set.Set(ModuleMarketplace, false)
	if err := Guard(set, ModuleMarketplace); err != nil {
		t.Fatalf("expected resume, got %v", err)
	}
}

func TestCheckQuotaRequestLimit(t *testing.T) {
	q := Quota{MaxRequestsPerEpoch: 10}
	prev := QuotaNow{EpochID: 1}

	next, err := CheckQuota(q, 1, prev, 10, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.ReqCount != 10 {
		t.Fatalf("unexpected request count: %d", next.ReqCount)
	}

	denied, err := CheckQuota(q, 1, next, 1, 0)
	if !errors.Is(err, ErrQuotaRequestsExceeded) {
		t.Fatalf("expected ErrQuotaRequestsExceeded, got %v", err)
	}
	if denied != next {
		t.Fatalf("expected counters to remain unchanged on denial")
	}

	rollover, err := CheckQuota(q, 2, next, 1, 0)
	if err != nil {
		t.Fatalf("unexpected error after epoch rollover: %v", err)
	}
	if rollover.EpochID != 2 || rollover.ReqCount != 1 {
		t.Fatalf("unexpected state after rollover: %+v", rollover)
	}
}

func TestQuotaTrackerAmountCap(t *testing.T) {
	tracker := NewQuotaTracker(Quota{MaxAmountPerEpoch: 1000, EpochSeconds: 3600})
	var addr crypto.Address
	addr[0] = 0x01

	if err := tracker.Consume(addr, 7200, 600); err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if err := tracker.Consume(addr, 7300, 600); !errors.Is(err, ErrQuotaAmountExceeded) {
		t.Fatalf("expected ErrQuotaAmountExceeded, got %v", err)
	}
	if err := tracker.Consume(addr, 7300, 400); err != nil {
		t.Fatalf("denied request should not consume quota: %v", err)
	}
	if err := tracker.Consume(addr, 10800, 1000); err != nil {
		t.Fatalf("new epoch should reset usage: %v", err)
	}
}
