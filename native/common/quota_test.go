package common

import (
	"errors"
	"math"
	"testing"
)

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

func TestCheckQuotaMints(t *testing.T) {
	q := Quota{MaxMintsPerEpoch: 3}
	prev := QuotaNow{EpochID: 5}

	next, err := CheckQuota(q, 5, prev, 1, 3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if next.Minted != 3 {
		t.Fatalf("unexpected minted count: %d", next.Minted)
	}

	if _, err := CheckQuota(q, 5, next, 1, 1); !errors.Is(err, ErrQuotaMintCapExceeded) {
		t.Fatalf("expected ErrQuotaMintCapExceeded, got %v", err)
	}
}

func TestCheckQuotaOverflow(t *testing.T) {
	prev := QuotaNow{ReqCount: math.MaxUint32}
	if _, err := CheckQuota(Quota{}, 0, prev, 1, 0); !errors.Is(err, ErrQuotaCounterOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
}

func TestQuotaEpoch(t *testing.T) {
	q := Quota{MaxMintsPerEpoch: 1, EpochSeconds: 60}
	if !q.Enabled() {
		t.Fatalf("expected quota to be enabled")
	}
	if got := q.EpochAt(125); got != 2 {
		t.Fatalf("unexpected epoch %d", got)
	}
	if (Quota{MaxMintsPerEpoch: 1}).Enabled() {
		t.Fatalf("quota without epoch length must be disabled")
	}
}

func TestGuard(t *testing.T) {
	pauses := StaticPauses{ModuleListing: true}
	if err := Guard(pauses, ModuleListing); !errors.Is(err, ErrModulePaused) {
		t.Fatalf("expected paused listing module, got %v", err)
	}
	if err := Guard(pauses, ModuleCertificate); err != nil {
		t.Fatalf("certificate module should be active: %v", err)
	}
	if err := Guard(nil, ModuleCertificate); err != nil {
		t.Fatalf("nil pause view must allow: %v", err)
	}
}
