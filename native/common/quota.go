package common

import (
	"errors"
	"math"
)

var (
	ErrQuotaRequestsExceeded = errors.New("quota requests exceeded")
	ErrQuotaMintCapExceeded  = errors.New("quota mint cap exceeded")
	ErrQuotaCounterOverflow  = errors.New("quota counter overflow")
)

// QuotaNow captures the current quota usage counters for an address.
type QuotaNow struct {
	ReqCount uint32
	Minted   uint64
	EpochID  uint64
}

// Quota defines the limits enforced for a module interaction per address.
// Zero limits are unlimited.
type Quota struct {
	MaxRequestsPerEpoch uint32
	MaxMintsPerEpoch    uint64
	EpochSeconds        uint32
}

// Enabled reports whether any limit is configured.
func (q Quota) Enabled() bool {
	return q.EpochSeconds > 0 && (q.MaxRequestsPerEpoch > 0 || q.MaxMintsPerEpoch > 0)
}

// EpochAt maps a unix timestamp onto the quota epoch.
func (q Quota) EpochAt(unix int64) uint64 {
	if q.EpochSeconds == 0 || unix <= 0 {
		return 0
	}
	return uint64(unix) / uint64(q.EpochSeconds)
}

// CheckQuota verifies whether the additional request and mint usage fit within
// the configured quota. The returned QuotaNow reflects the updated counters
// when the quota is not exceeded.
func CheckQuota(q Quota, nowEpoch uint64, prev QuotaNow, addReq uint32, addMinted uint64) (QuotaNow, error) {
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

	if addMinted > 0 {
		if next.Minted > math.MaxUint64-addMinted {
			return prev, ErrQuotaCounterOverflow
		}
		next.Minted += addMinted
	}
	if q.MaxMintsPerEpoch > 0 && next.Minted > q.MaxMintsPerEpoch {
		return prev, ErrQuotaMintCapExceeded
	}

	return next, nil
}
