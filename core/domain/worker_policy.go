package domain

import "math"

type SyncMode string

const (
	SyncModeAuto   SyncMode = "auto"
	SyncModeSemi   SyncMode = "semi"
	SyncModeStrict SyncMode = "strict"
)

func (m SyncMode) IsValid() bool {
	return m == SyncModeAuto || m == SyncModeSemi || m == SyncModeStrict
}

const DefaultAutoThreshold = 0.7

// SyncPolicy controls whether classified events are applied directly or
// staged for review.
type SyncPolicy struct {
	Mode          SyncMode `json:"mode"`
	AutoThreshold float64  `json:"autoThreshold"`
}

func DefaultSyncPolicy() SyncPolicy {
	return SyncPolicy{Mode: SyncModeSemi, AutoThreshold: DefaultAutoThreshold}
}

func (p SyncPolicy) Validate() error {
	if !p.Mode.IsValid() {
		return NewValidationError("mode", "must be one of auto, semi, strict")
	}
	if math.IsNaN(p.AutoThreshold) || p.AutoThreshold < 0 || p.AutoThreshold > 1 {
		return NewValidationError("autoThreshold", "must be between 0 and 1")
	}
	return nil
}

// AllowsAutoApply is the routing rule: only auto mode applies directly, and
// only at or above the threshold.
func (p SyncPolicy) AllowsAutoApply(confidence float64) bool {
	return p.Mode == SyncModeAuto && confidence >= p.AutoThreshold
}

// SyncPolicyUpdate is a partial update of a policy.
type SyncPolicyUpdate struct {
	Mode          *SyncMode `json:"mode,omitempty"`
	AutoThreshold *float64  `json:"autoThreshold,omitempty"`
}

// Merge returns the policy that results from applying u on p. p is unchanged.
func (u SyncPolicyUpdate) Merge(p SyncPolicy) SyncPolicy {
	if u.Mode != nil {
		p.Mode = *u.Mode
	}
	if u.AutoThreshold != nil {
		p.AutoThreshold = *u.AutoThreshold
	}
	return p
}
