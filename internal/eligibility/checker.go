// Package eligibility decides whether a VerusID has validly delegated its
// staking rewards to the pool, and which staker lifecycle transition an
// observed identity update implies.
package eligibility

import (
	"github.com/chimerapool/stakepool-coordinator/internal/poolmodel"
)

const (
	// delayLockFlags is the flags value of an identity configured with
	// delay-lock semantics, the only configuration the pool accepts on
	// production chains.
	delayLockFlags int32 = 2

	// minTimelock and maxTimelock bound the accepted delay lock, in
	// blocks (roughly 12 hours to 7 days).
	minTimelock int64 = 720
	maxTimelock int64 = 10080

	// CooldownBlocks is how long an identity's staking UTXOs need to
	// re-mature after the identity is modified.
	CooldownBlocks int64 = 150
)

// Transition is the staker lifecycle change implied by one identity
// update.
type Transition int

const (
	// TransitionNone: nothing to record.
	TransitionNone Transition = iota
	// TransitionNew: an unknown identity became eligible and joins the
	// pool as an active staker.
	TransitionNew
	// TransitionCooldown: an active staker's identity was modified but
	// remains eligible; its UTXOs restart their maturation window.
	TransitionCooldown
	// TransitionLeaving: an active staker's identity no longer meets the
	// requirements and the staker becomes inactive.
	TransitionLeaving
	// TransitionReturning: a previously inactive staker became eligible
	// again.
	TransitionReturning
)

func (t Transition) String() string {
	switch t {
	case TransitionNew:
		return "new"
	case TransitionCooldown:
		return "cooldown"
	case TransitionLeaving:
		return "leaving"
	case TransitionReturning:
		return "returning"
	}
	return "none"
}

// Checker evaluates identities against one chain's pool policy.
type Checker struct {
	// PoolPrimaryAddress is the R-address stakers must include among
	// their identity's primary addresses.
	PoolPrimaryAddress poolmodel.CurrencyAddress

	// TestChain relaxes the authority, flags and timelock requirements,
	// matching how test networks are operated.
	TestChain bool
}

// Eligible reports whether the identity validly delegates staking to the
// pool.
//
// On every chain the identity must sign with exactly one of multiple
// primary addresses, one of which is the pool's. On production chains the
// identity must additionally not be its own revocation or recovery
// authority and must carry a delay lock within the accepted window, so a
// hijacked identity cannot strip the pool's address and immediately spend.
func (c Checker) Eligible(identity *poolmodel.Identity) bool {
	if identity.MinimumSignatures != 1 {
		return false
	}
	if len(identity.PrimaryAddresses) <= 1 {
		return false
	}
	if !c.containsPoolAddress(identity.PrimaryAddresses) {
		return false
	}

	if c.TestChain {
		return true
	}

	if identity.RevocationAuthority == identity.IdentityAddress {
		return false
	}
	if identity.RecoveryAuthority == identity.IdentityAddress {
		return false
	}
	if identity.Flags != delayLockFlags {
		return false
	}
	if identity.Timelock < minTimelock || identity.Timelock > maxTimelock {
		return false
	}
	return true
}

func (c Checker) containsPoolAddress(primaries []poolmodel.CurrencyAddress) bool {
	for _, address := range primaries {
		if address == c.PoolPrimaryAddress {
			return true
		}
	}
	return false
}

// Decide maps the current staker record (nil if unknown) and the updated
// identity to a lifecycle transition. Decide is only called for identities
// that were modified in the block being processed, which is why an
// eligible active staker transitions to cooldown rather than no-op.
func (c Checker) Decide(existing *poolmodel.Staker, identity *poolmodel.Identity) Transition {
	eligible := c.Eligible(identity)

	if existing == nil {
		if eligible {
			return TransitionNew
		}
		return TransitionNone
	}

	switch existing.Status {
	case poolmodel.StakerStatusActive, poolmodel.StakerStatusCoolingDown:
		if eligible {
			return TransitionCooldown
		}
		return TransitionLeaving
	case poolmodel.StakerStatusInactive:
		if eligible {
			return TransitionReturning
		}
	}
	return TransitionNone
}
