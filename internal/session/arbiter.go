package session

import (
	"buzzmaster-console/internal/domain"
)

// ArbiterState is the buzz race's arbitration state for the current round.
type ArbiterState int

const (
	// ArbiterOpen means no claim is held; the race is on.
	ArbiterOpen ArbiterState = iota
	// ArbiterHeld means one uncontested claim awaits presenter judgment.
	ArbiterHeld
	// ArbiterValidated is terminal for the round: the holder was confirmed.
	ArbiterValidated
)

func (s ArbiterState) String() string {
	switch s {
	case ArbiterOpen:
		return "open"
	case ArbiterHeld:
		return "held"
	case ArbiterValidated:
		return "validated"
	}
	return "unknown"
}

// BuzzArbiter resolves the buzzer race: first observed claim wins, the
// presenter may validate it or overturn it. Overturned claimants land in the
// exclusion set and cannot re-claim until the next round's Reset. There is no
// queue: claims arriving while one is held are dropped so only one challenger
// is ever surfaced to the presenter.
//
// Clock coupling (pause on claim, resume on reopen) is the controller's job.
// Not safe for concurrent use; the controller serializes access.
type BuzzArbiter struct {
	state    ArbiterState
	held     domain.BuzzClaim
	excluded map[string]struct{}
}

// NewBuzzArbiter returns an open arbiter with an empty exclusion set.
func NewBuzzArbiter() *BuzzArbiter {
	a := &BuzzArbiter{}
	a.Reset()
	return a
}

// Reset reopens the race and clears the exclusion set for a new round.
func (a *BuzzArbiter) Reset() {
	a.state = ArbiterOpen
	a.held = domain.BuzzClaim{}
	a.excluded = make(map[string]struct{})
}

// Claim offers a buzz. Accepted only while Open and only from participants
// not excluded this round. Rejections are expected traffic (the transport
// re-delivers and slow buzzers race), so callers drop them quietly; the
// sentinel says which rule applied.
func (a *BuzzArbiter) Claim(c domain.BuzzClaim) error {
	if a.state != ArbiterOpen {
		return domain.ErrClaimAlreadyHeld
	}
	if _, barred := a.excluded[c.BuzzerID]; barred {
		return domain.ErrClaimExcluded
	}
	a.state = ArbiterHeld
	a.held = c
	return nil
}

// Validate confirms the held claim as correct; terminal for the round.
func (a *BuzzArbiter) Validate() (domain.BuzzClaim, error) {
	if a.state != ArbiterHeld {
		return domain.BuzzClaim{}, domain.ErrNoClaimHeld
	}
	a.state = ArbiterValidated
	return a.held, nil
}

// Reopen overturns the held claim: the claimant joins the exclusion set and
// the race opens again for everyone else.
func (a *BuzzArbiter) Reopen() (domain.BuzzClaim, error) {
	if a.state != ArbiterHeld {
		return domain.BuzzClaim{}, domain.ErrNoClaimHeld
	}
	overturned := a.held
	a.excluded[overturned.BuzzerID] = struct{}{}
	a.held = domain.BuzzClaim{}
	a.state = ArbiterOpen
	return overturned, nil
}

// Exclude merges server-authoritative exclusions into the round's set.
func (a *BuzzArbiter) Exclude(buzzerIDs []string) {
	for _, id := range buzzerIDs {
		a.excluded[id] = struct{}{}
	}
}

// IsExcluded reports whether the participant is barred this round.
func (a *BuzzArbiter) IsExcluded(buzzerID string) bool {
	_, ok := a.excluded[buzzerID]
	return ok
}

// Excluded lists the barred participants.
func (a *BuzzArbiter) Excluded() []string {
	out := make([]string, 0, len(a.excluded))
	for id := range a.excluded {
		out = append(out, id)
	}
	return out
}

// State exposes the arbitration state for projections.
func (a *BuzzArbiter) State() ArbiterState {
	return a.state
}

// HeldClaim returns the current claim when state is Held or Validated.
func (a *BuzzArbiter) HeldClaim() (domain.BuzzClaim, bool) {
	if a.state == ArbiterOpen {
		return domain.BuzzClaim{}, false
	}
	return a.held, true
}
