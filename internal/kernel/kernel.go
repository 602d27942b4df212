// Package kernel holds the decision rules. Everything here is a pure function of
// its arguments: no clock, no I/O, no package state.
package kernel

import (
	"time"

	"github.com/shopspring/decimal"

	"contramind/internal/params/models"
	pstrings "contramind/pkg/platform/strings"
)

// KernelID names the rule set below. Change it whenever the rules change; a
// parameter change never changes it.
const KernelID = "cm-kernel/v1"

type Decision string

const (
	DecisionPass       Decision = "PASS"
	DecisionHoldHuman  Decision = "HOLD_HUMAN"
	DecisionReject     Decision = "REJECT"
	DecisionNeedOneBit Decision = "NEED_ONE_BIT"
)

func (d Decision) IsValid() bool {
	switch d {
	case DecisionPass, DecisionHoldHuman, DecisionReject, DecisionNeedOneBit:
		return true
	}
	return false
}

const (
	ObligationPrivacyOK         = "privacy_ok"
	ObligationBudgetOK          = "budget_ok"
	ObligationWorldcheckQueried = "worldcheck_queried"
)

// maxRecentDisputesForHold is the dispute count at which HOLD_HUMAN stops applying.
const maxRecentDisputesForHold = 2

// Request is a validated transaction to evaluate.
type Request struct {
	Amount         decimal.Decimal
	Country        string
	TS             time.Time
	RecentDisputes int
	ContextID      string
}

// Result is the kernel's verdict. Obligations is always a sorted set.
type Result struct {
	Decision    Decision
	Obligations []string
	KernelID    string
	ParamHash   string
	NeedsOneBit bool
}

// IsWeekend reports whether ts falls on Saturday or Sunday in UTC.
func IsWeekend(ts time.Time) bool {
	switch ts.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return true
	}
	return false
}

// Evaluate applies the rules in order, cheapest first. The only error is a
// configuration error when amount_max is missing from the snapshot.
func Evaluate(req Request, snap models.Snapshot) (Result, error) {
	amountMax, err := snap.AmountMax()
	if err != nil {
		return Result{}, err
	}

	weekend := IsWeekend(req.TS)
	allowlistHit := snap.Allows(req.Country)

	result := Result{
		KernelID:    KernelID,
		ParamHash:   snap.Hash(),
		Obligations: []string{},
	}
	switch {
	case allowlistHit && req.Amount.LessThanOrEqual(amountMax) && !weekend:
		result.Decision = DecisionPass
		result.Obligations = []string{ObligationPrivacyOK}
	case req.Amount.GreaterThan(amountMax) && !allowlistHit && req.RecentDisputes < maxRecentDisputesForHold:
		result.Decision = DecisionHoldHuman
		result.Obligations = []string{ObligationBudgetOK}
	default:
		result.Decision = DecisionNeedOneBit
		result.NeedsOneBit = true
	}
	return result, nil
}

// ApplyOneBit settles a NEED_ONE_BIT result with the external verifier's answer:
// true passes, false rejects. Any other result is returned unchanged.
func ApplyOneBit(result Result, bit bool) Result {
	if result.Decision != DecisionNeedOneBit {
		return result
	}
	out := result
	if bit {
		out.Decision = DecisionPass
	} else {
		out.Decision = DecisionReject
	}
	out.NeedsOneBit = false
	out.Obligations = pstrings.SortedSet(append(append([]string{}, result.Obligations...), ObligationWorldcheckQueried))
	return out
}
