package models

import (
	"crypto/sha256"
	"encoding/hex"
	"maps"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	dErrors "contramind/pkg/domain-errors"
	pstrings "contramind/pkg/platform/strings"
)

// ThresholdAmountMax is the only mandatory threshold. A snapshot without it
// cannot be evaluated.
const ThresholdAmountMax = "amount_max"

var (
	thresholdKeyPattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)
	countryPattern      = regexp.MustCompile(`^[A-Z]{2}$`)
)

// Snapshot is an immutable view of policy parameters as of one read.
//
// Invariants:
//   - Hash is recomputed from Thresholds and Allowlist at construction
//   - Allowlist is sorted, deduplicated and upper-cased
//   - equal content always yields an equal Hash (decimal values are rendered
//     in their shortest exact form, so 2100.00 and 2100 hash the same)
type Snapshot struct {
	thresholds map[string]decimal.Decimal
	allowlist  []string
	hash       string
}

// NewSnapshot normalizes the inputs and computes the content hash.
func NewSnapshot(thresholds map[string]decimal.Decimal, allowlist []string) Snapshot {
	t := make(map[string]decimal.Decimal, len(thresholds))
	maps.Copy(t, thresholds)
	a := pstrings.SortedUpperSet(allowlist)
	return Snapshot{thresholds: t, allowlist: a, hash: ComputeHash(t, a)}
}

// ComputeHash returns sha256hex("k1=v1,k2=v2|C1,C2") over sorted keys and countries.
func ComputeHash(thresholds map[string]decimal.Decimal, allowlist []string) string {
	pairs := make([]string, 0, len(thresholds))
	for k, v := range thresholds {
		pairs = append(pairs, k+"="+v.String())
	}
	sort.Strings(pairs)
	countries := pstrings.SortedUpperSet(allowlist)

	sum := sha256.Sum256([]byte(strings.Join(pairs, ",") + "|" + strings.Join(countries, ",")))
	return hex.EncodeToString(sum[:])
}

func (s Snapshot) Hash() string { return s.hash }

func (s Snapshot) Threshold(key string) (decimal.Decimal, bool) {
	v, ok := s.thresholds[key]
	return v, ok
}

// AmountMax returns the mandatory amount_max threshold or a configuration error.
func (s Snapshot) AmountMax() (decimal.Decimal, error) {
	v, ok := s.thresholds[ThresholdAmountMax]
	if !ok {
		return decimal.Decimal{}, dErrors.New(dErrors.CodeConfiguration, "amount_max threshold is not configured")
	}
	return v, nil
}

func (s Snapshot) Allows(country string) bool {
	_, found := slices.BinarySearch(s.allowlist, strings.ToUpper(country))
	return found
}

// Thresholds returns a copy of the threshold map.
func (s Snapshot) Thresholds() map[string]decimal.Decimal {
	return maps.Clone(s.thresholds)
}

// Allowlist returns a copy of the sorted allowlist.
func (s Snapshot) Allowlist() []string {
	return slices.Clone(s.allowlist)
}

// ValidateThresholdKey accepts lower snake_case keys.
func ValidateThresholdKey(key string) error {
	if !thresholdKeyPattern.MatchString(key) {
		return dErrors.New(dErrors.CodeValidation, "threshold key must be lower snake_case")
	}
	return nil
}

// NormalizeCountry upper-cases and validates an ISO 3166-1 alpha-2 code.
func NormalizeCountry(country string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(country))
	if !countryPattern.MatchString(c) {
		return "", dErrors.New(dErrors.CodeValidation, "country must be an ISO-3166 alpha-2 code")
	}
	return c, nil
}
