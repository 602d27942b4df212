// Package proof defines the attested decision statement: the bundle that is
// signed, the certificate claims derived from it, and the proof id that binds
// the two.
package proof

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"contramind/pkg/canonical"
)

// Subject is the "sub" claim of every decision certificate.
const Subject = "decision"

// TimeLayout renders bundle timestamps. Second precision keeps the text stable
// across storage round trips.
const TimeLayout = "2006-01-02T15:04:05Z"

// Inputs are the request values the kernel saw. Amount is the decimal in its
// shortest exact form, carried as a string so no float ever enters a digest.
type Inputs struct {
	Amount    string `json:"amount"`
	Country   string `json:"country"`
	Recent    int    `json:"recent"`
	TS        string `json:"ts"`
	ContextID string `json:"context_id,omitempty"`
}

// Bundle is the signed statement.
type Bundle struct {
	TS          string   `json:"ts"`
	Decision    string   `json:"decision"`
	Obligations []string `json:"obligations"`
	KernelID    string   `json:"kernel_id"`
	ParamHash   string   `json:"param_hash"`
	Inputs      Inputs   `json:"inputs"`
}

// FormatTime renders t in UTC at second precision.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// Canonical returns the canonical JSON bytes that are signed and hashed.
func (b Bundle) Canonical() ([]byte, error) {
	if b.Obligations == nil {
		b.Obligations = []string{}
	}
	out, err := canonical.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("canonicalize bundle: %w", err)
	}
	return out, nil
}

// ParseBundle decodes stored canonical bytes.
func ParseBundle(raw []byte) (Bundle, error) {
	var b Bundle
	if err := jsonUnmarshal(raw, &b); err != nil {
		return Bundle{}, fmt.Errorf("parse bundle: %w", err)
	}
	return b, nil
}

// ProofID is sha256hex(canonical_bundle + "|" + base64(signature)).
func ProofID(canonicalBundle, signature []byte) string {
	return ProofIDFromB64(canonicalBundle, base64.StdEncoding.EncodeToString(signature))
}

func ProofIDFromB64(canonicalBundle []byte, signatureB64 string) string {
	h := sha256.New()
	h.Write(canonicalBundle)
	h.Write([]byte("|"))
	h.Write([]byte(signatureB64))
	return hex.EncodeToString(h.Sum(nil))
}

// Claims is the certificate payload: the bundle fields plus the proof id and
// the detached bundle signature, so a verifier can recompute the proof id from
// the certificate alone.
type Claims struct {
	jwt.RegisteredClaims
	TS          string   `json:"ts"`
	Decision    string   `json:"decision"`
	KernelID    string   `json:"kernel_id"`
	ParamHash   string   `json:"param_hash"`
	Inputs      Inputs   `json:"inputs"`
	Obligations []string `json:"obligations"`
	ProofID     string   `json:"proof_id"`
	BundleSig   string   `json:"bundle_sig"`
}

// NewClaims builds the certificate payload for a signed bundle.
func NewClaims(b Bundle, proofID, bundleSigB64 string) Claims {
	obligations := b.Obligations
	if obligations == nil {
		obligations = []string{}
	}
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: Subject},
		TS:               b.TS,
		Decision:         b.Decision,
		KernelID:         b.KernelID,
		ParamHash:        b.ParamHash,
		Inputs:           b.Inputs,
		Obligations:      obligations,
		ProofID:          proofID,
		BundleSig:        bundleSigB64,
	}
}

// Bundle reconstructs the signed statement from the claims.
func (c Claims) Bundle() Bundle {
	return Bundle{
		TS:          c.TS,
		Decision:    c.Decision,
		Obligations: c.Obligations,
		KernelID:    c.KernelID,
		ParamHash:   c.ParamHash,
		Inputs:      c.Inputs,
	}
}
