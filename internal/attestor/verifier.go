package attestor

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"contramind/internal/proof"
	dErrors "contramind/pkg/domain-errors"
)

// Verification failure reasons, carried in the error message.
const (
	ReasonMalformed       = "malformed certificate"
	ReasonUnknownKID      = "unknown kid"
	ReasonBadSignature    = "certificate signature invalid"
	ReasonBadSubject      = "unexpected subject"
	ReasonBundleSignature = "bundle signature invalid"
	ReasonProofMismatch   = "proof_id mismatch"
)

// Verifier checks certificates and bundle signatures against a fixed set of
// public keys. It needs no private material and no network access.
type Verifier struct {
	keys   map[string]ed25519.PublicKey
	parser *jwt.Parser
}

// NewVerifier builds a verifier over a published key set.
func NewVerifier(keys map[string]ed25519.PublicKey) *Verifier {
	return &Verifier{
		keys:   keys,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()})),
	}
}

// NewVerifierFromB64 accepts the GET /keys representation.
func NewVerifierFromB64(keys map[string]string) (*Verifier, error) {
	decoded := make(map[string]ed25519.PublicKey, len(keys))
	for kid, b64 := range keys {
		raw, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decode public key %s: %w", kid, err)
		}
		if len(raw) != ed25519.PublicKeySize {
			return nil, fmt.Errorf("public key %s: want %d bytes, got %d", kid, ed25519.PublicKeySize, len(raw))
		}
		decoded[kid] = ed25519.PublicKey(raw)
	}
	return NewVerifier(decoded), nil
}

func verificationError(reason string, err error) error {
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeVerificationFailed, reason)
	}
	return dErrors.New(dErrors.CodeVerificationFailed, reason)
}

// Verify checks the certificate signature under its kid, the embedded bundle
// signature, and that proof_id matches a recomputation over the payload.
func (v *Verifier) Verify(certificate string) (*proof.Claims, error) {
	claims := &proof.Claims{}
	var kid string
	_, err := v.parser.ParseWithClaims(certificate, claims, func(t *jwt.Token) (any, error) {
		var ok bool
		kid, ok = t.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("missing kid header")
		}
		pub, ok := v.keys[kid]
		if !ok {
			return nil, ErrUnknownKID
		}
		return pub, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrUnknownKID):
			return nil, verificationError(ReasonUnknownKID, fmt.Errorf("kid %q: %w", kid, ErrUnknownKID))
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return nil, verificationError(ReasonBadSignature, nil)
		default:
			return nil, verificationError(ReasonMalformed, err)
		}
	}
	if claims.Subject != proof.Subject {
		return nil, verificationError(ReasonBadSubject, nil)
	}

	canon, err := claims.Bundle().Canonical()
	if err != nil {
		return nil, verificationError(ReasonMalformed, err)
	}
	sig, err := base64.StdEncoding.DecodeString(claims.BundleSig)
	if err != nil || !ed25519.Verify(v.keys[kid], canon, sig) {
		return nil, verificationError(ReasonBundleSignature, nil)
	}
	if proof.ProofIDFromB64(canon, claims.BundleSig) != claims.ProofID {
		return nil, verificationError(ReasonProofMismatch, nil)
	}
	return claims, nil
}

// VerifyBundle reports whether signature is kid's signature over the canonical
// bundle bytes. Unknown kids are simply invalid.
func (v *Verifier) VerifyBundle(canonicalBundle, signature []byte, kid string) bool {
	pub, ok := v.keys[kid]
	if !ok {
		return false
	}
	return ed25519.Verify(pub, canonicalBundle, signature)
}

// KIDOf reads the kid header without verifying anything.
func KIDOf(certificate string) (string, error) {
	token, _, err := jwt.NewParser().ParseUnverified(certificate, &proof.Claims{})
	if err != nil {
		return "", verificationError(ReasonMalformed, err)
	}
	kid, _ := token.Header["kid"].(string)
	if kid == "" {
		return "", verificationError(ReasonMalformed, errors.New("missing kid header"))
	}
	return kid, nil
}

// ErrUnknownKID is in the chain of verification errors for unpublished kids.
var ErrUnknownKID = errors.New("unknown kid")
