package attestor

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"regexp"

	"golang.org/x/crypto/hkdf"

	dErrors "contramind/pkg/domain-errors"
)

const derivationInfo = "contramind attestor "

var kidPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,63}$`)

// ValidateKID checks that kid is usable as a JWS header value and a table key.
func ValidateKID(kid string) error {
	if !kidPattern.MatchString(kid) {
		return dErrors.New(dErrors.CodeValidation, "kid must be 1-64 characters of letters, digits, '.', '_' or '-'")
	}
	return nil
}

// MasterFromSeed turns the configured seed string into HKDF input key material.
func MasterFromSeed(seed string) []byte {
	sum := sha256.Sum256([]byte(seed))
	return sum[:]
}

// Key is one signing key. The private half never leaves the package.
type Key struct {
	KID     string
	Public  ed25519.PublicKey
	private ed25519.PrivateKey
}

// DeriveKey derives the ed25519 key for kid from the master secret. The same
// master and kid always yield the same key pair, so every instance can
// re-create historic keys without storing private material.
func DeriveKey(master []byte, kid string) (*Key, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("derive key %s: empty master secret", kid)
	}
	if err := ValidateKID(kid); err != nil {
		return nil, err
	}
	r := hkdf.New(sha256.New, master, nil, []byte(derivationInfo+kid))
	seed := make([]byte, ed25519.SeedSize)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, fmt.Errorf("derive key %s: %w", kid, err)
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("derive key %s: unexpected public key type", kid)
	}
	return &Key{KID: kid, Public: pub, private: priv}, nil
}

func (k *Key) PublicB64() string {
	return base64.StdEncoding.EncodeToString(k.Public)
}

func (k *Key) canSign() bool {
	return len(k.private) == ed25519.PrivateKeySize
}
