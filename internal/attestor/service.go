// Package attestor signs decision bundles, issues compact EdDSA certificates
// and manages the signing keyring.
package attestor

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"contramind/internal/attestor/metrics"
	"contramind/internal/attestor/models"
	"contramind/internal/proof"
	"contramind/pkg/canonical"
	dErrors "contramind/pkg/domain-errors"
	"contramind/pkg/platform/sentinel"
)

// KeyStore persists public key records and the active flag.
type KeyStore interface {
	Register(ctx context.Context, rec models.KeyRecord) error
	Activate(ctx context.Context, kid string, at time.Time) error
	List(ctx context.Context) ([]models.KeyRecord, error)
}

// Signature is a detached ed25519 signature over canonical bundle bytes.
type Signature struct {
	KID       string
	Signature []byte
	PublicKey ed25519.PublicKey
	DigestHex string
}

func (s Signature) B64() string {
	return base64.StdEncoding.EncodeToString(s.Signature)
}

// Attestation is everything the ledger stores for a finalized decision.
type Attestation struct {
	KID          string
	SignatureB64 string
	ProofID      string
	Certificate  string
}

// KeySet is the published verification material.
type KeySet struct {
	Keys      map[string]string `json:"keys"`
	ActiveKID string            `json:"active_kid"`
}

type Service struct {
	master      []byte
	ring        *Keyring
	store       KeyStore
	signTimeout time.Duration
	logger      *slog.Logger
	metrics     *metrics.Metrics
	now         func() time.Time

	// writeMu serializes Rotate and Sync so the key store and the keyring
	// change in the same order on this instance.
	writeMu sync.Mutex
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithSignTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.signTimeout = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// New creates an attestor with an empty keyring. Call Bootstrap before signing.
func New(seed string, store KeyStore, opts ...Option) *Service {
	s := &Service{
		master:      MasterFromSeed(seed),
		ring:        NewKeyring(),
		store:       store,
		signTimeout: 2 * time.Second,
		logger:      slog.Default(),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var tracer = otel.Tracer("contramind/attestor")

// Bootstrap derives the configured keys, publishes their public records and
// settles the active kid. A key store that already names an active kid wins
// over configuration, so a rotation done through the admin API survives a
// restart of an instance with stale configuration.
func (s *Service) Bootstrap(ctx context.Context, activeKID string, retiredKIDs []string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	for _, kid := range append(append([]string{}, retiredKIDs...), activeKID) {
		key, err := DeriveKey(s.master, kid)
		if err != nil {
			return err
		}
		if err := s.register(ctx, key); err != nil {
			return err
		}
	}
	if err := s.syncLocked(ctx); err != nil {
		return err
	}
	if current := s.ring.Active(); current != nil {
		if current.KID != activeKID {
			s.logger.WarnContext(ctx, "key store active kid differs from configuration",
				"store_kid", current.KID,
				"configured_kid", activeKID,
			)
		}
		return nil
	}
	if err := s.store.Activate(ctx, activeKID, s.now().UTC()); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate key")
	}
	if err := s.ring.Activate(activeKID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate key")
	}
	s.logger.InfoContext(ctx, "attestor key activated", "kid", activeKID)
	return nil
}

// register records the public key before the keyring learns it, so a kid the
// store already holds under another key never becomes usable locally.
func (s *Service) register(ctx context.Context, key *Key) error {
	err := s.store.Register(ctx, models.KeyRecord{KID: key.KID, PublicKey: key.PublicB64(), CreatedAt: s.now().UTC()})
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "kid already registered with a different key")
	}
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to register key")
	}
	if _, err := s.ring.Add(key); err != nil {
		return dErrors.Wrap(err, dErrors.CodeConflict, "kid already registered with a different key")
	}
	return nil
}

// Sync adopts keys and the active kid recorded in the key store, picking up
// rotations performed by other instances.
func (s *Service) Sync(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.syncLocked(ctx)
}

func (s *Service) syncLocked(ctx context.Context) error {
	recs, err := s.store.List(ctx)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "key store unavailable")
	}
	for _, rec := range recs {
		if _, ok := s.ring.Lookup(rec.KID); !ok {
			s.adopt(ctx, rec)
		}
		if !rec.Active {
			continue
		}
		if current := s.ring.Active(); current != nil && current.KID == rec.KID {
			continue
		}
		if _, ok := s.ring.Lookup(rec.KID); !ok {
			continue
		}
		if err := s.ring.Activate(rec.KID); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "failed to adopt active key")
		}
		s.metrics.IncrementRotation()
		s.logger.InfoContext(ctx, "adopted active key from key store", "kid", rec.KID)
	}
	return nil
}

// adopt adds a stored key. When the derived public key does not match the
// record the instance runs with a different seed: the key is kept for
// verification only and cannot sign.
func (s *Service) adopt(ctx context.Context, rec models.KeyRecord) {
	pub, err := base64.StdEncoding.DecodeString(rec.PublicKey)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		s.logger.ErrorContext(ctx, "stored public key is malformed", "kid", rec.KID)
		return
	}
	key, err := DeriveKey(s.master, rec.KID)
	if err != nil || key.PublicB64() != rec.PublicKey {
		s.logger.ErrorContext(ctx, "stored key does not match the local seed; keeping it for verification only",
			"kid", rec.KID)
		key = &Key{KID: rec.KID, Public: ed25519.PublicKey(pub)}
	}
	if _, err := s.ring.Add(key); err != nil {
		s.logger.ErrorContext(ctx, "failed to add stored key", "kid", rec.KID, "error", err)
	}
}

// Rotate appends kid, records it and makes it the active signing key.
// Certificates issued under earlier kids stay verifiable.
func (s *Service) Rotate(ctx context.Context, kid string) (KeySet, error) {
	key, err := DeriveKey(s.master, kid)
	if err != nil {
		return KeySet{}, err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if err := s.register(ctx, key); err != nil {
		return KeySet{}, err
	}
	previous := ""
	if current := s.ring.Active(); current != nil {
		previous = current.KID
	}
	if err := s.store.Activate(ctx, kid, s.now().UTC()); err != nil {
		return KeySet{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate key")
	}
	if err := s.ring.Activate(kid); err != nil {
		return KeySet{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to activate key")
	}
	if previous != kid {
		s.metrics.IncrementRotation()
	}
	s.logger.InfoContext(ctx, "attestor key rotated", "kid", kid, "previous_kid", previous)
	return s.Keys(), nil
}

// signingKey reads the active key once. Everything produced for one request
// uses the returned key even if a rotation lands meanwhile.
func (s *Service) signingKey() (*Key, error) {
	key := s.ring.Active()
	if key == nil || !key.canSign() {
		s.metrics.IncrementSignFailure("no_active_key")
		return nil, dErrors.New(dErrors.CodeSigningUnavailable, "no active signing key")
	}
	return key, nil
}

func (s *Service) checkDeadline(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		s.metrics.IncrementSignFailure("timeout")
		return dErrors.Wrap(err, dErrors.CodeSigningUnavailable, "signing timed out")
	}
	return nil
}

// Sign returns the active key's ed25519 signature over canonical bundle bytes.
func (s *Service) Sign(ctx context.Context, canonicalBundle []byte) (Signature, error) {
	ctx, cancel := context.WithTimeout(ctx, s.signTimeout)
	defer cancel()

	key, err := s.signingKey()
	if err != nil {
		return Signature{}, err
	}
	if err := s.checkDeadline(ctx); err != nil {
		return Signature{}, err
	}
	sig := ed25519.Sign(key.private, canonicalBundle)
	if err := s.checkDeadline(ctx); err != nil {
		return Signature{}, err
	}
	s.metrics.IncrementSignature(key.KID)
	return Signature{
		KID:       key.KID,
		Signature: sig,
		PublicKey: key.Public,
		DigestHex: canonical.DigestHex(canonicalBundle),
	}, nil
}

// Certify wraps claims in a compact JWS signed by the active key.
func (s *Service) Certify(ctx context.Context, claims proof.Claims) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.signTimeout)
	defer cancel()

	key, err := s.signingKey()
	if err != nil {
		return "", err
	}
	if err := s.checkDeadline(ctx); err != nil {
		return "", err
	}
	return certify(key, claims)
}

func certify(key *Key, claims proof.Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = key.KID
	signed, err := token.SignedString(key.private)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeSigningUnavailable, "failed to sign certificate")
	}
	return signed, nil
}

// Attest signs the bundle, derives its proof id and issues the certificate,
// all under one read of the active key.
func (s *Service) Attest(ctx context.Context, bundle proof.Bundle) (Attestation, error) {
	ctx, span := tracer.Start(ctx, "attestor.Attest")
	defer span.End()
	start := s.now()

	ctx, cancel := context.WithTimeout(ctx, s.signTimeout)
	defer cancel()

	att, err := s.attest(ctx, bundle)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "attest failed")
		return Attestation{}, err
	}
	span.SetAttributes(attribute.String("kid", att.KID), attribute.String("proof_id", att.ProofID))
	s.metrics.ObserveSignLatency(s.now().Sub(start))
	return att, nil
}

func (s *Service) attest(ctx context.Context, bundle proof.Bundle) (Attestation, error) {
	key, err := s.signingKey()
	if err != nil {
		return Attestation{}, err
	}
	canon, err := bundle.Canonical()
	if err != nil {
		return Attestation{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to canonicalize bundle")
	}
	if err := s.checkDeadline(ctx); err != nil {
		return Attestation{}, err
	}
	sig := ed25519.Sign(key.private, canon)
	sigB64 := base64.StdEncoding.EncodeToString(sig)
	proofID := proof.ProofIDFromB64(canon, sigB64)

	cert, err := certify(key, proof.NewClaims(bundle, proofID, sigB64))
	if err != nil {
		return Attestation{}, err
	}
	if err := s.checkDeadline(ctx); err != nil {
		return Attestation{}, err
	}
	s.metrics.IncrementSignature(key.KID)
	return Attestation{KID: key.KID, SignatureB64: sigB64, ProofID: proofID, Certificate: cert}, nil
}

// Verifier snapshots the current key set into an offline verifier.
func (s *Service) Verifier() *Verifier {
	return NewVerifier(s.ring.Public())
}

// Verify validates a certificate against every known key, retired ones included.
// An unknown kid triggers one key store sync in case another instance rotated.
func (s *Service) Verify(ctx context.Context, certificate string) (*proof.Claims, error) {
	claims, err := s.Verifier().Verify(certificate)
	if errors.Is(err, ErrUnknownKID) {
		if syncErr := s.Sync(ctx); syncErr == nil {
			claims, err = s.Verifier().Verify(certificate)
		}
	}
	if err != nil {
		var de *dErrors.Error
		reason := "error"
		if errors.As(err, &de) {
			reason = de.Message
		}
		s.metrics.IncrementVerification(reason)
		s.logger.InfoContext(ctx, "certificate rejected", "reason", reason)
		return nil, err
	}
	s.metrics.IncrementVerification("valid")
	return claims, nil
}

func (s *Service) VerifyBundle(canonicalBundle, signature []byte, kid string) bool {
	return s.Verifier().VerifyBundle(canonicalBundle, signature, kid)
}

// Keys returns every public key and the active kid.
func (s *Service) Keys() KeySet {
	set := KeySet{Keys: make(map[string]string)}
	for kid, pub := range s.ring.Public() {
		set.Keys[kid] = base64.StdEncoding.EncodeToString(pub)
	}
	if active := s.ring.Active(); active != nil {
		set.ActiveKID = active.KID
	}
	return set
}

// ActiveKey returns the active kid and its public key.
func (s *Service) ActiveKey() (string, ed25519.PublicKey, error) {
	active := s.ring.Active()
	if active == nil {
		return "", nil, dErrors.New(dErrors.CodeSigningUnavailable, "no active signing key")
	}
	return active.KID, active.Public, nil
}
