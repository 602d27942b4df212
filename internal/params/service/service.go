package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/shopspring/decimal"

	"contramind/internal/params/models"
	"contramind/internal/params/store"
	dErrors "contramind/pkg/domain-errors"
	"contramind/pkg/platform/sentinel"
	"contramind/pkg/requestcontext"
)

// Store is the persistence port for policy parameters.
type Store interface {
	Load(ctx context.Context) (store.Contents, error)
	SetThreshold(ctx context.Context, key string, value decimal.Decimal) error
	DeleteThreshold(ctx context.Context, key string) error
	AddCountry(ctx context.Context, country string) error
	RemoveCountry(ctx context.Context, country string) error
	SeedIfEmpty(ctx context.Context, contents store.Contents) (bool, error)
}

// Service reads snapshots for the decision path and applies operator changes.
type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func New(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Current returns a fresh snapshot. It fails with a configuration error when the
// mandatory amount_max threshold is absent; the value is never defaulted.
func (s *Service) Current(ctx context.Context) (models.Snapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	if _, err := snap.AmountMax(); err != nil {
		return models.Snapshot{}, err
	}
	return snap, nil
}

// Snapshot returns the stored parameters without the amount_max check, for the
// admin view.
func (s *Service) Snapshot(ctx context.Context) (models.Snapshot, error) {
	contents, err := s.store.Load(ctx)
	if err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeUnavailable, "parameter store unavailable")
	}
	return models.NewSnapshot(contents.Thresholds, contents.Allowlist), nil
}

func (s *Service) SetThreshold(ctx context.Context, key string, value decimal.Decimal) (models.Snapshot, error) {
	if err := models.ValidateThresholdKey(key); err != nil {
		return models.Snapshot{}, err
	}
	if err := s.store.SetThreshold(ctx, key, value); err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to set threshold")
	}
	return s.changed(ctx, "threshold_set", "key", key, "value", value.String())
}

func (s *Service) DeleteThreshold(ctx context.Context, key string) (models.Snapshot, error) {
	if err := models.ValidateThresholdKey(key); err != nil {
		return models.Snapshot{}, err
	}
	if err := s.store.DeleteThreshold(ctx, key); err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return models.Snapshot{}, dErrors.New(dErrors.CodeNotFound, "threshold not found")
		}
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to delete threshold")
	}
	return s.changed(ctx, "threshold_deleted", "key", key)
}

func (s *Service) AddCountry(ctx context.Context, country string) (models.Snapshot, error) {
	c, err := models.NormalizeCountry(country)
	if err != nil {
		return models.Snapshot{}, err
	}
	if err := s.store.AddCountry(ctx, c); err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to add country")
	}
	return s.changed(ctx, "country_added", "country", c)
}

func (s *Service) RemoveCountry(ctx context.Context, country string) (models.Snapshot, error) {
	c, err := models.NormalizeCountry(country)
	if err != nil {
		return models.Snapshot{}, err
	}
	if err := s.store.RemoveCountry(ctx, c); err != nil {
		return models.Snapshot{}, dErrors.Wrap(err, dErrors.CodeInternal, "failed to remove country")
	}
	return s.changed(ctx, "country_removed", "country", c)
}

// Seed stores the given parameters if the store holds none yet.
func (s *Service) Seed(ctx context.Context, contents store.Contents) error {
	for key := range contents.Thresholds {
		if err := models.ValidateThresholdKey(key); err != nil {
			return dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid seed threshold "+key)
		}
	}
	countries := make([]string, 0, len(contents.Allowlist))
	for _, c := range contents.Allowlist {
		n, err := models.NormalizeCountry(c)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeConfiguration, "invalid seed country "+c)
		}
		countries = append(countries, n)
	}
	contents.Allowlist = countries

	seeded, err := s.store.SeedIfEmpty(ctx, contents)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to seed parameters")
	}
	if seeded {
		snap := models.NewSnapshot(contents.Thresholds, contents.Allowlist)
		s.logger.InfoContext(ctx, "policy parameters seeded", "param_hash", snap.Hash())
	}
	return nil
}

func (s *Service) changed(ctx context.Context, event string, attrs ...any) (models.Snapshot, error) {
	snap, err := s.Snapshot(ctx)
	if err != nil {
		return models.Snapshot{}, err
	}
	attrs = append(attrs,
		"event", event,
		"param_hash", snap.Hash(),
		"request_id", requestcontext.RequestID(ctx),
	)
	s.logger.InfoContext(ctx, "policy parameters changed", attrs...)
	return snap, nil
}
