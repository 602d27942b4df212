package anchor

import (
	"context"

	"contramind/internal/anchor/models"
)

// NoopPublisher drops checkpoints. Used when no broker is configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(context.Context, models.Anchor) error {
	return nil
}
