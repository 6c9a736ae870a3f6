package audit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type PendingStore interface {
	FetchPending(ctx context.Context, limit int) ([]Event, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}

// Relay moves unpublished events from the store to a broker, oldest first.
type Relay struct {
	store    PendingStore
	pub      Publisher
	interval time.Duration
	batch    int
	now      func() time.Time
}

func NewRelay(store PendingStore, pub Publisher, interval time.Duration, batch int) *Relay {
	if batch <= 0 {
		batch = 100
	}
	return &Relay{
		store:    store,
		pub:      pub,
		interval: interval,
		batch:    batch,
		now:      time.Now,
	}
}

// Run flushes on every tick until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	log.Info().Dur("interval", r.interval).Int("batch", r.batch).Msg("relay: started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("relay: stopped")
			return
		case <-ticker.C:
			n, err := r.Flush(ctx)
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Int("published", n).Msg("relay: flush failed")
				continue
			}
			if n > 0 {
				log.Debug().Int("published", n).Msg("relay: events published")
			}
		}
	}
}

// Flush publishes one batch. It stops at the first publish failure so that
// later events are not delivered ahead of an earlier one.
func (r *Relay) Flush(ctx context.Context) (int, error) {
	events, err := r.store.FetchPending(ctx, r.batch)
	if err != nil {
		return 0, err
	}

	published := make([]uuid.UUID, 0, len(events))
	var pubErr error
	for _, e := range events {
		if err := r.pub.Publish(ctx, e); err != nil {
			pubErr = fmt.Errorf("relay: event %s (%s): %w", e.ID, e.Type, err)
			break
		}
		published = append(published, e.ID)
	}

	if err := r.store.MarkPublished(ctx, published, r.now()); err != nil {
		return 0, errors.Join(pubErr, err)
	}

	return len(published), pubErr
}
