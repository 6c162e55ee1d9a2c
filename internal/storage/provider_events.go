package storage

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/metisconnect/metis-backend/libs/db"
)

// ErrDuplicateProviderEvent marks a replayed provider webhook event.
var ErrDuplicateProviderEvent = errors.New("provider event already recorded")

type ProviderEvent struct {
	Provider        string
	ProviderEventID string
	EventType       string
	Payload         []byte
}

type ProviderEventRepository struct {
	pool *db.Pool
}

func NewProviderEventRepository(pool *db.Pool) *ProviderEventRepository {
	return &ProviderEventRepository{pool: pool}
}

func (r *ProviderEventRepository) Insert(ctx context.Context, tx pgx.Tx, evt ProviderEvent) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO provider_events (provider, provider_event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
	`, evt.Provider, evt.ProviderEventID, evt.EventType, evt.Payload)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateProviderEvent
		}
		return err
	}
	return nil
}
