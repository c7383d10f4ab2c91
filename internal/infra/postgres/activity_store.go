package postgres

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"school-session-agent/internal/domain"
)

// ActivityStore loads activity JSONB from Postgres.
type ActivityStore struct {
	pool *pgxpool.Pool
}

func NewActivityStore(pool *pgxpool.Pool) *ActivityStore {
	return &ActivityStore{pool: pool}
}

func (s *ActivityStore) LoadActivity(ctx context.Context, activityID string) (domain.Activity, error) {
	var raw []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM activities WHERE id=$1`, activityID).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Activity{}, domain.ErrActivityNotFound
	}
	if err != nil {
		return domain.Activity{}, errors.Wrap(err, "load activity")
	}
	var act domain.Activity
	if err := json.Unmarshal(raw, &act); err != nil {
		return domain.Activity{}, errors.Wrap(err, "unmarshal activity")
	}
	return act, nil
}

// SaveActivity inserts or replaces an activity definition.
func (s *ActivityStore) SaveActivity(ctx context.Context, act domain.Activity) error {
	raw, err := json.Marshal(act)
	if err != nil {
		return errors.Wrap(err, "marshal activity")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO activities (id, kind, data) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, data = EXCLUDED.data, updated_at = now()`,
		act.ID, string(act.Kind), raw)
	return errors.Wrap(err, "save activity")
}
