package directory

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

const participantCols = `id, name, callback_url, secret, capabilities,
	trust_status, consecutive_timeouts, last_seen_at, created_at, updated_at`

func scanParticipant(row pgx.Row) (*Participant, error) {
	var p Participant
	err := row.Scan(
		&p.ID, &p.Name, &p.CallbackURL, &p.Secret, &p.Capabilities,
		&p.TrustStatus, &p.ConsecutiveTimeouts, &p.LastSeenAt, &p.CreatedAt, &p.UpdatedAt,
	)
	return &p, err
}

func (r *RepoPG) Create(ctx context.Context, p *Participant) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO network_participant
			(id, name, callback_url, secret, capabilities, trust_status,
			 consecutive_timeouts, last_seen_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		p.ID, p.Name, p.CallbackURL, p.Secret, p.Capabilities, p.TrustStatus,
		p.ConsecutiveTimeouts, p.LastSeenAt, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func (r *RepoPG) GetByID(ctx context.Context, id string) (*Participant, error) {
	q := fmt.Sprintf(`SELECT %s FROM network_participant WHERE id = $1`, participantCols)
	p, err := scanParticipant(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *RepoPG) List(ctx context.Context, limit, offset int) ([]*Participant, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM network_participant`).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM network_participant ORDER BY name LIMIT $1 OFFSET $2`, participantCols)
	rows, err := r.pool.Query(ctx, q, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, p)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) ListVerifiedByCapability(ctx context.Context, capability string) ([]*Participant, error) {
	q := fmt.Sprintf(`
		SELECT %s FROM network_participant
		WHERE trust_status = $1 AND $2 = ANY(capabilities)
		ORDER BY id`, participantCols)
	rows, err := r.pool.Query(ctx, q, TrustVerified, capability)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, p)
	}
	return items, rows.Err()
}

func (r *RepoPG) UpdateTrustStatus(ctx context.Context, id, status string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE network_participant
		SET trust_status = $2, updated_at = now()
		WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RepoPG) IncrementTimeouts(ctx context.Context, id string) (*Participant, error) {
	q := fmt.Sprintf(`
		UPDATE network_participant
		SET consecutive_timeouts = consecutive_timeouts + 1,
		    updated_at = now()
		WHERE id = $1
		RETURNING %s`, participantCols)
	p, err := scanParticipant(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

func (r *RepoPG) UpdateHealth(ctx context.Context, id string, consecutiveTimeouts int, seenAt *time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE network_participant
		SET consecutive_timeouts = $2,
		    last_seen_at = COALESCE($3, last_seen_at),
		    updated_at = now()
		WHERE id = $1`, id, consecutiveTimeouts, seenAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
