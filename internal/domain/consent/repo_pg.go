package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RepoPG struct {
	pool *pgxpool.Pool
}

func NewRepoPG(pool *pgxpool.Pool) *RepoPG {
	return &RepoPG{pool: pool}
}

const artefactCols = `id, patient_id, grantee_id, data_types, purpose,
	granted_at, expires_at, status, revoked_at, revoked_by, created_at`

func scanArtefact(row pgx.Row) (*Artefact, error) {
	var a Artefact
	var revokedBy *string
	err := row.Scan(
		&a.ID, &a.PatientID, &a.GranteeID, &a.DataTypes, &a.Purpose,
		&a.GrantedAt, &a.ExpiresAt, &a.Status, &a.RevokedAt, &revokedBy, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if revokedBy != nil {
		a.RevokedBy = *revokedBy
	}
	return &a, nil
}

func (r *RepoPG) Create(ctx context.Context, a *Artefact) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO consent_artefact
			(id, patient_id, grantee_id, data_types, purpose, granted_at, expires_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.PatientID, a.GranteeID, a.DataTypes, a.Purpose,
		a.GrantedAt, a.ExpiresAt, a.Status, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert consent artefact: %w", err)
	}
	return nil
}

func (r *RepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Artefact, error) {
	q := fmt.Sprintf("SELECT %s FROM consent_artefact WHERE id = $1", artefactCols)
	a, err := scanArtefact(r.pool.QueryRow(ctx, q, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return a, err
}

func (r *RepoPG) ListByPatientGrantee(ctx context.Context, patientID uuid.UUID, granteeID string) ([]*Artefact, error) {
	q := fmt.Sprintf(`SELECT %s FROM consent_artefact
		WHERE patient_id = $1 AND grantee_id = $2
		ORDER BY granted_at DESC, created_at DESC`, artefactCols)
	rows, err := r.pool.Query(ctx, q, patientID, granteeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Artefact
	for rows.Next() {
		a, err := scanArtefact(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}

func (r *RepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Artefact, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM consent_artefact WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM consent_artefact
		WHERE patient_id = $1
		ORDER BY granted_at DESC LIMIT $2 OFFSET $3`, artefactCols)
	rows, err := r.pool.Query(ctx, q, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Artefact
	for rows.Next() {
		a, err := scanArtefact(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

func (r *RepoPG) MarkRevoked(ctx context.Context, id uuid.UUID, actor string, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE consent_artefact
		SET status = $2, revoked_at = $3, revoked_by = $4
		WHERE id = $1 AND status <> $2`,
		id, StatusRevoked, at, actor,
	)
	if err != nil {
		return fmt.Errorf("revoke consent artefact: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either unknown or already revoked; distinguish for the caller.
		var exists bool
		if err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM consent_artefact WHERE id = $1)`, id).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}
