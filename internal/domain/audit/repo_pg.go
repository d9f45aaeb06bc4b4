package audit

import (
	"context"
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

const entryCols = `sequence, partition, actor, patient_id, resource_type,
	outcome, matched_consent_id, reason, justification, review_required, recorded`

func scanEntry(row pgx.Row) (*Entry, error) {
	var e Entry
	err := row.Scan(
		&e.Sequence, &e.Partition, &e.Actor, &e.PatientID, &e.ResourceType,
		&e.Outcome, &e.MatchedConsentID, &e.Reason, &e.Justification, &e.ReviewRequired, &e.Recorded,
	)
	return &e, err
}

// Append allocates the next sequence number for the partition under a row
// lock and inserts the entry in the same transaction. A BIGSERIAL would leak
// gaps on rollback; the counter row keeps sequences gap-free.
func (r *RepoPG) Append(ctx context.Context, e *Entry) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var seq int64
	err = tx.QueryRow(ctx, `
		INSERT INTO audit_partition (partition, last_sequence)
		VALUES ($1, 1)
		ON CONFLICT (partition)
		DO UPDATE SET last_sequence = audit_partition.last_sequence + 1
		RETURNING last_sequence`, e.Partition).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("%w: allocate sequence: %v", ErrUnavailable, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO audit_entry
			(sequence, partition, actor, patient_id, resource_type, outcome,
			 matched_consent_id, reason, justification, review_required, recorded)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		seq, e.Partition, e.Actor, e.PatientID, e.ResourceType, e.Outcome,
		e.MatchedConsentID, e.Reason, e.Justification, e.ReviewRequired, e.Recorded,
	)
	if err != nil {
		return 0, fmt.Errorf("%w: insert entry: %v", ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("%w: commit: %v", ErrUnavailable, err)
	}

	e.Sequence = seq
	return seq, nil
}

func (r *RepoPG) QueryByPatient(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Entry, error) {
	q := fmt.Sprintf(`SELECT %s FROM audit_entry WHERE patient_id = $1`, entryCols)
	args := []interface{}{patientID}
	idx := 2
	if !from.IsZero() {
		q += fmt.Sprintf(" AND recorded >= $%d", idx)
		args = append(args, from)
		idx++
	}
	if !to.IsZero() {
		q += fmt.Sprintf(" AND recorded <= $%d", idx)
		args = append(args, to)
	}
	q += " ORDER BY partition, sequence ASC"

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *RepoPG) List(ctx context.Context, partition string, reviewOnly bool, limit, offset int) ([]*Entry, int, error) {
	where := "WHERE partition = $1"
	args := []interface{}{partition}
	if reviewOnly {
		where += " AND review_required"
	}

	var total int
	if err := r.pool.QueryRow(ctx,
		fmt.Sprintf("SELECT COUNT(*) FROM audit_entry %s", where), args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	q := fmt.Sprintf(`SELECT %s FROM audit_entry %s ORDER BY sequence ASC LIMIT $2 OFFSET $3`,
		entryCols, where)
	args = append(args, limit, offset)

	rows, err := r.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, e)
	}
	return items, total, rows.Err()
}
