package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const itemColumns = `id, status, entry_type, doctor_user_id, patient_user_id, appointment_id, reason,
	payment_status, queued_at, expires_at, accepted_at, accepted_by, rejected_at, rejected_by,
	cancelled_at, cancelled_by, payment_expires_at, closed_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanItem(row pgx.Row) (*Item, error) {
	var i Item

	err := row.Scan(
		&i.ID,
		&i.Status,
		&i.EntryType,
		&i.DoctorID,
		&i.PatientID,
		&i.AppointmentID,
		&i.Reason,
		&i.PaymentStatus,
		&i.QueuedAt,
		&i.ExpiresAt,
		&i.AcceptedAt,
		&i.AcceptedBy,
		&i.RejectedAt,
		&i.RejectedBy,
		&i.CancelledAt,
		&i.CancelledBy,
		&i.PaymentExpiresAt,
		&i.ClosedAt,
		&i.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrItemNotFound
		}
		return nil, err
	}

	return &i, nil
}

// scanTransition reads the RETURNING row of a guarded update.
func scanTransition(row pgx.Row) (*Item, error) {
	item, err := scanItem(row)
	if errors.Is(err, ErrItemNotFound) {
		return nil, ErrStateChanged
	}
	return item, err
}

func (r *PgRepository) CreateItems(ctx context.Context, items []Item) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, i := range items {
		batch.Queue(`
			INSERT INTO queue_items (id, status, entry_type, doctor_user_id, patient_user_id,
				appointment_id, reason, payment_status, queued_at, expires_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $9)
		`, i.ID, i.Status, i.EntryType, i.DoctorID, i.PatientID, i.AppointmentID, i.Reason,
			i.PaymentStatus, i.QueuedAt, i.ExpiresAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert queue items: %w", err)
	}

	return tx.Commit(ctx)
}

func (r *PgRepository) GetItem(ctx context.Context, id uuid.UUID) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE id = $1
	`, id)
	return scanItem(row)
}

func (r *PgRepository) List(ctx context.Context, scope Scope, limit, offset int) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+itemColumns+`
		FROM queue_items
		WHERE ($1::uuid IS NULL OR doctor_user_id = $1)
		  AND ($2::uuid IS NULL OR patient_user_id = $2)
		ORDER BY queued_at DESC, id
		LIMIT $3 OFFSET $4
	`, scope.DoctorID, scope.PatientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Item
	for rows.Next() {
		i, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *i)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) HasOpenEmergency(ctx context.Context, patientID uuid.UUID, doctorIDs []uuid.UUID) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM queue_items
			WHERE patient_user_id = $1
			  AND doctor_user_id = ANY($2::uuid[])
			  AND entry_type = 'emergency'
			  AND status IN ('queued', 'accepted')
			  AND closed_at IS NULL
		)
	`, patientID, doctorIDs).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check open emergency: %w", err)
	}
	return exists, nil
}

func (r *PgRepository) Accept(ctx context.Context, id uuid.UUID, p AcceptParams) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE queue_items
		SET status = 'accepted',
		    accepted_at = $2,
		    accepted_by = $3,
		    payment_status = 'pending',
		    payment_expires_at = $4,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'queued'
		  AND entry_type = 'emergency'
		  AND payment_status = 'not_started'
		  AND expires_at >= $2
		RETURNING `+itemColumns,
		id, p.At, p.DoctorID, p.PaymentExpiresAt)
	return scanTransition(row)
}

func (r *PgRepository) Reject(ctx context.Context, id, by uuid.UUID, at time.Time) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE queue_items
		SET status = 'rejected',
		    rejected_at = $2,
		    rejected_by = $3,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'queued'
		RETURNING `+itemColumns,
		id, at, by)
	return scanTransition(row)
}

func (r *PgRepository) Cancel(ctx context.Context, id, by uuid.UUID, at time.Time) (*Item, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE queue_items
		SET status = 'cancelled',
		    cancelled_at = $2,
		    cancelled_by = $3,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'queued'
		RETURNING `+itemColumns,
		id, at, by)
	return scanTransition(row)
}

func (r *PgRepository) CancelQueued(ctx context.Context, ids []uuid.UUID, at time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE queue_items
		SET status = 'cancelled',
		    cancelled_at = $2,
		    updated_at = $2
		WHERE id = ANY($1::uuid[])
		  AND status = 'queued'
		RETURNING id
	`, ids, at)
	if err != nil {
		return nil, fmt.Errorf("cancel queued: %w", err)
	}
	return pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
}

func (r *PgRepository) MarkClosed(ctx context.Context, id uuid.UUID, at time.Time) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET closed_at = $2,
		    updated_at = $2
		WHERE id = $1
		  AND closed_at IS NULL
	`, id, at)
	if err != nil {
		return fmt.Errorf("close queue item: %w", err)
	}
	return nil
}

func (r *PgRepository) ExpireItem(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = 'expired',
		    updated_at = $2
		WHERE id = $1
		  AND status = 'queued'
		  AND closed_at IS NULL
		  AND expires_at < $2
	`, id, now)
	if err != nil {
		return false, fmt.Errorf("expire queue item: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ExpirePayment lapses the queue item's payment window together with the
// pending payment row attached to it.
func (r *PgRepository) ExpirePayment(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	var n int64
	err := r.pool.QueryRow(ctx, `
		WITH lapsed AS (
			UPDATE queue_items
			SET payment_status = 'expired',
			    updated_at = $2
			WHERE id = $1
			  AND payment_status = 'pending'
			  AND payment_expires_at < $2
			RETURNING id
		), expired_payments AS (
			UPDATE payments
			SET status = 'expired',
			    updated_at = $2
			WHERE queue_item_id IN (SELECT id FROM lapsed)
			  AND status = 'pending'
		)
		SELECT count(*) FROM lapsed
	`, id, now).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("expire payment window: %w", err)
	}
	return n == 1, nil
}

func (r *PgRepository) SweepExpired(ctx context.Context, scope Scope, now time.Time) (SweepResult, error) {
	var res SweepResult

	tag, err := r.pool.Exec(ctx, `
		UPDATE queue_items
		SET status = 'expired',
		    updated_at = $1
		WHERE status = 'queued'
		  AND closed_at IS NULL
		  AND expires_at < $1
		  AND ($2::uuid IS NULL OR doctor_user_id = $2)
		  AND ($3::uuid IS NULL OR patient_user_id = $3)
	`, now, scope.DoctorID, scope.PatientID)
	if err != nil {
		return res, fmt.Errorf("sweep queue expiry: %w", err)
	}
	res.Items = tag.RowsAffected()

	err = r.pool.QueryRow(ctx, `
		WITH lapsed AS (
			UPDATE queue_items
			SET payment_status = 'expired',
			    updated_at = $1
			WHERE payment_status = 'pending'
			  AND payment_expires_at < $1
			  AND ($2::uuid IS NULL OR doctor_user_id = $2)
			  AND ($3::uuid IS NULL OR patient_user_id = $3)
			RETURNING id
		), expired_payments AS (
			UPDATE payments
			SET status = 'expired',
			    updated_at = $1
			WHERE queue_item_id IN (SELECT id FROM lapsed)
			  AND status = 'pending'
		)
		SELECT count(*) FROM lapsed
	`, now, scope.DoctorID, scope.PatientID).Scan(&res.Payments)
	if err != nil {
		return res, fmt.Errorf("sweep payment expiry: %w", err)
	}

	return res, nil
}
