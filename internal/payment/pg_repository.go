package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `id, status, kind, patient_user_id, queue_item_id, appointment_id, amount_cents,
	currency, expires_at, idempotency_key, provider_preference_id, checkout_url, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanPayment(row pgx.Row) (*Payment, error) {
	var p Payment

	err := row.Scan(
		&p.ID,
		&p.Status,
		&p.Kind,
		&p.PatientID,
		&p.QueueItemID,
		&p.AppointmentID,
		&p.AmountCents,
		&p.Currency,
		&p.ExpiresAt,
		&p.IdempotencyKey,
		&p.ProviderPreferenceID,
		&p.CheckoutURL,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaymentNotFound
		}
		return nil, err
	}

	return &p, nil
}

func (r *PgRepository) FindByIdempotencyKey(ctx context.Context, patientID uuid.UUID, kind Kind, key string) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE patient_user_id = $1
		  AND kind = $2
		  AND idempotency_key = $3
	`, patientID, kind, key)
	return scanPayment(row)
}

func (r *PgRepository) FindOpenForQueueItem(ctx context.Context, queueItemID uuid.UUID) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE queue_item_id = $1
		  AND status IN ('pending', 'paid')
		ORDER BY created_at DESC
		LIMIT 1
	`, queueItemID)
	return scanPayment(row)
}

func (r *PgRepository) GetByPreferenceID(ctx context.Context, preferenceID string) (*Payment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE provider_preference_id = $1
	`, preferenceID)
	return scanPayment(row)
}

func (r *PgRepository) CreateForQueueItem(ctx context.Context, p *Payment) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		INSERT INTO payments (id, status, kind, patient_user_id, queue_item_id, appointment_id,
			amount_cents, currency, expires_at, idempotency_key, provider_preference_id, checkout_url,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $13)
		RETURNING `+paymentColumns,
		p.ID, p.Status, p.Kind, p.PatientID, p.QueueItemID, p.AppointmentID, p.AmountCents,
		p.Currency, p.ExpiresAt, p.IdempotencyKey, p.ProviderPreferenceID, p.CheckoutURL, p.CreatedAt)
	stored, err := scanPayment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicate
		}
		return fmt.Errorf("insert payment: %w", err)
	}

	tag, err := tx.Exec(ctx, `
		UPDATE queue_items
		SET payment_expires_at = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'accepted'
		  AND payment_status = 'pending'
	`, p.QueueItemID, p.ExpiresAt, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("update payment window: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return ErrQueueItemNotPayable
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit payment: %w", err)
	}
	*p = *stored
	return nil
}

func (r *PgRepository) ApplyStatus(ctx context.Context, id uuid.UUID, status Status, at time.Time) (*Payment, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `
		UPDATE payments
		SET status = $2,
		    updated_at = $3
		WHERE id = $1
		  AND status = 'pending'
		RETURNING `+paymentColumns,
		id, status, at)
	updated, err := scanPayment(row)
	if err != nil {
		if errors.Is(err, ErrPaymentNotFound) {
			return nil, ErrStatusChanged
		}
		return nil, err
	}

	if updated.QueueItemID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE queue_items
			SET payment_status = $2,
			    updated_at = $3
			WHERE id = $1
			  AND payment_status = 'pending'
		`, *updated.QueueItemID, status, at)
		if err != nil {
			return nil, fmt.Errorf("update queue payment status: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit payment status: %w", err)
	}
	return updated, nil
}
