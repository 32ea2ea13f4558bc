package consultation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const consultationColumns = `id, queue_item_id, doctor_user_id, patient_user_id, status, room_name,
	video_url, livekit_url, started_at, created_at, updated_at`

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanConsultation(row pgx.Row) (*Consultation, error) {
	var c Consultation

	err := row.Scan(
		&c.ID,
		&c.QueueItemID,
		&c.DoctorID,
		&c.PatientID,
		&c.Status,
		&c.RoomName,
		&c.VideoURL,
		&c.LiveKitURL,
		&c.StartedAt,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConsultationNotFound
		}
		return nil, err
	}

	return &c, nil
}

func (r *PgRepository) CreateOrGet(ctx context.Context, c *Consultation) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO consultations (id, queue_item_id, doctor_user_id, patient_user_id, status,
			room_name, video_url, livekit_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		ON CONFLICT (queue_item_id) DO NOTHING
		RETURNING `+consultationColumns,
		c.ID, c.QueueItemID, c.DoctorID, c.PatientID, c.Status, c.RoomName, c.VideoURL, c.LiveKitURL, c.CreatedAt)
	created, err := scanConsultation(row)
	if err == nil {
		return created, nil
	}
	if !errors.Is(err, ErrConsultationNotFound) {
		return nil, fmt.Errorf("insert consultation: %w", err)
	}
	return r.GetByQueueItem(ctx, c.QueueItemID)
}

func (r *PgRepository) MarkInProgress(ctx context.Context, id uuid.UUID, at time.Time) (*Consultation, bool, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE consultations
		SET status = 'in_progress',
		    started_at = $2,
		    updated_at = $2
		WHERE id = $1
		  AND status = 'scheduled'
		RETURNING `+consultationColumns,
		id, at)
	c, err := scanConsultation(row)
	if err == nil {
		return c, true, nil
	}
	if !errors.Is(err, ErrConsultationNotFound) {
		return nil, false, fmt.Errorf("start consultation: %w", err)
	}

	row = r.pool.QueryRow(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE id = $1
	`, id)
	c, err = scanConsultation(row)
	return c, false, err
}

func (r *PgRepository) GetByQueueItem(ctx context.Context, queueItemID uuid.UUID) (*Consultation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+consultationColumns+`
		FROM consultations
		WHERE queue_item_id = $1
	`, queueItemID)
	return scanConsultation(row)
}
