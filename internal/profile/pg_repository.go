package profile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	err := row.Scan(
		&d.UserID,
		&d.Name,
		&d.Specialty,
		&d.EmergencyPriceCents,
		&d.Verified,
		&d.Active,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT user_id, name, specialty, emergency_price_cents, verified, active
		FROM doctor_profiles
		WHERE user_id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) DoctorsByIDs(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Doctor, error) {
	out := make(map[uuid.UUID]Doctor, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.pool.Query(ctx, `
		SELECT user_id, name, specialty, emergency_price_cents, verified, active
		FROM doctor_profiles
		WHERE user_id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query doctors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d, err := scanDoctor(rows)
		if err != nil {
			return nil, err
		}
		out[d.UserID] = *d
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *PgRepository) WithinWorkingHours(ctx context.Context, doctorID uuid.UUID, at time.Time) (bool, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_user_id, weekday, start_minute, end_minute, timezone
		FROM doctor_working_hours
		WHERE doctor_user_id = $1
	`, doctorID)
	if err != nil {
		return false, fmt.Errorf("query working hours: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var w WorkingHours
		var weekday int16
		if err := rows.Scan(&w.DoctorID, &weekday, &w.StartMinute, &w.EndMinute, &w.Timezone); err != nil {
			return false, err
		}
		w.Weekday = time.Weekday(weekday)
		if w.Contains(at) {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	var a Appointment
	err := r.pool.QueryRow(ctx, `
		SELECT id, doctor_user_id, patient_user_id, scheduled_at, status, created_at
		FROM appointments
		WHERE id = $1
	`, id).Scan(&a.ID, &a.DoctorID, &a.PatientID, &a.ScheduledAt, &a.Status, &a.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}
