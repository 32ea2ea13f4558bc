package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/emergency-dispatch/internal/config"
	"github.com/hackgods/emergency-dispatch/internal/db"
	"github.com/hackgods/emergency-dispatch/internal/logging"
)

var specialties = []string{
	"Cardiology",
	"General Practice",
	"Pediatrics",
	"Neurology",
	"Orthopedics",
	"Psychiatry",
	"Dermatology",
	"Pulmonology",
}

func main() {
	logger := logging.New("seed", os.Getenv("APP_ENV"))

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		logger.Fatal().Msg("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	if _, err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal().Err(err).Msg("migrate")
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))

	if err := seedDoctors(ctx, pool, faker, countFromEnv("SEED_DOCTORS", 100), logger); err != nil {
		logger.Fatal().Err(err).Msg("seed doctors")
	}
	if err := seedPatients(ctx, pool, faker, countFromEnv("SEED_PATIENTS", 2000), logger); err != nil {
		logger.Fatal().Err(err).Msg("seed patients")
	}

	logger.Info().Msg("seed complete")
}

func countFromEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// seedDoctors inserts verified doctor profiles with weekday working hours.
// About one in ten is left unverified so eligibility filtering has
// something to reject.
func seedDoctors(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for i := 0; i < count; i++ {
		id := uuid.New()
		name := "Dr. " + faker.Name()
		specialty := specialties[faker.Number(0, len(specialties)-1)]
		price := int64(faker.Number(80, 400)) * 100
		verified := faker.Number(1, 10) > 1

		_, err := tx.Exec(ctx, `
			INSERT INTO doctor_profiles (user_id, name, specialty, emergency_price_cents, verified, active, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, true, now(), now())
		`, id, name, specialty, price, verified)
		if err != nil {
			return fmt.Errorf("insert doctor: %w", err)
		}

		start := faker.Number(6, 10) * 60
		end := start + faker.Number(6, 10)*60
		for weekday := 1; weekday <= 5; weekday++ {
			_, err := tx.Exec(ctx, `
				INSERT INTO doctor_working_hours (doctor_user_id, weekday, start_minute, end_minute, timezone)
				VALUES ($1, $2, $3, $4, 'UTC')
			`, id, weekday, start, min(end, 1440))
			if err != nil {
				return fmt.Errorf("insert working hours: %w", err)
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	logger.Info().Msg("doctors seeded")
	return nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, faker *gofakeit.Faker, count int, logger zerolog.Logger) error {
	logger.Info().Int("count", count).Msg("seeding patients")

	plans := []string{config.PlanBasic, config.PlanBasic, config.PlanBasic, config.PlanPremium}
	rows := make([][]any, 0, count)
	now := time.Now()
	for i := 0; i < count; i++ {
		rows = append(rows, []any{
			uuid.New(),
			faker.Name(),
			faker.Email(),
			plans[faker.Number(0, len(plans)-1)],
			now,
			now,
		})
	}

	n, err := pool.CopyFrom(ctx,
		pgx.Identifier{"patients"},
		[]string{"id", "name", "email", "plan", "created_at", "updated_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("copy patients: %w", err)
	}

	logger.Info().Int64("rows", n).Msg("patients seeded")
	return nil
}
