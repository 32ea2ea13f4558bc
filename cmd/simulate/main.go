// Command simulate drives concurrent emergency acceptance races against a
// running API and reports whether every race produced exactly one winner.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/emergency-dispatch/internal/auth"
	"github.com/hackgods/emergency-dispatch/internal/config"
	"github.com/hackgods/emergency-dispatch/internal/db"
	"github.com/hackgods/emergency-dispatch/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Rounds          int
	Concurrency     int
	DoctorsPerRound int
	PostgresDSN     string
	JWTSecret       string
}

type actorToken struct {
	id    uuid.UUID
	token string
}

type Simulator struct {
	config   SimConfig
	client   *http.Client
	doctors  []actorToken
	patients []actorToken
	metrics  Metrics
	logger   zerolog.Logger
}

func main() {
	logger := logging.New("simulate", "dev")

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect postgres")
	}
	defer pool.Close()

	verifier := auth.NewVerifier(cfg.JWTSecret)
	doctors, err := loadActors(ctx, pool, verifier, auth.RoleDoctor, `
		SELECT user_id FROM doctor_profiles WHERE verified AND active LIMIT $1
	`, cfg.DoctorsPerRound*cfg.Concurrency)
	if err != nil {
		logger.Fatal().Err(err).Msg("load doctors")
	}
	patients, err := loadActors(ctx, pool, verifier, auth.RolePatient, `
		SELECT id FROM patients WHERE plan = 'premium' LIMIT $1
	`, cfg.Rounds)
	if err != nil {
		logger.Fatal().Err(err).Msg("load patients")
	}
	if len(doctors) < cfg.DoctorsPerRound || len(patients) == 0 {
		logger.Fatal().Int("doctors", len(doctors)).Int("patients", len(patients)).Msg("not enough seeded actors, run cmd/seed first")
	}

	sim := &Simulator{
		config:   cfg,
		client:   &http.Client{Timeout: 10 * time.Second},
		doctors:  doctors,
		patients: patients,
		logger:   logger,
	}
	sim.Run(context.Background())
	sim.metrics.Print(cfg)
}

func loadConfig() (SimConfig, error) {
	base, err := config.Load()
	if err != nil {
		return SimConfig{}, err
	}

	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Rounds:          getInt("SIM_ROUNDS", 50),
		Concurrency:     getInt("SIM_CONCURRENCY", 4),
		DoctorsPerRound: getInt("SIM_DOCTORS_PER_ROUND", config.MaxEmergencyDoctors),
		PostgresDSN:     base.PostgresDSN,
		JWTSecret:       base.JWTSecret,
	}
	if cfg.Rounds <= 0 || cfg.Concurrency <= 0 {
		return cfg, fmt.Errorf("SIM_ROUNDS and SIM_CONCURRENCY must be > 0")
	}
	if cfg.DoctorsPerRound < 1 || cfg.DoctorsPerRound > config.MaxEmergencyDoctors {
		return cfg, fmt.Errorf("SIM_DOCTORS_PER_ROUND must be between 1 and %d", config.MaxEmergencyDoctors)
	}
	return cfg, nil
}

func loadActors(ctx context.Context, pool *pgxpool.Pool, verifier *auth.Verifier, role auth.Role, query string, limit int) ([]actorToken, error) {
	rows, err := pool.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, err
	}

	out := make([]actorToken, 0, len(ids))
	for _, id := range ids {
		tok, err := verifier.Sign(auth.Actor{UserID: id, Role: role, Plan: config.PlanPremium}, time.Hour)
		if err != nil {
			return nil, err
		}
		out = append(out, actorToken{id: id, token: tok})
	}
	return out, nil
}

// Run plays Rounds races with at most Concurrency in flight. Each concurrent
// lane owns a disjoint set of doctors so lanes never contend on presence.
func (s *Simulator) Run(ctx context.Context) {
	var next int64 = -1
	var wg sync.WaitGroup
	for lane := 0; lane < s.config.Concurrency; lane++ {
		doctors := s.doctors[lane*s.config.DoctorsPerRound:]
		if len(doctors) < s.config.DoctorsPerRound {
			break
		}
		doctors = doctors[:s.config.DoctorsPerRound]

		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				round := int(atomic.AddInt64(&next, 1))
				if round >= s.config.Rounds {
					return
				}
				patient := s.patients[round%len(s.patients)]
				if err := s.race(ctx, patient, doctors); err != nil {
					s.logger.Warn().Err(err).Int("round", round).Msg("race aborted")
				}
			}
		}()
	}
	wg.Wait()
}

type emergencyResponse struct {
	Items []struct {
		ID       uuid.UUID `json:"id"`
		DoctorID uuid.UUID `json:"doctorId"`
	} `json:"items"`
}

type itemResponse struct {
	Status string `json:"status"`
}

func (s *Simulator) race(ctx context.Context, patient actorToken, doctors []actorToken) error {
	lat, lng := -23.55, -46.63

	ids := make([]string, 0, len(doctors))
	for _, d := range doctors {
		status, _, err := s.call(ctx, &s.metrics.GoOnline, http.MethodPost, "/doctors/me/geo/online", d.token,
			map[string]float64{"latitude": lat, "longitude": lng})
		if err != nil || status != http.StatusOK {
			return fmt.Errorf("doctor %s online: status=%d err=%v", d.id, status, err)
		}
		ids = append(ids, d.id.String())
	}
	defer func() {
		for _, d := range doctors {
			_, _, _ = s.call(ctx, nil, http.MethodPost, "/doctors/me/geo/offline", d.token, nil)
		}
	}()

	status, body, err := s.call(ctx, &s.metrics.Emergency, http.MethodPost, "/geo/emergencies", patient.token, map[string]any{
		"doctorIds": ids,
		"location":  map[string]float64{"latitude": lat, "longitude": lng},
		"note":      "simulated emergency",
	})
	if err != nil || status != http.StatusCreated {
		return fmt.Errorf("create emergency: status=%d err=%v", status, err)
	}
	var created emergencyResponse
	if err := json.Unmarshal(body, &created); err != nil {
		return fmt.Errorf("decode emergency: %w", err)
	}

	tokens := make(map[uuid.UUID]string, len(doctors))
	for _, d := range doctors {
		tokens[d.id] = d.token
	}

	var winners int64
	var wg sync.WaitGroup
	for _, item := range created.Items {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status, _, err := s.call(ctx, &s.metrics.Accept, http.MethodPost,
				"/consultations/queue/"+item.ID.String()+"/accept", tokens[item.DoctorID], nil)
			if err == nil && status == http.StatusOK {
				atomic.AddInt64(&winners, 1)
			}
		}()
	}
	wg.Wait()

	for _, item := range created.Items {
		status, body, err := s.call(ctx, &s.metrics.Read, http.MethodGet,
			"/consultations/queue/"+item.ID.String(), patient.token, nil)
		if err != nil || status != http.StatusOK {
			continue
		}
		var it itemResponse
		if json.Unmarshal(body, &it) == nil && it.Status == "queued" {
			atomic.AddInt64(&s.metrics.Races.SiblingsOpen, 1)
		}
	}

	atomic.AddInt64(&s.metrics.Races.Rounds, 1)
	switch winners {
	case 0:
		atomic.AddInt64(&s.metrics.Races.NoWinner, 1)
	case 1:
		atomic.AddInt64(&s.metrics.Races.SingleWinner, 1)
	default:
		atomic.AddInt64(&s.metrics.Races.MultipleWinners, 1)
		s.logger.Error().Int64("winners", winners).Msg("acceptance race produced several winners")
	}
	return nil
}

// call performs one authenticated JSON request, recording it on om when set.
func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path, token string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if om != nil {
			om.Record(latency, 0)
		}
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if om != nil {
		om.Record(latency, resp.StatusCode)
	}
	return resp.StatusCode, body, err
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
