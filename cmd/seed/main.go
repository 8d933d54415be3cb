package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logger"
)

var services = []struct {
	name     string
	duration int
}{
	{"Consulta", 30},
	{"Retorno", 20},
	{"Primeira consulta", 60},
	{"Avaliacao", 45},
	{"Procedimento ambulatorial", 90},
}

// Shift templates for weekly schedules: start, end, lunch start, lunch end.
var shifts = [][4]string{
	{"08:00", "17:00", "12:00", "13:00"},
	{"07:30", "16:30", "11:30", "12:30"},
	{"09:00", "18:00", "13:00", "14:00"},
	{"13:00", "19:00", "", ""},
}

func main() {
	zl, err := logger.New(getEnv("LOG_LEVEL", "info"), getEnv("LOG_FORMAT", "console"))
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	zl.Info("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		zl.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, db.PoolOptions{MaxConns: 4})
	if err != nil {
		zl.Fatal("connect postgres", zap.Error(err))
	}
	defer pool.Close()

	if _, err := db.Migrate(context.Background(), pool); err != nil {
		zl.Fatal("migrate", zap.Error(err))
	}

	faker := gofakeit.New(uint64(time.Now().UnixNano()))
	s := &seeder{pool: pool, faker: faker, log: zl}

	bg := context.Background()
	if err := s.seedServices(bg); err != nil {
		zl.Fatal("seed services", zap.Error(err))
	}
	if err := s.seedClinics(bg, 3, 12); err != nil {
		zl.Fatal("seed clinics", zap.Error(err))
	}
	if err := s.seedPatients(bg, 5000); err != nil {
		zl.Fatal("seed patients", zap.Error(err))
	}

	zl.Info("seed complete")
}

type seeder struct {
	pool  *pgxpool.Pool
	faker *gofakeit.Faker
	log   *zap.Logger
}

func (s *seeder) seedServices(ctx context.Context) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, svc := range services {
			_, err := tx.Exec(ctx, `
				INSERT INTO services (id, name, duration_minutes, active)
				VALUES ($1, $2, $3, true)
			`, uuid.New(), svc.name, svc.duration)
			if err != nil {
				return err
			}
		}
		s.log.Info("services seeded", zap.Int("count", len(services)))
		return nil
	})
}

// seedClinics creates clinics, their doctors and one weekly schedule per
// working weekday. Some doctors get a default lunch or a blocked weekday so
// every branch of the working-hours chain has data.
func (s *seeder) seedClinics(ctx context.Context, clinics, doctorsPerClinic int) error {
	for c := 0; c < clinics; c++ {
		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			clinicID := uuid.New()
			if _, err := tx.Exec(ctx, `
				INSERT INTO clinics (id, name, created_at, updated_at)
				VALUES ($1, $2, now(), now())
			`, clinicID, "Clinica "+s.faker.Company()); err != nil {
				return err
			}

			for i := 0; i < doctorsPerClinic; i++ {
				if err := s.seedDoctor(ctx, tx, clinicID); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		s.log.Info("clinic seeded", zap.Int("clinic", c+1), zap.Int("doctors", doctorsPerClinic))
	}
	return nil
}

func (s *seeder) seedDoctor(ctx context.Context, tx pgx.Tx, clinicID uuid.UUID) error {
	doctorID := uuid.New()

	var lunchStart, lunchEnd *string
	if s.faker.Bool() {
		start, end := "12:00", "13:00"
		lunchStart, lunchEnd = &start, &end
	}
	blocked := []int16{}
	if s.faker.Number(0, 3) == 0 {
		blocked = append(blocked, int16(s.faker.Number(1, 5)))
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO doctors (id, clinic_id, name, active, default_lunch_start, default_lunch_end, blocked_weekdays, created_at, updated_at)
		VALUES ($1, $2, $3, true, $4, $5, $6, now(), now())
	`, doctorID, clinicID, "Dr(a). "+s.faker.Name(), lunchStart, lunchEnd, blocked); err != nil {
		return err
	}

	shift := shifts[s.faker.Number(0, len(shifts)-1)]
	for weekday := time.Monday; weekday <= time.Friday; weekday++ {
		var wsLunchStart, wsLunchEnd *string
		if shift[2] != "" {
			wsLunchStart, wsLunchEnd = &shift[2], &shift[3]
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO weekly_schedules (doctor_id, weekday, start_time, end_time, lunch_start, lunch_end, active)
			VALUES ($1, $2, $3, $4, $5, $6, true)
		`, doctorID, int16(weekday), shift[0], shift[1], wsLunchStart, wsLunchEnd); err != nil {
			return err
		}
	}
	return nil
}

func (s *seeder) seedPatients(ctx context.Context, count int) error {
	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := min(offset+batchSize, count)

		err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			for i := offset; i < end; i++ {
				_, err := tx.Exec(ctx, `
					INSERT INTO patients (id, name, email, created_at, updated_at)
					VALUES ($1, $2, $3, now(), now())
				`, uuid.New(), s.faker.Name(), s.faker.Email())
				if err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}

		s.log.Info("patients seeded", zap.Int("done", end), zap.Int("total", count))
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
