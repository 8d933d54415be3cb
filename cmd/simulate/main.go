package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/time/rate"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
)

// The simulator books the same free slots from many workers at once and then
// audits the database for overlapping regular appointments.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	RPS         float64
	ReadRatio   float64
	DoctorLimit int
	PostgresDSN string
	Location    *time.Location
}

type target struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	Slots     []time.Time
}

type DataPool struct {
	Patients []uuid.UUID
	Targets  []target

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, slowest time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}
	n := len(latencies)
	return sum / time.Duration(n), latencies[n*50/100], latencies[min(n*95/100, n-1)], latencies[n-1]
}

type Metrics struct {
	Booking OperationMetrics
	Slots   OperationMetrics
	Read    OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	limiter *rate.Limiter
	actorID uuid.UUID
	metrics Metrics
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("simulator starting")

	cfg := loadConfig()
	if err := validateConfig(cfg); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	log.Printf("config: duration=%s workers=%d rps=%.0f read=%.2f",
		cfg.Duration, cfg.Workers, cfg.RPS, cfg.ReadRatio)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4})
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pgPool.Close()

	sim := &Simulator{
		config:  cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(cfg.RPS), max(1, int(cfg.RPS/10))),
		actorID: uuid.New(),
	}

	sim.pool, err = sim.loadDataPool(ctx, pgPool)
	if err != nil {
		log.Fatalf("load data pool: %v", err)
	}
	log.Printf("loaded: %d patients, %d doctor targets", len(sim.pool.Patients), len(sim.pool.Targets))

	sim.Run()
	sim.PrintReport()

	overlaps, err := countOverlaps(context.Background(), pgPool)
	if err != nil {
		log.Fatalf("overlap audit: %v", err)
	}
	fmt.Printf("Overlapping regular appointments: %d\n", overlaps)
	if overlaps > 0 {
		os.Exit(1)
	}
}

func loadConfig() SimConfig {
	baseCfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load base config: %v", err)
	}

	return SimConfig{
		APIBaseURL:  getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:    getDuration("SIM_DURATION", 30*time.Second),
		Workers:     getInt("SIM_WORKERS", 20),
		RPS:         getFloat("SIM_RPS", 200),
		ReadRatio:   getFloat("SIM_READ_RATIO", 0.2),
		DoctorLimit: getInt("SIM_DOCTOR_LIMIT", 10),
		PostgresDSN: baseCfg.PostgresDSN,
		Location:    baseCfg.ClinicTimezone,
	}
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.RPS <= 0 {
		return fmt.Errorf("SIM_RPS must be > 0")
	}
	return nil
}

// loadDataPool picks doctors and a service and asks the API for tomorrow's
// free slots of each, so every worker competes for the same starts.
func (s *Simulator) loadDataPool(ctx context.Context, pool *pgxpool.Pool) (*DataPool, error) {
	dp := &DataPool{}

	rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT 2000`)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	dp.Patients, err = pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan patients: %w", err)
	}

	var serviceID uuid.UUID
	if err := pool.QueryRow(ctx, `
		SELECT id FROM services WHERE active ORDER BY duration_minutes LIMIT 1
	`).Scan(&serviceID); err != nil {
		return nil, fmt.Errorf("load service: %w", err)
	}

	rows, err = pool.Query(ctx, `SELECT id FROM doctors WHERE active LIMIT $1`, s.config.DoctorLimit)
	if err != nil {
		return nil, fmt.Errorf("load doctors: %w", err)
	}
	doctors, err := pgx.CollectRows(rows, pgx.RowTo[uuid.UUID])
	if err != nil {
		return nil, fmt.Errorf("scan doctors: %w", err)
	}

	day := time.Now().In(s.config.Location).AddDate(0, 0, 1)
	for len(dp.Targets) == 0 && day.Before(time.Now().AddDate(0, 0, 14)) {
		for _, doctorID := range doctors {
			slots, err := s.fetchSlots(ctx, doctorID, serviceID, day)
			if err != nil {
				return nil, err
			}
			if len(slots) > 0 {
				dp.Targets = append(dp.Targets, target{DoctorID: doctorID, ServiceID: serviceID, Slots: slots})
			}
		}
		day = day.AddDate(0, 0, 1)
	}

	if len(dp.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dp.Targets) == 0 {
		return nil, fmt.Errorf("no free slots found in the next two weeks")
	}
	return dp, nil
}

func (s *Simulator) fetchSlots(ctx context.Context, doctorID, serviceID uuid.UUID, day time.Time) ([]time.Time, error) {
	q := url.Values{}
	q.Set("service_id", serviceID.String())
	q.Set("date", day.Format(time.DateOnly))

	resp, err := s.send(ctx, http.MethodGet, fmt.Sprintf("/doctors/%s/slots?%s", doctorID, q.Encode()), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("slots for doctor %s: status %d: %s", doctorID, resp.StatusCode, body)
	}
	var out struct {
		Slots []time.Time `json:"slots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode slots: %w", err)
	}
	return out.Slots, nil
}

func (s *Simulator) send(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Actor-ID", s.actorID.String())
	req.Header.Set("X-Actor-Role", "admin")
	return s.client.Do(req)
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	log.Printf("starting simulation for %s with %d workers", s.config.Duration, s.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	log.Println("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		if err := s.limiter.Wait(ctx); err != nil {
			return
		}
		switch r := rng.Float64(); {
		case r < s.config.ReadRatio/2:
			s.doRead(ctx, rng)
		case r < s.config.ReadRatio:
			s.doSlots(ctx, rng)
		default:
			s.doBooking(ctx, rng)
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	start := time.Now()

	resp, err := s.send(ctx, http.MethodPost, "/appointments", map[string]any{
		"doctor_id":  t.DoctorID,
		"service_id": t.ServiceID,
		"patient_id": s.pool.Patients[rng.Intn(len(s.pool.Patients))],
		"start":      t.Slots[rng.Intn(len(t.Slots))],
	})
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var appt struct {
				ID uuid.UUID `json:"id"`
			}
			if json.NewDecoder(resp.Body).Decode(&appt) == nil && appt.ID != uuid.Nil {
				s.pool.AddAppointment(appt.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doSlots(ctx context.Context, rng *rand.Rand) {
	t := s.pool.Targets[rng.Intn(len(s.pool.Targets))]
	start := time.Now()
	_, err := s.fetchSlots(ctx, t.DoctorID, t.ServiceID, t.Slots[0])
	s.metrics.Slots.Record(time.Since(start), err == nil, false)
}

func (s *Simulator) doRead(ctx context.Context, rng *rand.Rand) {
	id, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}
	start := time.Now()

	resp, err := s.send(ctx, http.MethodGet, "/appointments/"+id.String(), nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}

	s.metrics.Read.Record(latency, success, false)
}

// countOverlaps counts pairs of active, non-encaixe, non-cancelled
// appointments of the same doctor whose intervals intersect.
func countOverlaps(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	var n int
	err := pool.QueryRow(ctx, `
		WITH booked AS (
			SELECT a.id, a.doctor_id, a.start_time,
			       a.start_time + make_interval(mins => s.duration_minutes) AS end_time
			FROM appointments a
			JOIN services s ON s.id = a.service_id
			WHERE a.active AND NOT a.encaixe AND a.status <> 'cancelado'
		)
		SELECT count(*)
		FROM booked x
		JOIN booked y ON x.doctor_id = y.doctor_id AND x.id < y.id
		WHERE x.start_time < y.end_time AND y.start_time < x.end_time
	`).Scan(&n)
	return n, err
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Slot listing", &s.metrics.Slots)
	printOperationReport("Read by ID", &s.metrics.Read)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)
	avg, p50, p95, slowest := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond),
		p95.Round(time.Millisecond), slowest.Round(time.Millisecond))
	fmt.Println()
}

// Helper functions

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
