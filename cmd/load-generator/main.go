package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/bookingcal/project/internal/platform/env"
	"github.com/bookingcal/project/internal/platform/metrics"
)

type config struct {
	APIBase                   string
	Members                   []string
	Password                  string
	Workers                   int
	StartupWait               time.Duration
	Duration                  time.Duration
	ActionsPerWorkerPerSecond float64
	RequestTimeout            time.Duration
	MetricsAddr               string
}

type authResponse struct {
	AccessToken string `json:"access_token"`
}

type bookingResponse struct {
	ID string `json:"id"`
}

type worker struct {
	Index  int
	Member string
	Token  string

	mu       sync.Mutex
	bookings []string
}

type runner struct {
	cfg    config
	client *http.Client

	requestsSuccess atomic.Int64
	requestsError   atomic.Int64
	activeWorkers   atomic.Int64
}

var (
	requestsTotal = metrics.NewCounterVec("calendar_loadgen_requests_total",
		"HTTP requests sent by the load generator.", "endpoint", "outcome")

	actionsTotal = metrics.NewCounterVec("calendar_loadgen_actions_total",
		"Worker actions executed by the load generator.", "action", "outcome")
)

func main() {
	env.LoadDotEnv()
	cfg := loadConfig()
	if cfg.Workers <= 0 || len(cfg.Members) == 0 {
		log.Fatal("LOADGEN_WORKERS must be > 0 and LOADGEN_MEMBERS must not be empty")
	}

	baseCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx := baseCtx
	if cfg.Duration > 0 {
		timeoutCtx, cancel := context.WithTimeout(baseCtx, cfg.Duration)
		defer cancel()
		ctx = timeoutCtx
	}

	r := &runner{cfg: cfg, client: &http.Client{Timeout: cfg.RequestTimeout}}
	metrics.Default.GaugeFunc("calendar_loadgen_active_workers", "Workers currently sending requests.",
		func() float64 { return float64(r.activeWorkers.Load()) })
	go runMetricsServer(cfg.MetricsAddr)

	if err := r.waitForReady(ctx); err != nil {
		log.Fatalf("calendar-api not ready: %v", err)
	}

	tokens := map[string]string{}
	for _, m := range cfg.Members {
		token, err := r.login(ctx, m)
		if err != nil {
			log.Fatalf("login %s: %v", m, err)
		}
		tokens[m] = token
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		member := cfg.Members[i%len(cfg.Members)]
		w := &worker{Index: i, Member: member, Token: tokens[member]}
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.run(ctx, w)
		}()
	}
	log.Printf("load generator started: workers=%d members=%d duration=%s", cfg.Workers, len(cfg.Members), cfg.Duration)

	<-ctx.Done()
	wg.Wait()
	log.Printf("load test complete: success_requests=%d error_requests=%d",
		r.requestsSuccess.Load(), r.requestsError.Load())
}

func loadConfig() config {
	return config{
		APIBase:                   strings.TrimRight(env.String("LOADGEN_API_BASE", "http://localhost:8080"), "/"),
		Members:                   splitCSV(env.String("LOADGEN_MEMBERS", "Gauri,Monica,Shafoli")),
		Password:                  env.String("LOADGEN_PASSWORD", env.String("TEAM_PASSWORD", "team-change-me")),
		Workers:                   env.Int("LOADGEN_WORKERS", 12),
		StartupWait:               env.Duration("LOADGEN_STARTUP_WAIT", time.Minute),
		Duration:                  env.Duration("LOADGEN_DURATION", 5*time.Minute),
		ActionsPerWorkerPerSecond: float64(max(env.Int("LOADGEN_ACTIONS_PER_MINUTE", 30), 1)) / 60,
		RequestTimeout:            env.Duration("LOADGEN_REQUEST_TIMEOUT", 10*time.Second),
		MetricsAddr:               env.String("LOADGEN_METRICS_ADDR", ":9099"),
	}
}

func splitCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runMetricsServer(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.DefaultHandler())
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("metrics server stopped: %v", err)
	}
}

func (r *runner) waitForReady(ctx context.Context) error {
	deadline := time.Now().Add(r.cfg.StartupWait)
	var lastErr error
	for time.Now().Before(deadline) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.cfg.APIBase+"/readyz", nil)
		if err != nil {
			return err
		}
		resp, err := r.client.Do(req)
		if err == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
			err = fmt.Errorf("status=%d", resp.StatusCode)
		}
		lastErr = err
		time.Sleep(time.Second)
	}
	if lastErr == nil {
		lastErr = errors.New("timeout")
	}
	return lastErr
}

func (r *runner) login(ctx context.Context, member string) (string, error) {
	var auth authResponse
	if err := r.request(ctx, "login", http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": member,
		"password": r.cfg.Password,
	}, &auth, http.StatusOK); err != nil {
		return "", err
	}
	if auth.AccessToken == "" {
		return "", errors.New("empty access token")
	}
	return auth.AccessToken, nil
}

func (r *runner) run(ctx context.Context, w *worker) {
	r.activeWorkers.Add(1)
	defer r.activeWorkers.Add(-1)

	interval := time.Duration(float64(time.Second) / r.cfg.ActionsPerWorkerPerSecond)
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(w.Index*7)))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.action(ctx, w, rng)
		}
	}
}

func (r *runner) action(ctx context.Context, w *worker, rng *rand.Rand) {
	choice := rng.Float64()
	id, hasBooking := w.pop(rng, choice >= 0.85)
	switch {
	case choice < 0.45 || (choice >= 0.85 && !hasBooking):
		r.createBooking(ctx, w, rng)
	case choice < 0.85:
		views := []string{"/api/v1/calendar/day", "/api/v1/calendar/week", "/api/v1/calendar/month", "/api/v1/calendar/upcoming"}
		path := views[rng.Intn(len(views))]
		err := r.request(ctx, strings.TrimPrefix(path, "/api/v1/calendar/"), http.MethodGet, path, w.Token, nil, nil, http.StatusOK)
		record("view", err)
	default:
		err := r.request(ctx, "delete", http.MethodDelete, "/api/v1/bookings/"+id, w.Token, nil, nil, http.StatusOK)
		record("delete", err)
	}
}

func (r *runner) createBooking(ctx context.Context, w *worker, rng *rand.Rand) {
	day := time.Now().AddDate(0, 0, rng.Intn(14))
	var resp bookingResponse
	err := r.request(ctx, "create", http.MethodPost, "/api/v1/bookings", w.Token, map[string]any{
		"title":    fmt.Sprintf("Load booking %d", rng.Intn(1_000_000)),
		"date":     day.Format("2006-01-02"),
		"time":     fmt.Sprintf("%02d:%02d", 8+rng.Intn(10), 15*rng.Intn(4)),
		"duration": 15 * (1 + rng.Intn(6)),
	}, &resp, http.StatusCreated)
	record("create", err)
	if err == nil && resp.ID != "" {
		w.mu.Lock()
		w.bookings = append(w.bookings, resp.ID)
		w.mu.Unlock()
	}
}

// pop returns a random booking id, removing it when remove is set.
func (w *worker) pop(rng *rand.Rand, remove bool) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.bookings) == 0 {
		return "", false
	}
	i := rng.Intn(len(w.bookings))
	id := w.bookings[i]
	if remove {
		w.bookings = append(w.bookings[:i], w.bookings[i+1:]...)
	}
	return id, true
}

func record(action string, err error) {
	if err != nil {
		actionsTotal.Inc(action, "error")
		return
	}
	actionsTotal.Inc(action, "success")
}

func (r *runner) request(ctx context.Context, endpoint, method, path, token string, payload, out any, expected ...int) error {
	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.APIBase+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		r.requestsError.Add(1)
		requestsTotal.Inc(endpoint, "error")
		return err
	}
	defer resp.Body.Close()

	for _, code := range expected {
		if resp.StatusCode == code {
			r.requestsSuccess.Add(1)
			requestsTotal.Inc(endpoint, "success")
			if out != nil {
				return json.NewDecoder(resp.Body).Decode(out)
			}
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
	}
	r.requestsError.Add(1)
	requestsTotal.Inc(endpoint, "error")
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return fmt.Errorf("%s %s: status=%d body=%s", method, path, resp.StatusCode, strings.TrimSpace(string(msg)))
}
