//go:build integration

package integration_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The stack expects Postgres and NATS with JetStream to be running already,
// e.g. `docker run -p 5432:5432 postgres` and `docker run -p 4222:4222 nats -js`.

type managedProcess struct {
	name   string
	cmd    *exec.Cmd
	stdout bytes.Buffer
	stderr bytes.Buffer
	done   chan struct{}

	mu      sync.RWMutex
	exited  bool
	exitErr error
}

type localStack struct {
	apiURL      string
	databaseURL string
	webhook     *webhookRecorder

	api      *managedProcess
	notifier *managedProcess
}

type webhookRecorder struct {
	mu     sync.Mutex
	bodies []string
	server *httptest.Server
}

var (
	buildOnce sync.Once
	buildErr  error
)

func TestBookingAppearsInDayView(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	stack := startLocalStack(t)
	token := login(t, stack.apiURL, "gauri", "integration-team")

	title := fmt.Sprintf("integration-booking-%d", time.Now().UnixNano())
	status, body := apiRequest(t, http.MethodPost, stack.apiURL+"/api/v1/bookings", token, map[string]any{
		"title": title, "date": "2030-01-15", "time": "10:00", "duration": 45,
	})
	if status != http.StatusCreated {
		t.Fatalf("create booking failed status=%d body=%s", status, body)
	}
	bookingID := decodeID(t, body)
	waitForBookingRow(t, stack.databaseURL, bookingID, 10*time.Second, stack.processes()...)

	status, body = apiRequest(t, http.MethodGet, stack.apiURL+"/api/v1/calendar/day?date=2030-01-15", token, nil)
	if status != http.StatusOK {
		t.Fatalf("day view failed status=%d body=%s", status, body)
	}
	var snap struct {
		Sequence uint64 `json:"sequence"`
		View     struct {
			Cards []struct {
				Event struct {
					ID string `json:"id"`
				} `json:"event"`
				Height float64 `json:"height"`
			} `json:"cards"`
		} `json:"view"`
	}
	if err := json.Unmarshal([]byte(body), &snap); err != nil {
		t.Fatalf("invalid day view JSON: %v body=%s", err, body)
	}
	found := false
	for _, c := range snap.View.Cards {
		if c.Event.ID == bookingID {
			found = true
			if c.Height != 45*3 {
				t.Fatalf("unexpected card height %v", c.Height)
			}
		}
	}
	if !found || snap.Sequence == 0 {
		t.Fatalf("booking %s missing from day view: %s", bookingID, body)
	}
}

func TestDeleteWithNotifyReachesWebhook(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	stack := startLocalStack(t)
	token := login(t, stack.apiURL, "admin", "integration-admin")

	title := fmt.Sprintf("integration-delete-%d", time.Now().UnixNano())
	status, body := apiRequest(t, http.MethodPost, stack.apiURL+"/api/v1/bookings", token, map[string]any{
		"title": title, "date": "2030-01-16", "time": "09:30", "team_member": "Monica",
		"customer_name": "Asha", "customer_email": "asha@example.com",
	})
	if status != http.StatusCreated {
		t.Fatalf("create booking failed status=%d body=%s", status, body)
	}
	bookingID := decodeID(t, body)

	status, body = apiRequest(t, http.MethodDelete, stack.apiURL+"/api/v1/bookings/"+bookingID+"?notify=true", token, nil)
	if status != http.StatusOK {
		t.Fatalf("delete booking failed status=%d body=%s", status, body)
	}
	stack.webhook.waitFor(t, bookingID, 15*time.Second, stack.processes()...)

	status, _ = apiRequest(t, http.MethodDelete, stack.apiURL+"/api/v1/bookings/"+bookingID, token, nil)
	if status != http.StatusNotFound {
		t.Fatalf("expected 404 for deleted booking, got %d", status)
	}
}

func TestMemberSeesOnlyOwnBookings(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	stack := startLocalStack(t)
	admin := login(t, stack.apiURL, "admin", "integration-admin")
	shafoli := login(t, stack.apiURL, "shafoli", "integration-team")

	status, body := apiRequest(t, http.MethodPost, stack.apiURL+"/api/v1/bookings", admin, map[string]any{
		"title": "private", "date": "2030-01-17", "time": "11:00", "team_member": "Gauri",
	})
	if status != http.StatusCreated {
		t.Fatalf("create booking failed status=%d body=%s", status, body)
	}
	bookingID := decodeID(t, body)

	status, body = apiRequest(t, http.MethodGet, stack.apiURL+"/api/v1/bookings?team_member=Gauri", shafoli, nil)
	if status != http.StatusOK {
		t.Fatalf("list bookings failed status=%d body=%s", status, body)
	}
	if strings.Contains(body, bookingID) {
		t.Fatalf("member saw another member's booking: %s", body)
	}
}

func startLocalStack(t *testing.T) *localStack {
	t.Helper()

	databaseURL := os.Getenv("CALENDAR_E2E_DATABASE_URL")
	natsURL := os.Getenv("CALENDAR_E2E_NATS_URL")
	if databaseURL == "" || natsURL == "" {
		t.Skip("CALENDAR_E2E_DATABASE_URL and CALENDAR_E2E_NATS_URL must be set")
	}

	root := repoRoot(t)
	buildServices(t, root)

	hook := &webhookRecorder{}
	hook.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		hook.mu.Lock()
		hook.bodies = append(hook.bodies, string(body))
		hook.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(hook.server.Close)

	configPath := filepath.Join(t.TempDir(), "calendar.yaml")
	if err := os.WriteFile(configPath, []byte("timezone: Asia/Kolkata\nteam_members: [Gauri, Monica, Shafoli]\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	stack := &localStack{
		apiURL:      "http://127.0.0.1:18090",
		databaseURL: databaseURL,
		webhook:     hook,
	}
	stack.api = startProcess(t, root, "calendar-api", []string{
		"CALENDAR_API_ADDR=:18090",
		"CALENDAR_CONFIG=" + configPath,
		"DATABASE_URL=" + databaseURL,
		"NATS_URL=" + natsURL,
		"JWT_SECRET=integration-secret",
		"ADMIN_PASSWORD=integration-admin",
		"TEAM_PASSWORD=integration-team",
	}, "./bin/calendar-api")
	stack.notifier = startProcess(t, root, "notifier", []string{
		"NATS_URL=" + natsURL,
		"NOTIFY_WEBHOOK_URL=" + hook.server.URL,
	}, "./bin/notifier")
	t.Cleanup(func() {
		stopProcess(stack.notifier)
		stopProcess(stack.api)
	})

	requireProcessesAlive(t, stack.processes()...)
	waitForTCP(t, "127.0.0.1:18090", 30*time.Second, stack.processes()...)
	waitForReady(t, stack.apiURL+"/readyz", 30*time.Second, stack.processes()...)
	return stack
}

func (s *localStack) processes() []*managedProcess {
	return []*managedProcess{s.api, s.notifier}
}

func (h *webhookRecorder) waitFor(t *testing.T, needle string, timeout time.Duration, processes ...*managedProcess) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		requireProcessesAlive(t, processes...)
		h.mu.Lock()
		for _, b := range h.bodies {
			if strings.Contains(b, needle) {
				h.mu.Unlock()
				return
			}
		}
		h.mu.Unlock()
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for webhook delivery of %s\n%s", needle, processDebug(processes...))
}

func repoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd failed: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatalf("could not locate repository root from %s", dir)
		}
		dir = parent
	}
}

func buildServices(t *testing.T, root string) {
	t.Helper()
	buildOnce.Do(func() {
		for _, name := range []string{"calendar-api", "notifier"} {
			cmd := exec.Command("go", "build", "-o", "bin/"+name, "./cmd/"+name)
			cmd.Dir = root
			if output, err := cmd.CombinedOutput(); err != nil {
				buildErr = fmt.Errorf("build %s: %v\n%s", name, err, output)
				return
			}
		}
	})
	if buildErr != nil {
		t.Fatalf("build services failed: %v", buildErr)
	}
}

func startProcess(t *testing.T, dir string, name string, env []string, command string) *managedProcess {
	t.Helper()
	cmd := exec.Command(command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), env...)
	p := &managedProcess{name: name, cmd: cmd, done: make(chan struct{})}
	cmd.Stdout = &p.stdout
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("failed to start %s: %v", name, err)
	}
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exited = true
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()
	return p
}

func stopProcess(p *managedProcess) {
	if p == nil || p.cmd == nil || p.cmd.Process == nil {
		return
	}
	select {
	case <-p.done:
		return
	default:
	}
	_ = p.cmd.Process.Signal(os.Interrupt)
	select {
	case <-p.done:
	case <-time.After(3 * time.Second):
		_ = p.cmd.Process.Kill()
		<-p.done
	}
}

func waitForTCP(t *testing.T, addr string, timeout time.Duration, processes ...*managedProcess) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		requireProcessesAlive(t, processes...)
		conn, err := net.DialTimeout("tcp", addr, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for tcp service at %s\n%s", addr, processDebug(processes...))
}

func waitForReady(t *testing.T, url string, timeout time.Duration, processes ...*managedProcess) {
	t.Helper()
	client := &http.Client{Timeout: 2 * time.Second}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		requireProcessesAlive(t, processes...)
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for %s\n%s", url, processDebug(processes...))
}

func waitForBookingRow(t *testing.T, databaseURL, bookingID string, timeout time.Duration, processes ...*managedProcess) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		requireProcessesAlive(t, processes...)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		pool, err := pgxpool.New(ctx, databaseURL)
		if err == nil {
			var count int
			queryErr := pool.QueryRow(ctx, "select count(*) from bookings where id=$1 and is_active", bookingID).Scan(&count)
			pool.Close()
			cancel()
			if queryErr == nil && count == 1 {
				return
			}
		} else {
			cancel()
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("timeout waiting for booking row %s\n%s", bookingID, processDebug(processes...))
}

func login(t *testing.T, apiURL, username, password string) string {
	t.Helper()
	status, body := apiRequest(t, http.MethodPost, apiURL+"/api/v1/auth/login", "", map[string]string{
		"username": username, "password": password,
	})
	if status != http.StatusOK {
		t.Fatalf("login %s failed status=%d body=%s", username, status, body)
	}
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal([]byte(body), &resp); err != nil || resp.AccessToken == "" {
		t.Fatalf("invalid login response: %v body=%s", err, body)
	}
	return resp.AccessToken
}

func apiRequest(t *testing.T, method, url, token string, payload any) (int, string) {
	t.Helper()
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload failed: %v", err)
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("create request failed: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("%s %s failed: %v", method, url, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response body failed: %v", err)
	}
	return resp.StatusCode, string(body)
}

func decodeID(t *testing.T, body string) string {
	t.Helper()
	var rec struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &rec); err != nil || rec.ID == "" {
		t.Fatalf("response has no id: %v body=%s", err, body)
	}
	return rec.ID
}

func (p *managedProcess) debugString() string {
	return fmt.Sprintf("[%s]\nstdout:\n%s\nstderr:\n%s\n", p.name, p.stdout.String(), p.stderr.String())
}

func (p *managedProcess) state() (bool, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.exited, p.exitErr
}

func requireProcessesAlive(t *testing.T, processes ...*managedProcess) {
	t.Helper()
	for _, p := range processes {
		exited, err := p.state()
		if exited {
			if err == nil {
				t.Fatalf("%s exited unexpectedly.\n%s", p.name, p.debugString())
			}
			t.Fatalf("%s failed: %v\n%s", p.name, err, p.debugString())
		}
	}
}

func processDebug(processes ...*managedProcess) string {
	var out []string
	for _, p := range processes {
		out = append(out, p.debugString())
	}
	return strings.Join(out, "\n")
}
