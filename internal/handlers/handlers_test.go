package handlers

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/drivesentry/drivesentry/internal/device"
	"github.com/drivesentry/drivesentry/internal/history"
	"github.com/drivesentry/drivesentry/internal/scan"
	"github.com/drivesentry/drivesentry/internal/scheduler"
	"github.com/drivesentry/drivesentry/internal/smart"
	"github.com/drivesentry/drivesentry/internal/types"
)

// memReader is an in-memory stand-in for a block device.
type memReader struct {
	size  int64
	delay time.Duration
}

func (m *memReader) ReadAt(p []byte, off int64) (int, error) {
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	return len(p), nil
}

func (m *memReader) Size() int64  { return m.size }
func (m *memReader) Close() error { return nil }

type testEnv struct {
	handler  *Handler
	registry *scan.Registry
	bus      *scan.Bus
	mux      *http.ServeMux
}

func newTestEnv(t *testing.T, rd device.SectorReader) *testEnv {
	t.Helper()
	bus := scan.NewBus()
	open := func(drive string) (device.SectorReader, error) { return rd, nil }
	registry := scan.NewRegistry(bus, open, nil, scan.Options{
		SectorSize: 1,
		BatchSize:  4,
		Retention:  time.Hour,
	})
	lister := func() ([]device.Drive, error) {
		return []device.Drive{
			{Name: "sda", Path: "/dev/sda", Type: device.DriveTypeHDD, SizeBytes: 1000},
			{Name: "nvme0n1", Path: "/dev/nvme0n1", Type: device.DriveTypeNVMe, SizeBytes: 2000},
		}, nil
	}
	h := New(registry, bus, nil, nil, smart.NewExecutor(), device.NewEraser(), lister)
	mux := http.NewServeMux()
	h.RegisterRoutes(mux)
	return &testEnv{handler: h, registry: registry, bus: bus, mux: mux}
}

func (e *testEnv) request(method, path string, body []byte) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	e.mux.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) waitTerminal(t *testing.T, drive string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := e.registry.Status(drive)
		if err == nil && snap.Status.Terminal() {
			e.registry.Wait()
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("scan of %s never finished", drive)
}

func TestDrivesEndpoint(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 10})

	rec := e.request(http.MethodGet, "/api/drives", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp DrivesResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Drives) != 2 {
		t.Fatalf("drives = %d, want 2", len(resp.Drives))
	}
	if resp.Drives[0].Name != "sda" || resp.Drives[0].Type != device.DriveTypeHDD {
		t.Errorf("first drive = %+v", resp.Drives[0])
	}

	if rec := e.request(http.MethodPost, "/api/drives", nil); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("POST status = %d, want 405", rec.Code)
	}
}

func TestStartScanLifecycle(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 100000, delay: 50 * time.Microsecond})

	rec := e.request(http.MethodPost, "/api/scan/sda", nil)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("start status = %d, want 202", rec.Code)
	}
	var resp StartScanResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "scan_started" || resp.Drive != "sda" || resp.Session == "" {
		t.Errorf("response = %+v", resp)
	}

	// A second start on the same drive conflicts.
	if rec := e.request(http.MethodPost, "/api/scan/sda", nil); rec.Code != http.StatusConflict {
		t.Errorf("duplicate start status = %d, want 409", rec.Code)
	}

	// Status polling works while running.
	rec = e.request(http.MethodGet, "/api/scan/sda", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status endpoint = %d, want 200", rec.Code)
	}
	var snap scan.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snap); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if snap.Drive != "sda" {
		t.Errorf("snapshot drive = %s", snap.Drive)
	}

	if rec := e.request(http.MethodPost, "/api/scan/sda/cancel", nil); rec.Code != http.StatusOK {
		t.Errorf("cancel status = %d, want 200", rec.Code)
	}
	e.waitTerminal(t, "sda")

	// Cancelling a terminal session is a 404.
	if rec := e.request(http.MethodPost, "/api/scan/sda/cancel", nil); rec.Code != http.StatusNotFound {
		t.Errorf("cancel after terminal = %d, want 404", rec.Code)
	}
}

func TestScanStatusUnknownDrive(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 10})
	if rec := e.request(http.MethodGet, "/api/scan/nope", nil); rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHistoryDisabled(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 10})
	if rec := e.request(http.MethodGet, "/api/history", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("status = %d, want 501 without a store", rec.Code)
	}
	if rec := e.request(http.MethodGet, "/api/jobs", nil); rec.Code != http.StatusNotImplemented {
		t.Errorf("jobs status = %d, want 501 without a store", rec.Code)
	}
}

func TestJobsEndpoints(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 10})
	store, err := history.Open(filepath.Join(t.TempDir(), "handlers.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	e.handler.store = store
	e.handler.sched = scheduler.New(store, e.registry)

	if rec := e.request(http.MethodPost, "/api/jobs", []byte(`{"drive":"sda","cron":"not cron"}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid cron status = %d, want 400", rec.Code)
	}
	if rec := e.request(http.MethodPost, "/api/jobs", []byte(`{"cron":"0 2 * * *"}`)); rec.Code != http.StatusBadRequest {
		t.Errorf("missing drive status = %d, want 400", rec.Code)
	}

	rec := e.request(http.MethodPost, "/api/jobs", []byte(`{"drive":"sda","cron":"0 2 * * *"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, want 201", rec.Code)
	}
	var job history.ScheduledJob
	if err := json.NewDecoder(rec.Body).Decode(&job); err != nil {
		t.Fatalf("decode job: %v", err)
	}
	if job.Name != "scan sda" || !job.Enabled || job.NextRunAt == nil {
		t.Errorf("created job = %+v", job)
	}

	rec = e.request(http.MethodGet, "/api/jobs", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d, want 200", rec.Code)
	}
	var list JobsResponse
	if err := json.NewDecoder(rec.Body).Decode(&list); err != nil {
		t.Fatal(err)
	}
	if len(list.Jobs) != 1 {
		t.Fatalf("jobs = %d, want 1", len(list.Jobs))
	}

	if rec := e.request(http.MethodDelete, fmt.Sprintf("/api/jobs/%d", job.ID), nil); rec.Code != http.StatusOK {
		t.Errorf("delete status = %d, want 200", rec.Code)
	}
}

func TestCORSPreflightAndHeaders(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 10})
	wrapped := WithCORS(e.mux)

	req := httptest.NewRequest(http.MethodOptions, "/api/drives", nil)
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d, want 204", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin = %q, want *", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/drives", nil)
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("allow-origin on GET = %q, want *", got)
	}
}

func TestPathSuffix(t *testing.T) {
	tests := []struct {
		path   string
		prefix string
		want   string
	}{
		{"/api/smart/sda", "/api/smart/", "sda"},
		{"/api/smart/sda/", "/api/smart/", "sda"},
		{"/api/scan/sda/cancel", "/api/scan/", "sda"},
		{"/api/smart/", "/api/smart/", ""},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, tt.path, nil)
		if got := pathSuffix(r, tt.prefix); got != tt.want {
			t.Errorf("pathSuffix(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestWebSocketScanEvents(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 200, delay: 50 * time.Microsecond})
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]string{"action": "subscribe", "drive": "sda"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// Give the forwarder time to attach before events start flowing.
	time.Sleep(20 * time.Millisecond)

	if _, err := e.registry.Start("sda"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	var lastScanned int64 = -1
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v (last scanned %d)", err, lastScanned)
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &head); err != nil {
			t.Fatalf("decode %s: %v", data, err)
		}
		switch head.Type {
		case types.EventTypeProgress:
			var ev types.ProgressEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Fatal(err)
			}
			if ev.ScannedUnits < lastScanned {
				t.Errorf("scanned decreased: %d -> %d", lastScanned, ev.ScannedUnits)
			}
			lastScanned = ev.ScannedUnits
		case types.EventTypeComplete:
			var ev types.CompletionEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				t.Fatal(err)
			}
			if ev.Outcome != types.OutcomeSuccess {
				t.Errorf("outcome = %s, want success", ev.Outcome)
			}
			e.waitTerminal(t, "sda")
			return
		default:
			t.Fatalf("unexpected message type %q", head.Type)
		}
	}
}

func TestSSEStreamEndsOnCompletion(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 500, delay: 20 * time.Microsecond})
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	if _, err := e.registry.Start("sda"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	resp, err := http.Get(srv.URL + "/sse/scan/sda")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content-type = %q", ct)
	}

	var sawProgress, sawComplete bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: progress" {
			sawProgress = true
		}
		if line == "event: complete" {
			sawComplete = true
		}
	}
	// The server closes the stream after the completion event, so the
	// body read ends on its own.
	if !sawProgress {
		t.Error("no progress events on the SSE stream")
	}
	if !sawComplete {
		t.Error("no completion event on the SSE stream")
	}
	e.waitTerminal(t, "sda")
}

func TestSSETerminalSessionEndsImmediately(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 50})
	srv := httptest.NewServer(e.mux)
	defer srv.Close()

	if _, err := e.registry.Start("sda"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	e.waitTerminal(t, "sda")

	resp, err := http.Get(srv.URL + "/sse/scan/sda")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var sawComplete bool
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if scanner.Text() == "event: complete" {
			sawComplete = true
		}
	}
	if !sawComplete {
		t.Error("stream for a finished session did not end with a completion event")
	}
}

func TestMaintenanceRefusedDuringScan(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 100000, delay: 50 * time.Microsecond})

	if _, err := e.registry.Start("sda"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	if rec := e.request(http.MethodPost, "/api/erase/sda", nil); rec.Code != http.StatusConflict {
		t.Errorf("erase during scan = %d, want 409", rec.Code)
	}
	if rec := e.request(http.MethodPost, "/api/benchmark/sda", nil); rec.Code != http.StatusConflict {
		t.Errorf("benchmark during scan = %d, want 409", rec.Code)
	}

	e.registry.Cancel("sda")
	e.waitTerminal(t, "sda")
}

func TestScanRouteRejectsUnknownSubpath(t *testing.T) {
	e := newTestEnv(t, &memReader{size: 10})
	rec := e.request(http.MethodPost, "/api/scan/sda/what/ever", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}
