package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/lgpang/clvisc/internal/cl"
	"github.com/lgpang/clvisc/internal/config"
	"github.com/lgpang/clvisc/internal/store"
)

// mockFactory returns runtimes whose update kernel halves the energy
// density and whose reduction reports the true host-side maximum, so
// runs decay to freeze-out in a handful of steps.
func mockFactory(cfg *config.Config) (cl.Runtime, error) {
	m := cl.NewMockRuntime()
	single := cfg.OpenCL.SinglePrecision

	m.OnLaunch("update_ev", func(mr *cl.MockRuntime, launch cl.MockLaunch) error {
		old, err := mr.BufferFloat64(launch.Args[1].ArgBuffer(), single)
		if err != nil {
			return err
		}
		next := make([]float64, len(old))
		for i := range old {
			next[i] = old[i] * 0.5
		}
		if single {
			host := make([]float32, len(next))
			for i, v := range next {
				host[i] = float32(v)
			}
			return mr.WriteBuffer(launch.Args[0].ArgBuffer(), host)
		}
		return mr.WriteBuffer(launch.Args[0].ArgBuffer(), next)
	})

	m.OnLaunch("reduction_stage1", func(mr *cl.MockRuntime, launch cl.MockLaunch) error {
		fields, err := mr.BufferFloat64(launch.Args[1].ArgBuffer(), single)
		if err != nil {
			return err
		}
		maxEd := 0.0
		for i := 0; i < len(fields); i += 4 {
			if fields[i] > maxEd {
				maxEd = fields[i]
			}
		}
		partials, err := mr.BufferFloat64(launch.Args[0].ArgBuffer(), single)
		if err != nil {
			return err
		}
		out := make([]float64, len(partials))
		out[0] = maxEd
		if single {
			host := make([]float32, len(out))
			for i, v := range out {
				host[i] = float32(v)
			}
			return mr.WriteBuffer(launch.Args[0].ArgBuffer(), host)
		}
		return mr.WriteBuffer(launch.Args[0].ArgBuffer(), out)
	})

	return m, nil
}

// slowFactory returns runtimes whose reduction reports a constant energy
// density far above freeze-out and whose update kernel sleeps, so runs
// stay alive long enough to exercise cancellation.
func slowFactory(cfg *config.Config) (cl.Runtime, error) {
	m := cl.NewMockRuntime()
	single := cfg.OpenCL.SinglePrecision

	m.OnLaunch("update_ev", func(mr *cl.MockRuntime, launch cl.MockLaunch) error {
		time.Sleep(time.Millisecond)
		return nil
	})

	m.OnLaunch("reduction_stage1", func(mr *cl.MockRuntime, launch cl.MockLaunch) error {
		partials, err := mr.BufferFloat64(launch.Args[0].ArgBuffer(), single)
		if err != nil {
			return err
		}
		out := make([]float64, len(partials))
		out[0] = 10.0
		if single {
			host := make([]float32, len(out))
			for i, v := range out {
				host[i] = float32(v)
			}
			return mr.WriteBuffer(launch.Args[0].ArgBuffer(), host)
		}
		return mr.WriteBuffer(launch.Args[0].ArgBuffer(), out)
	})

	return m, nil
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	return newTestServerWith(t, mockFactory)
}

func newTestServerWith(t *testing.T, factory RuntimeFactory) (*Server, *httptest.Server) {
	t.Helper()

	kernelDir := t.TempDir()
	for _, name := range []string{"kt_src.cl", "ideal.cl"} {
		if err := os.WriteFile(filepath.Join(kernelDir, name), []byte("// stub\n"), 0644); err != nil {
			t.Fatalf("Failed to write kernel stub: %v", err)
		}
	}

	cfg := config.Default()
	cfg.Grid = config.GridConfig{NX: 4, NY: 4, NZ: 1, DX: 0.3, DY: 0.3, DEta: 0.3}
	cfg.Time = config.TimeConfig{Tau0: 0.6, Dt: 0.02, TauMax: 1.0, NtSkip: 2}
	cfg.OpenCL.KernelDir = kernelDir
	cfg.OpenCL.SinglePrecision = false

	st, err := store.NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	srv := NewServer("127.0.0.1:0", cfg, st, factory)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return srv, ts
}

func postRun(t *testing.T, ts *httptest.Server, req RunRequest) Run {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("Marshal request failed: %v", err)
	}
	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/v1/runs failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Expected 201, got %d", resp.StatusCode)
	}
	var run Run
	if err := json.NewDecoder(resp.Body).Decode(&run); err != nil {
		t.Fatalf("Decode run failed: %v", err)
	}
	return run
}

func waitForState(t *testing.T, srv *Server, runID string, want RunState) Run {
	t.Helper()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		run, ok := srv.runManager.GetRun(runID)
		if ok && run.State == want {
			return run
		}
		if ok && (run.State == StateFailed && want != StateFailed) {
			t.Fatalf("Run failed: %s", run.Error)
		}
		time.Sleep(10 * time.Millisecond)
	}
	run, _ := srv.runManager.GetRun(runID)
	t.Fatalf("Run never reached %s, stuck at %s", want, run.State)
	return Run{}
}

func TestCreateRunCompletes(t *testing.T) {
	srv, ts := newTestServer(t)

	run := postRun(t, ts, RunRequest{})
	final := waitForState(t, srv, run.ID, StateCompleted)

	if final.Step == 0 {
		t.Error("Completed run should have advanced steps")
	}
	if final.Tau <= 0.6 {
		t.Errorf("Completed run tau = %g, should exceed tau0", final.Tau)
	}
	if final.EndTime == nil {
		t.Error("Completed run should have an end time")
	}
}

func TestCreateRunRejectsInvalidConfig(t *testing.T) {
	_, ts := newTestServer(t)

	body := []byte(`{"icType": "glauber"}`)
	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for unknown ic type, got %d", resp.StatusCode)
	}
}

func TestCreateRunRejectsBadJSON(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/runs", "application/json", strings.NewReader("{nope"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400 for bad JSON, got %d", resp.StatusCode)
	}
}

func TestRunStatusEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)

	run := postRun(t, ts, RunRequest{})
	waitForState(t, srv, run.ID, StateCompleted)

	resp, err := http.Get(ts.URL + "/api/v1/runs/" + run.ID)
	if err != nil {
		t.Fatalf("GET status failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Decode status failed: %v", err)
	}
	if status["state"] != string(StateCompleted) {
		t.Errorf("Status state = %v, want completed", status["state"])
	}
	if status["step"].(float64) <= 0 {
		t.Errorf("Status step = %v, want positive", status["step"])
	}
}

func TestRunStatusNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/runs/no-such-run")
	if err != nil {
		t.Fatalf("GET failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestRunHistoryEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)

	run := postRun(t, ts, RunRequest{})
	waitForState(t, srv, run.ID, StateCompleted)

	resp, err := http.Get(ts.URL + "/api/v1/runs/" + run.ID + "/history")
	if err != nil {
		t.Fatalf("GET history failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected 200, got %d", resp.StatusCode)
	}

	var payload struct {
		RunID   string               `json:"runId"`
		History []store.HistoryPoint `json:"history"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("Decode history failed: %v", err)
	}
	if payload.RunID != run.ID {
		t.Errorf("History runId = %s, want %s", payload.RunID, run.ID)
	}
	if len(payload.History) == 0 {
		t.Fatal("Expected history samples")
	}
	first := payload.History[0].MaxEd
	last := payload.History[len(payload.History)-1].MaxEd
	if last >= first {
		t.Errorf("Energy density should decay: first %g, last %g", first, last)
	}
}

func TestListRunsEndpoint(t *testing.T) {
	srv, ts := newTestServer(t)

	run := postRun(t, ts, RunRequest{})
	waitForState(t, srv, run.ID, StateCompleted)

	resp, err := http.Get(ts.URL + "/api/v1/runs")
	if err != nil {
		t.Fatalf("GET runs failed: %v", err)
	}
	defer resp.Body.Close()

	var runs []Run
	if err := json.NewDecoder(resp.Body).Decode(&runs); err != nil {
		t.Fatalf("Decode runs failed: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != run.ID {
		t.Errorf("Expected the created run in listing, got %+v", runs)
	}
}

func TestRunOverridesApplied(t *testing.T) {
	srv, ts := newTestServer(t)

	run := postRun(t, ts, RunRequest{NX: 8, NY: 8, ICType: "bjorken"})
	final := waitForState(t, srv, run.ID, StateCompleted)

	if final.Config.NX != 8 || final.Config.NY != 8 {
		t.Errorf("Grid override not applied: %+v", final.Config)
	}
	if final.Config.ICType != "bjorken" {
		t.Errorf("IC override not applied: %s", final.Config.ICType)
	}
}

func TestCancelRunEndpoint(t *testing.T) {
	srv, ts := newTestServerWith(t, slowFactory)

	run := postRun(t, ts, RunRequest{TauMax: 60})
	waitForState(t, srv, run.ID, StateRunning)

	resp, err := http.Post(ts.URL+"/api/v1/runs/"+run.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Expected 202, got %d", resp.StatusCode)
	}

	final := waitForState(t, srv, run.ID, StateCancelled)
	if final.EndTime == nil {
		t.Error("Cancelled run should have an end time")
	}

	// The cancel func is consumed by the first request.
	resp, err = http.Post(ts.URL+"/api/v1/runs/"+run.ID+"/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("Second POST cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 for finished run, got %d", resp.StatusCode)
	}
}

func TestCancelRunNotFound(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Post(ts.URL+"/api/v1/runs/no-such-run/cancel", "application/json", nil)
	if err != nil {
		t.Fatalf("POST cancel failed: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}
}

func TestDevicesEndpointWithoutDeviceSupport(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/api/v1/devices")
	if err != nil {
		t.Fatalf("GET devices failed: %v", err)
	}
	defer resp.Body.Close()

	// Without the device runtime compiled in, enumeration is unavailable.
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", resp.StatusCode)
	}
}

func TestIndexEndpoint(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatalf("GET / failed: %v", err)
	}
	defer resp.Body.Close()

	var index map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&index); err != nil {
		t.Fatalf("Decode index failed: %v", err)
	}
	if index["service"] != "clvisc" {
		t.Errorf("Index service = %v", index["service"])
	}
}

func TestStreamDeliversProgress(t *testing.T) {
	srv, ts := newTestServer(t)

	run := postRun(t, ts, RunRequest{})
	waitForState(t, srv, run.ID, StateCompleted)

	// After completion the stream still replays the last event.
	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/runs/"+run.ID+"/stream", nil)
	if err != nil {
		t.Fatalf("NewRequest failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req = req.WithContext(ctx)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET stream failed: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %s, want text/event-stream", ct)
	}

	buf := make([]byte, 4096)
	n, err := resp.Body.Read(buf)
	if err != nil || n == 0 {
		t.Fatalf("Failed to read stream: n=%d err=%v", n, err)
	}
	if !strings.HasPrefix(string(buf[:n]), "data: ") {
		t.Errorf("Expected SSE data frame, got %q", string(buf[:n]))
	}
}
