package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// ProgressEvent is one progress update pushed to stream subscribers.
type ProgressEvent struct {
	RunID       string    `json:"runId"`
	State       RunState  `json:"state"`
	Step        int       `json:"step"`
	Tau         float64   `json:"tau"`
	MaxEd       float64   `json:"maxEd"`
	StepsPerSec float64   `json:"stepsPerSec"`
	Timestamp   time.Time `json:"timestamp"`
}

// EventBroadcaster fans progress events out to SSE subscribers per run.
type EventBroadcaster struct {
	mu        sync.RWMutex
	clients   map[string]map[chan ProgressEvent]bool
	lastEvent map[string]ProgressEvent
}

// NewEventBroadcaster returns an empty broadcaster.
func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{
		clients:   make(map[string]map[chan ProgressEvent]bool),
		lastEvent: make(map[string]ProgressEvent),
	}
}

// Subscribe registers a client for a run's events. Reconnecting clients
// immediately receive the last event, if any.
func (eb *EventBroadcaster) Subscribe(runID string) chan ProgressEvent {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	ch := make(chan ProgressEvent, 10)
	if eb.clients[runID] == nil {
		eb.clients[runID] = make(map[chan ProgressEvent]bool)
	}
	eb.clients[runID][ch] = true

	if last, ok := eb.lastEvent[runID]; ok {
		select {
		case ch <- last:
		default:
		}
	}

	slog.Debug("Stream client subscribed", "runID", runID, "clients", len(eb.clients[runID]))
	return ch
}

// Unsubscribe removes a client and closes its channel.
func (eb *EventBroadcaster) Unsubscribe(runID string, ch chan ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[runID]; ok {
		delete(clients, ch)
		close(ch)
		if len(clients) == 0 {
			delete(eb.clients, runID)
		}
	}
	slog.Debug("Stream client unsubscribed", "runID", runID)
}

// Broadcast delivers an event to every subscriber of its run. Slow
// clients with a full channel are skipped rather than blocking the run.
// Needs the write lock: concurrent runs broadcast concurrently and each
// call updates the last-event cache.
func (eb *EventBroadcaster) Broadcast(event ProgressEvent) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	eb.lastEvent[event.RunID] = event

	clients, ok := eb.clients[event.RunID]
	if !ok || len(clients) == 0 {
		return
	}

	for ch := range clients {
		select {
		case ch <- event:
		default:
			slog.Warn("Stream channel full, dropping event", "runID", event.RunID)
		}
	}
}

// CleanupRun drops all subscribers and the cached event for a run.
func (eb *EventBroadcaster) CleanupRun(runID string) {
	eb.mu.Lock()
	defer eb.mu.Unlock()

	if clients, ok := eb.clients[runID]; ok {
		for ch := range clients {
			close(ch)
		}
		delete(eb.clients, runID)
	}
	delete(eb.lastEvent, runID)
}

// handleRunStream serves GET /api/v1/runs/:id/stream as SSE.
func (s *Server) handleRunStream(w http.ResponseWriter, r *http.Request, runID string) {
	run, ok := s.runManager.GetRun(runID)
	if !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	eventChan := s.runManager.broadcaster.Subscribe(runID)
	defer s.runManager.broadcaster.Unsubscribe(runID, eventChan)

	initial := ProgressEvent{
		RunID:     run.ID,
		State:     run.State,
		Step:      run.Step,
		Tau:       run.Tau,
		MaxEd:     run.MaxEd,
		Timestamp: time.Now(),
	}
	if err := writeSSEEvent(w, initial); err != nil {
		slog.Error("Failed to write initial stream event", "error", err)
		return
	}
	flusher.Flush()

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			slog.Debug("Stream client disconnected", "runID", runID)
			return

		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := writeSSEEvent(w, event); err != nil {
				slog.Error("Failed to write stream event", "error", err)
				return
			}
			flusher.Flush()

		case <-pingTicker.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, event ProgressEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
