package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/livetranscripts/livetranscripts/internal/batch"
	"github.com/livetranscripts/livetranscripts/internal/dispatch"
	"github.com/livetranscripts/livetranscripts/internal/session"
)

// StatsFunc supplies the pipeline counters behind the /stats endpoint.
type StatsFunc func() PipelineStats

// PipelineStats aggregates per-stage counters for the stats snapshot.
type PipelineStats struct {
	TranscriptVersion uint64             `json:"transcript_version"`
	Batcher           batch.BatcherStats `json:"batcher"`
	Dispatcher        dispatch.Stats     `json:"dispatcher"`
	History           []session.Exchange `json:"qa_history,omitempty"`
}

// statsResponse is the /stats wire shape.
type statsResponse struct {
	Recording     session.RecordingState `json:"recording"`
	Focus         string                 `json:"focus"`
	Subscribers   int                    `json:"subscribers"`
	EventsDropped uint64                 `json:"events_dropped"`
	StartedAt     time.Time              `json:"started_at"`
	PipelineStats
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	hub := s.hub.Stats()
	resp := statsResponse{
		Recording:     hub.Recording,
		Focus:         hub.Focus,
		Subscribers:   hub.Subscribers,
		EventsDropped: hub.EventsDropped,
		StartedAt:     hub.StartedAt,
	}
	if s.cfg.Stats != nil {
		resp.PipelineStats = s.cfg.Stats()
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Warn("stats encoding failed", "error", err)
	}
}
