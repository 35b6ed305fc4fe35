package server

import (
	"net/http"

	"github.com/HerbHall/tagwatch/internal/telemetry"
	"go.uber.org/zap"
)

// Telemetry is the slice of the engine the HTTP API drives.
type Telemetry interface {
	Reset()
	Threshold() float64
	Streams() map[string]telemetry.StreamState
	Snapshot(streamID string) (telemetry.StreamState, bool)
}

// StatusResponse acknowledges a control request.
type StatusResponse struct {
	Status string `json:"status"`
}

// AxisResponse is one axis of a stream snapshot.
type AxisResponse struct {
	Current float64  `json:"current"`
	Min     float64  `json:"min"`
	Max     float64  `json:"max"`
	Diff    *float64 `json:"diff,omitempty"`
	Changed bool     `json:"changed"`
}

// StreamResponse is the snapshot of one stream.
type StreamResponse struct {
	Stream  string                  `json:"stream"`
	Samples int                     `json:"samples"`
	Axes    map[string]AxisResponse `json:"axes"`
}

// ThresholdResponse reports the active change threshold.
type ThresholdResponse struct {
	Threshold float64 `json:"threshold"`
}

func streamResponse(st telemetry.StreamState) StreamResponse {
	out := StreamResponse{
		Stream:  st.Stream,
		Samples: st.Samples,
		Axes:    make(map[string]AxisResponse, len(st.Axes)),
	}
	for label, a := range st.Axes {
		ar := AxisResponse{Current: a.Current, Min: a.Min, Max: a.Max}
		if a.HasDiff {
			diff := a.Diff
			ar.Diff = &diff
			ar.Changed = a.Changed
		}
		out.Axes[label] = ar
	}
	return out
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	s.telemetry.Reset()
	s.logger.Info("stream state reset via API",
		zap.String("request_id", RequestID(r.Context())),
	)
	writeJSON(w, http.StatusOK, StatusResponse{Status: "Done"})
}

func (s *Server) handleStreams(w http.ResponseWriter, _ *http.Request) {
	streams := s.telemetry.Streams()
	out := make(map[string]StreamResponse, len(streams))
	for id, st := range streams {
		out[id] = streamResponse(st)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("stream")
	st, ok := s.telemetry.Snapshot(id)
	if !ok {
		NotFound(w, "unknown stream "+id, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, streamResponse(st))
}

func (s *Server) handleThreshold(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ThresholdResponse{Threshold: s.telemetry.Threshold()})
}
