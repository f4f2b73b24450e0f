package server

import (
	"encoding/json"

	"textrain/internal/domain"
)

// Response payloads

// HealthResponse reports liveness.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// RunResponse mirrors a ledger run row.
type RunResponse struct {
	ID         string  `json:"id"`
	OutputDir  string  `json:"output_dir"`
	Task       string  `json:"task,omitempty"`
	Detector   string  `json:"detector,omitempty"`
	Connection string  `json:"connection,omitempty"`
	Status     string  `json:"status" enum:"running,finished,failed"`
	Error      string  `json:"error,omitempty"`
	StartedAt  string  `json:"started_at" format:"date-time"`
	FinishedAt *string `json:"finished_at,omitempty" format:"date-time"`
}

// RunEventResponse is one ledger event with its payload decoded.
type RunEventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	Phase   string         `json:"phase,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// RunDetailResponse is a run with its full event trail.
type RunDetailResponse struct {
	Run    RunResponse        `json:"run"`
	Events []RunEventResponse `json:"events"`
}

// TaskCatalogResponse lists the recognized task identifiers.
type TaskCatalogResponse struct {
	Tasks []string `json:"tasks"`
}

// Conversion helpers

func runResponse(r domain.Run) RunResponse {
	return RunResponse(r)
}

func mapRuns(runs []domain.Run) []RunResponse {
	out := make([]RunResponse, 0, len(runs))
	for _, r := range runs {
		out = append(out, runResponse(r))
	}
	return out
}

func runEventResponse(e domain.RunEvent) RunEventResponse {
	return RunEventResponse{
		ID:      e.ID,
		TS:      e.TS,
		Type:    e.Type,
		Phase:   e.Phase,
		Payload: decodeJSONMap(e.Payload),
	}
}

func mapRunEvents(events []domain.RunEvent) []RunEventResponse {
	out := make([]RunEventResponse, 0, len(events))
	for _, e := range events {
		out = append(out, runEventResponse(e))
	}
	return out
}

func decodeJSONMap(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil
	}
	return obj
}
