package replicate

import (
	"encoding/json"
	"strings"

	"aistudio/internal/extract"
)

// State is the small vocabulary the orchestrator understands.
type State string

const (
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Metrics carries provider-reported timings in seconds.
type Metrics struct {
	PredictTime *float64 `json:"predict_time"`
	TotalTime   *float64 `json:"total_time"`
}

// Prediction is a normalized prediction snapshot. Output holds the output
// field and Response the whole document, both as ordered unions.
type Prediction struct {
	ID        string
	Status    string
	State     State
	Output    extract.Value
	Response  extract.Value
	StreamURL string
	Error     string
	Logs      string
	Metrics   Metrics
}

type predictionResponse struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output extract.Value   `json:"output"`
	Error  json.RawMessage `json:"error"`
	Logs   string          `json:"logs"`
	URLs   struct {
		Get    string `json:"get"`
		Stream string `json:"stream"`
	} `json:"urls"`
	Metrics Metrics `json:"metrics"`
}

func parsePrediction(body []byte) (*Prediction, error) {
	var raw predictionResponse
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	whole, err := extract.Parse(body)
	if err != nil {
		return nil, err
	}
	return &Prediction{
		ID:        raw.ID,
		Status:    raw.Status,
		State:     NormalizeStatus(raw.Status),
		Output:    raw.Output,
		Response:  whole,
		StreamURL: strings.TrimSpace(raw.URLs.Stream),
		Error:     errorText(raw.Error),
		Logs:      raw.Logs,
		Metrics:   raw.Metrics,
	}, nil
}

// NormalizeStatus maps provider status strings onto State. Anything not
// recognized as terminal is treated as still running.
func NormalizeStatus(status string) State {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "succeeded", "successful":
		return StateSucceeded
	case "failed", "canceled", "cancelled", "aborted":
		return StateFailed
	default:
		return StateRunning
	}
}

// FailureDetail returns the provider error, falling back to the tail of the
// logs and finally a generic message.
func (p *Prediction) FailureDetail() string {
	if p == nil {
		return "Unknown error"
	}
	if msg := strings.TrimSpace(p.Error); msg != "" {
		return msg
	}
	if logs := strings.TrimSpace(p.Logs); logs != "" {
		if len(logs) > 500 {
			logs = "..." + logs[len(logs)-500:]
		}
		return logs
	}
	return "Unknown error"
}

// Sample renders the response without echoed input and logs, truncated for
// log lines.
func (p *Prediction) Sample() string {
	if p == nil {
		return ""
	}
	b, err := p.Response.Without("input", "logs").MarshalJSON()
	if err != nil {
		return ""
	}
	return truncate(string(b), 1500)
}

func errorText(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
