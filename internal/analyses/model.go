package analyses

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"menu-analysis-backend/internal/shared/circuitbreaker"
)

// Scope identifies the institution and month an analysis is computed for.
// Month is 0-based.
type Scope struct {
	Institution string `json:"institution"`
	Year        int    `json:"year"`
	Month       int    `json:"month"`
}

// Key returns the scope identity "institution|year-month". Institution is
// used verbatim; keys are case and whitespace sensitive.
func (s Scope) Key() string {
	return s.Institution + "|" + strconv.Itoa(s.Year) + "-" + strconv.Itoa(s.Month)
}

// Validate reports scopes that can never produce a meaningful analysis.
func (s Scope) Validate() error {
	if strings.TrimSpace(s.Institution) == "" {
		return fmt.Errorf("%w: institution is required", ErrInvalidScope)
	}
	if s.Year <= 0 {
		return fmt.Errorf("%w: year must be positive", ErrInvalidScope)
	}
	if s.Month < 0 || s.Month > 11 {
		return fmt.Errorf("%w: month must be between 0 and 11", ErrInvalidScope)
	}
	return nil
}

type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusFailed    JobStatus = "failed"
	StatusCancelled JobStatus = "cancelled"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Summary is the analysis result produced by the executor.
type Summary struct {
	Headline    string   `json:"headline"`
	TotalCost   float64  `json:"totalCost"`
	CostPerMeal float64  `json:"costPerMeal"`
	Highlights  []string `json:"highlights,omitempty"`
	Risks       []string `json:"risks,omitempty"`
}

// Job is one admitted analysis request.
type Job struct {
	ID          string     `json:"id"`
	Key         string     `json:"key"`
	Scope       Scope      `json:"scope"`
	Status      JobStatus  `json:"status"`
	RequestID   string     `json:"requestId,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Result      *Summary   `json:"result,omitempty"`
	Error       string     `json:"error,omitempty"`
	ErrorCode   string     `json:"errorCode,omitempty"`
	Retries     int        `json:"retries"`
}

// CacheEntry is the latest successful summary for a scope.
type CacheEntry struct {
	Summary   Summary   `json:"summary"`
	Timestamp time.Time `json:"timestamp"`
}

// State is the read-only orchestrator surface and the persisted checkpoint record.
type State struct {
	Jobs           []Job                   `json:"jobs"`
	History        []Job                   `json:"history"`
	Cache          map[string]CacheEntry   `json:"cache"`
	Cooldowns      map[string]time.Time    `json:"cooldowns"`
	CircuitBreaker circuitbreaker.Snapshot `json:"circuitBreaker"`
}

func encodeState(state State) ([]byte, error) {
	return json.Marshal(state)
}

func decodeState(payload []byte) (State, error) {
	var state State
	if err := json.Unmarshal(payload, &state); err != nil {
		return State{}, fmt.Errorf("decode orchestrator state: %w", err)
	}
	return state, nil
}
