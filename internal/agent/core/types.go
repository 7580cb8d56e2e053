package core

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/websearch"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/models"
)

var (
	// ErrNoToolsUsed means the router ran before any orchestrator decision.
	ErrNoToolsUsed = errors.New("no tool has been chosen yet")
	// ErrClarifierReentry means the clarifier was reached a second time.
	ErrClarifierReentry = errors.New("clarifier already ran")
	// ErrTransitionCeiling means the state machine exceeded its step bound.
	ErrTransitionCeiling = errors.New("state machine transition ceiling reached")
	// ErrEmptyQuestion is returned for requests without a question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// StructuralError reports a programming or configuration defect that aborts the run.
type StructuralError struct {
	Reason string
	Err    error
}

func (e *StructuralError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("structural violation: %s: %v", e.Reason, e.Err)
	}
	return "structural violation: " + e.Reason
}

func (e *StructuralError) Unwrap() error { return e.Err }

func structural(reason string, err error) error {
	return &StructuralError{Reason: reason, Err: err}
}

// Request is one research question.
type Request struct {
	RunID       string               `json:"run_id,omitempty"`
	Question    string               `json:"question"`
	ChatHistory []models.ChatMessage `json:"chat_history,omitempty"`
	Mode        models.ResearchMode  `json:"mode,omitempty"`
	// Tools restricts the run to the named tools when not empty.
	Tools []string `json:"tools,omitempty"`
}

// Result is what a finished run hands back to its caller.
type Result struct {
	RunID           string                         `json:"run_id"`
	Answer          string                         `json:"answer,omitempty"`
	Citations       []models.Citation              `json:"citations,omitempty"`
	Clarification   string                         `json:"clarification,omitempty"`
	Gaps            []string                       `json:"gaps,omitempty"`
	Instructions    []models.IterationInstructions `json:"instructions"`
	Responses       []models.IterationAnswer       `json:"responses"`
	StopReason      models.StopReason              `json:"stop_reason"`
	Iterations      int                            `json:"iterations"`
	RemainingBudget float64                        `json:"remaining_budget"`
}

// Persister stores a finished run.
type Persister interface {
	SaveResearchRun(ctx context.Context, rec models.ResearchRecord) error
}

// Config tunes the engine.
type Config struct {
	Budget budget.Config
	// DefaultMode applies to requests that do not name one.
	DefaultMode models.ResearchMode
	// Parallelism is the branch cap for tool families that allow fan-out.
	Parallelism int
	// LLMTimeout bounds each model call.
	LLMTimeout time.Duration
	// ClarificationEnabled lets deep research ask a clarifying question first.
	ClarificationEnabled bool
	Web                  websearch.Config
}

func (c Config) withDefaults() Config {
	if c.DefaultMode == "" {
		c.DefaultMode = models.ModeFast
	}
	if c.Parallelism <= 0 {
		c.Parallelism = 4
	}
	if c.LLMTimeout <= 0 {
		c.LLMTimeout = 90 * time.Second
	}
	return c
}
