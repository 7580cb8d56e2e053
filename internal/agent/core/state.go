package core

import (
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
)

// OrchestrationState is the single mutable aggregate of one run. Only the
// engine goroutine touches it; pipelines get a subagent.Input snapshot.
type OrchestrationState struct {
	RunID       string
	Question    string
	ChatHistory []models.ChatMessage
	Mode        models.ResearchMode

	ToolsUsed     []string
	QueryList     []string
	IterationNr   int
	CurrentStepNr int
	PlanOfRecord  *string

	RemainingTimeBudget  float64
	NumCloserSuggestions int
	UnknownToolStreak    int
	Gaps                 []string

	IterationInstructions []models.IterationInstructions
	IterationResponses    []models.IterationAnswer

	AvailableTools *capability.Registry
	Policy         budget.Policy

	Clarified     bool
	Clarification string
	Answer        string
	Citations     []models.Citation
	StopReason    models.StopReason
}

// NewState builds the initial state for a question.
func NewState(req Request, mode models.ResearchMode, reg *capability.Registry, policy budget.Policy) *OrchestrationState {
	return &OrchestrationState{
		RunID:               req.RunID,
		Question:            req.Question,
		ChatHistory:         req.ChatHistory,
		Mode:                mode,
		AvailableTools:      reg,
		Policy:              policy,
		RemainingTimeBudget: policy.InitialBudget,
	}
}

// LastTool returns the most recent tools_used entry.
func (s *OrchestrationState) LastTool() (string, bool) {
	if len(s.ToolsUsed) == 0 {
		return "", false
	}
	return s.ToolsUsed[len(s.ToolsUsed)-1], true
}

func (s *OrchestrationState) choose(name string, queries []string) {
	s.ToolsUsed = append(s.ToolsUsed, name)
	s.QueryList = queries
}

// appendResponses adds reduced answers to the ledger; it never rewrites earlier entries.
func (s *OrchestrationState) appendResponses(answers []models.IterationAnswer) {
	s.IterationResponses = append(s.IterationResponses, answers...)
}

// nextStep closes the current stream section.
func (s *OrchestrationState) nextStep() {
	s.CurrentStepNr++
}

// Result copies the caller-facing fields out of the state.
func (s *OrchestrationState) Result() Result {
	return Result{
		RunID:           s.RunID,
		Answer:          s.Answer,
		Citations:       s.Citations,
		Clarification:   s.Clarification,
		Gaps:            s.Gaps,
		Instructions:    s.IterationInstructions,
		Responses:       s.IterationResponses,
		StopReason:      s.StopReason,
		Iterations:      s.IterationNr,
		RemainingBudget: s.RemainingTimeBudget,
	}
}
