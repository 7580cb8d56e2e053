package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"go.uber.org/zap"
)

// Clarifier decides once per run whether to ask the user to disambiguate.
type Clarifier struct {
	runDeps
	enabled bool
}

// Clarify returns the logger path when it asked a question and the
// orchestrator path otherwise.
func (c *Clarifier) Clarify(ctx context.Context, s *OrchestrationState) (capability.Path, error) {
	if s.Clarified {
		return "", structural("clarify", ErrClarifierReentry)
	}
	s.Clarified = true
	if !c.enabled || s.Mode != models.ModeDeep {
		return capability.PathOrchestrator, nil
	}

	var out clarificationOutput
	err := provider.InvokeStructured(ctx, c.llm, provider.Request{
		Prompt:  clarificationPrompt(s.Question, s.ChatHistory),
		Schema:  clarificationSchema,
		Timeout: c.llmTimeout,
	}, &out)
	if err != nil {
		return "", fmt.Errorf("clarification: %w", err)
	}
	question := strings.TrimSpace(out.Question)
	if !out.NeedsClarification || question == "" {
		return capability.PathOrchestrator, nil
	}

	c.logger.Info("asking for clarification", zap.String("run_id", s.RunID))
	s.Clarification = question
	s.StopReason = models.StopClarification
	if err := c.em.Emit(ctx, s.CurrentStepNr, stream.MessageStart(question)); err != nil {
		return "", err
	}
	if err := c.em.Emit(ctx, s.CurrentStepNr, stream.SectionEnd()); err != nil {
		return "", err
	}
	s.nextStep()
	return capability.PathLogger, nil
}
