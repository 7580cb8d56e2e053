package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"go.uber.org/zap"
)

// Planner writes the plan of record for deep research.
type Planner struct {
	runDeps
}

// Plan fixes state.PlanOfRecord once and streams it as reasoning.
func (p *Planner) Plan(ctx context.Context, s *OrchestrationState) error {
	if s.PlanOfRecord != nil {
		return nil
	}
	var out planOutput
	err := provider.InvokeStructured(ctx, p.llm, provider.Request{
		System:  researcherSystem,
		Prompt:  planPrompt(s),
		Schema:  planSchema,
		Timeout: p.llmTimeout,
	}, &out)
	if err != nil {
		return fmt.Errorf("plan of record: %w", err)
	}
	plan := strings.TrimSpace(out.Plan)
	s.PlanOfRecord = &plan
	p.logger.Debug("plan of record fixed", zap.Int("chars", len(plan)))
	return emitReasoning(ctx, p.em, s, plan)
}

// emitReasoning streams one reasoning section and advances the step.
func emitReasoning(ctx context.Context, em *stream.Emitter, s *OrchestrationState, text string) error {
	if err := em.Emit(ctx, s.CurrentStepNr, stream.ReasoningStart()); err != nil {
		return err
	}
	if err := em.Emit(ctx, s.CurrentStepNr, stream.ReasoningDelta(text)); err != nil {
		return err
	}
	if err := em.Emit(ctx, s.CurrentStepNr, stream.SectionEnd()); err != nil {
		return err
	}
	s.nextStep()
	return nil
}
