package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"go.uber.org/zap"
)

const closerSystem = `You are a careful research writer. You answer from the findings you are given and cite them.`

// Closer decides whether the evidence suffices and writes the final answer.
// It is the only component that streams the answer message.
type Closer struct {
	runDeps
}

// Close either defers back to the orchestrator, by appending the orchestrator
// sentinel to tools_used, or writes the answer and appends the logger sentinel.
func (c *Closer) Close(ctx context.Context, s *OrchestrationState) error {
	agg := Aggregate(s.IterationResponses)
	telemetry.BudgetRemaining.WithLabelValues(string(s.Mode)).Observe(s.RemainingTimeBudget)

	if c.canDefer(s) {
		deferred, err := c.checkSufficiency(ctx, s, agg)
		if err != nil {
			return err
		}
		if deferred {
			return nil
		}
	}

	text, err := provider.InvokeText(ctx, c.llm, provider.Request{
		System:  closerSystem,
		Prompt:  answerPrompt(s, agg),
		Timeout: c.llmTimeout,
	})
	if err != nil {
		return fmt.Errorf("final answer: %w", err)
	}
	m := helpers.NewCitationMapper(agg.Documents)
	s.Answer = strings.TrimSpace(m.Rewrite(text))
	s.Citations = helpers.CitationList(m.Cited())
	s.StopReason = models.StopFinished

	if err := c.streamAnswer(ctx, s); err != nil {
		return err
	}
	s.choose(string(capability.PathLogger), nil)
	c.logger.Info("answer written",
		zap.String("run_id", s.RunID),
		zap.Int("citations", len(s.Citations)),
		zap.Int("responses", len(s.IterationResponses)))
	return nil
}

// canDefer reports whether one more orchestrator pass is allowed.
func (c *Closer) canDefer(s *OrchestrationState) bool {
	return s.Mode == models.ModeDeep &&
		s.Policy.CheckCloserSuggestions(s.NumCloserSuggestions+1) == nil &&
		s.Policy.CheckIterations(s.IterationNr) == nil &&
		!s.Policy.Exhausted(s.RemainingTimeBudget)
}

func (c *Closer) checkSufficiency(ctx context.Context, s *OrchestrationState, agg AggregatedDRContext) (bool, error) {
	var out sufficiencyOutput
	err := provider.InvokeStructured(ctx, c.llm, provider.Request{
		System:  closerSystem,
		Prompt:  sufficiencyPrompt(s, agg),
		Schema:  sufficiencySchema,
		Timeout: c.llmTimeout,
	}, &out)
	if err != nil {
		return false, fmt.Errorf("sufficiency check: %w", err)
	}
	s.Gaps = cleanQueries(out.Gaps)
	if out.Sufficient || len(s.Gaps) == 0 {
		return false, nil
	}
	s.NumCloserSuggestions++
	s.choose(string(capability.PathOrchestrator), nil)
	c.logger.Info("closer requested more research",
		zap.Strings("gaps", s.Gaps), zap.Int("suggestions", s.NumCloserSuggestions))
	reasoning := strings.TrimSpace(out.Reasoning)
	if reasoning == "" {
		reasoning = "More research needed: " + strings.Join(s.Gaps, "; ")
	}
	return true, emitReasoning(ctx, c.em, s, reasoning)
}

func (c *Closer) streamAnswer(ctx context.Context, s *OrchestrationState) error {
	step := s.CurrentStepNr
	if err := c.em.Emit(ctx, step, stream.MessageStart("")); err != nil {
		return err
	}
	if err := c.em.Emit(ctx, step, stream.MessageDelta(s.Answer)); err != nil {
		return err
	}
	if err := c.em.Emit(ctx, step, stream.SectionEnd()); err != nil {
		return err
	}
	s.nextStep()
	if len(s.Citations) == 0 {
		return nil
	}
	step = s.CurrentStepNr
	if err := c.em.Emit(ctx, step, stream.CitationStart()); err != nil {
		return err
	}
	if err := c.em.Emit(ctx, step, stream.CitationDelta(s.Citations)); err != nil {
		return err
	}
	if err := c.em.Emit(ctx, step, stream.SectionEnd()); err != nil {
		return err
	}
	s.nextStep()
	return nil
}
