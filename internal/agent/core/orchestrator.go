package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"go.uber.org/zap"
)

// maxQueries bounds the questions kept from one decision.
const maxQueries = 8

// Orchestrator asks the model for the next tool and its questions.
type Orchestrator struct {
	runDeps
	planner *Planner
	monitor *budget.Monitor
}

// Decide appends one decision to state. When the iteration ceiling or the
// budget is already exhausted it chooses the closer without a model call.
func (o *Orchestrator) Decide(ctx context.Context, s *OrchestrationState) error {
	if s.Mode == models.ModeDeep && s.PlanOfRecord == nil {
		if err := o.planner.Plan(ctx, s); err != nil {
			return err
		}
	}
	if err := o.forcedStop(s); err != nil {
		spent, decisions, elapsed := o.monitor.Usage()
		o.logger.Info("closing research", zap.Error(err),
			zap.Int("iteration_nr", s.IterationNr),
			zap.Float64("spent", spent),
			zap.Int("decisions", decisions),
			zap.Duration("elapsed", elapsed),
			zap.Float64("remaining_budget", o.monitor.Remaining()))
		s.choose(capability.CloserName, nil)
		return nil
	}

	var out decisionOutput
	err := provider.InvokeStructured(ctx, o.llm, provider.Request{
		System:  researcherSystem,
		Prompt:  decisionPrompt(s, Aggregate(s.IterationResponses)),
		Schema:  decisionSchema,
		Timeout: o.llmTimeout,
	}, &out)
	if err != nil {
		return fmt.Errorf("orchestrator decision: %w", err)
	}
	o.apply(s, out)
	if reasoning := strings.TrimSpace(out.Reasoning); reasoning != "" {
		return emitReasoning(ctx, o.em, s, reasoning)
	}
	return nil
}

func (o *Orchestrator) forcedStop(s *OrchestrationState) error {
	if err := s.Policy.CheckIterations(s.IterationNr); err != nil {
		return err
	}
	if err := o.monitor.Check(); err != nil {
		return err
	}
	return o.monitor.CheckTime()
}

// apply records the decision: budget, iteration counter, instructions and the
// unknown-tool streak.
func (o *Orchestrator) apply(s *OrchestrationState, out decisionOutput) {
	name := strings.TrimSpace(out.NextStep.Tool)
	queries := cleanQueries(out.NextStep.Questions)
	s.IterationNr++

	tool, ok := s.AvailableTools.Lookup(name)
	switch {
	case ok:
		name = tool.Name
		s.UnknownToolStreak = 0
		s.RemainingTimeBudget = o.monitor.Spend(tool.Cost)
	case capability.Path(strings.ToLower(name)).IsDecision():
		name = strings.ToLower(name)
		s.UnknownToolStreak = 0
	default:
		s.UnknownToolStreak++
		o.logger.Warn("orchestrator chose an unknown tool",
			zap.String("tool", name), zap.Int("streak", s.UnknownToolStreak))
	}
	s.choose(name, queries)
	s.IterationInstructions = append(s.IterationInstructions, models.IterationInstructions{
		IterationNr: s.IterationNr,
		Plan:        planText(s.PlanOfRecord),
		Reasoning:   strings.TrimSpace(out.Reasoning),
		Purpose:     strings.TrimSpace(out.Purpose),
		Tool:        name,
		Queries:     queries,
	})
	o.logger.Debug("orchestrator decided",
		zap.Int("iteration_nr", s.IterationNr),
		zap.String("tool", name),
		zap.Strings("queries", queries),
		zap.Float64("remaining_budget", s.RemainingTimeBudget))
}

func cleanQueries(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]bool)
	for _, q := range in {
		q = strings.TrimSpace(q)
		key := strings.ToLower(q)
		if q == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == maxQueries {
			break
		}
	}
	return out
}

func planText(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
