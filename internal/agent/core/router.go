package core

import (
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
)

// Route maps the last orchestrator decision to the next component. It never
// mutates state and never routes to the clarifier: a decision naming a
// reserved sentinel falls back like any unknown tool.
func Route(s *OrchestrationState) (capability.Path, error) {
	next, err := route(s)
	if err == nil {
		telemetry.RouterDecisions.WithLabelValues(string(next)).Inc()
	}
	return next, err
}

func route(s *OrchestrationState) (capability.Path, error) {
	last, ok := s.LastTool()
	if !ok {
		return "", structural("route", ErrNoToolsUsed)
	}
	if s.AvailableTools.Len() == 0 {
		return "", structural("route", capability.ErrEmptyRegistry)
	}

	switch capability.Path(last) {
	case capability.PathEnd:
		return capability.PathEnd, nil
	case capability.PathLogger:
		return capability.PathLogger, nil
	case capability.PathCloser:
		return capability.PathCloser, nil
	}

	tool, found := s.AvailableTools.Lookup(last)
	if !found {
		if s.Policy.CheckUnknownTools(s.UnknownToolStreak) != nil {
			return capability.PathCloser, nil
		}
		return capability.PathOrchestrator, nil
	}
	if tool.Path == capability.PathCloser {
		return capability.PathCloser, nil
	}
	if tool.Path.RequiresQueries() && len(s.QueryList) == 0 {
		return capability.PathCloser, nil
	}
	if s.Policy.Exhausted(s.RemainingTimeBudget) {
		return capability.PathCloser, nil
	}
	if s.Policy.MaxIterations > 0 && s.IterationNr > s.Policy.MaxIterations {
		return capability.PathCloser, nil
	}
	return tool.Path, nil
}

// CompletenessRoute runs after the closer: it loops back to the orchestrator
// when the closer asked for more research and the suggestion cap allows it.
// Every loop back must have been counted in NumCloserSuggestions.
func CompletenessRoute(s *OrchestrationState) capability.Path {
	next := capability.PathLogger
	if last, ok := s.LastTool(); ok && capability.Path(last) == capability.PathOrchestrator &&
		s.NumCloserSuggestions > 0 && s.Policy.CheckCloserSuggestions(s.NumCloserSuggestions) == nil {
		next = capability.PathOrchestrator
	}
	telemetry.RouterDecisions.WithLabelValues(string(next)).Inc()
	return next
}
