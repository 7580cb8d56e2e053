package budget

import (
	"fmt"
	"time"

	"github.com/mohammad-safakhou/deepresearch/models"
)

// Default limits applied when a Config leaves a value unset.
const (
	DefaultMaxIterations         = 12
	DefaultMaxUnknownToolRetries = 3
	DefaultMaxCloserSuggestions  = 0
)

// DefaultModeBudgets are the initial research budgets per mode.
var DefaultModeBudgets = map[models.ResearchMode]float64{
	models.ModeFast:       2.0,
	models.ModeThoughtful: 6.0,
	models.ModeDeep:       12.0,
}

// Config defines termination guardrails for a research run. Nil fields fall
// back to the package defaults.
type Config struct {
	ModeBudgets           map[models.ResearchMode]float64
	MaxIterations         *int
	MaxUnknownToolRetries *int
	MaxCloserSuggestions  *int
	MaxDuration           *time.Duration
}

// Validate ensures the budget values are sane before use.
func (c Config) Validate() error {
	for mode, v := range c.ModeBudgets {
		if _, err := models.ParseMode(string(mode)); err != nil {
			return fmt.Errorf("mode_budgets: %w", err)
		}
		if v <= 0 {
			return fmt.Errorf("mode_budgets.%s must be positive", mode)
		}
	}
	if b := c.resolvedBudgets(); b[models.ModeFast] > b[models.ModeDeep] {
		return fmt.Errorf("mode_budgets.fast cannot exceed mode_budgets.deep")
	}
	if c.MaxIterations != nil && *c.MaxIterations <= 0 {
		return fmt.Errorf("max_iterations must be positive")
	}
	if c.MaxUnknownToolRetries != nil && *c.MaxUnknownToolRetries < 0 {
		return fmt.Errorf("max_unknown_tool_retries cannot be negative")
	}
	if c.MaxCloserSuggestions != nil && *c.MaxCloserSuggestions < 0 {
		return fmt.Errorf("max_closer_suggestions cannot be negative")
	}
	if c.MaxDuration != nil && *c.MaxDuration < 0 {
		return fmt.Errorf("max_duration cannot be negative")
	}
	return nil
}

func (c Config) resolvedBudgets() map[models.ResearchMode]float64 {
	out := make(map[models.ResearchMode]float64, len(DefaultModeBudgets))
	for k, v := range DefaultModeBudgets {
		out[k] = v
	}
	for k, v := range c.ModeBudgets {
		out[k] = v
	}
	return out
}

// Policy is the resolved set of limits for one run.
type Policy struct {
	Mode                  models.ResearchMode
	InitialBudget         float64
	MaxIterations         int
	MaxUnknownToolRetries int
	MaxCloserSuggestions  int
	MaxDuration           time.Duration
}

// PolicyFor resolves the limits for mode.
func (c Config) PolicyFor(mode models.ResearchMode) Policy {
	p := Policy{
		Mode:                  mode,
		InitialBudget:         c.resolvedBudgets()[mode],
		MaxIterations:         DefaultMaxIterations,
		MaxUnknownToolRetries: DefaultMaxUnknownToolRetries,
		MaxCloserSuggestions:  DefaultMaxCloserSuggestions,
	}
	if p.InitialBudget <= 0 {
		p.InitialBudget = DefaultModeBudgets[models.ModeFast]
	}
	if c.MaxIterations != nil {
		p.MaxIterations = *c.MaxIterations
	}
	if c.MaxUnknownToolRetries != nil {
		p.MaxUnknownToolRetries = *c.MaxUnknownToolRetries
	}
	if c.MaxCloserSuggestions != nil {
		p.MaxCloserSuggestions = *c.MaxCloserSuggestions
	}
	if c.MaxDuration != nil {
		p.MaxDuration = *c.MaxDuration
	}
	return p
}

// Exhausted reports whether the remaining budget forces termination.
func (p Policy) Exhausted(remaining float64) bool {
	return remaining <= 0
}

// CheckIterations returns ErrExceeded once iterationNr reaches the ceiling.
func (p Policy) CheckIterations(iterationNr int) error {
	if p.MaxIterations > 0 && iterationNr >= p.MaxIterations {
		return ErrExceeded{
			Kind:  KindIterations,
			Usage: fmt.Sprintf("%d", iterationNr),
			Limit: fmt.Sprintf("%d", p.MaxIterations),
		}
	}
	return nil
}

// CheckUnknownTools returns ErrExceeded once streak consecutive unknown tool
// names exceed the retry bound.
func (p Policy) CheckUnknownTools(streak int) error {
	if streak > p.MaxUnknownToolRetries {
		return ErrExceeded{
			Kind:  KindUnknownTools,
			Usage: fmt.Sprintf("%d", streak),
			Limit: fmt.Sprintf("%d", p.MaxUnknownToolRetries),
		}
	}
	return nil
}

// CheckCloserSuggestions returns ErrExceeded when count exceeds the cap.
func (p Policy) CheckCloserSuggestions(count int) error {
	if count > p.MaxCloserSuggestions {
		return ErrExceeded{
			Kind:  KindCloserSuggestions,
			Usage: fmt.Sprintf("%d", count),
			Limit: fmt.Sprintf("%d", p.MaxCloserSuggestions),
		}
	}
	return nil
}

// TransitionCeiling bounds the number of state machine steps in one run.
func (p Policy) TransitionCeiling() int {
	iters := p.MaxIterations
	if iters <= 0 {
		iters = DefaultMaxIterations
	}
	return 4*iters + 8
}
