package core

import (
	"context"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"go.uber.org/zap"
)

// Finalizer hands the run to the persister and closes the stream.
type Finalizer struct {
	runDeps
	persister Persister
	startedAt time.Time
	now       func() time.Time
}

// Finalize persists the record and emits the overall-stop packet. A failed
// save is logged; the answer has already been streamed.
func (f *Finalizer) Finalize(ctx context.Context, s *OrchestrationState) error {
	if s.StopReason == "" {
		s.StopReason = models.StopFinished
	}
	if f.persister != nil {
		rec := models.ResearchRecord{
			RunID:        s.RunID,
			Question:     s.Question,
			Mode:         s.Mode,
			Answer:       s.Answer,
			Citations:    s.Citations,
			Gaps:         s.Gaps,
			Instructions: s.IterationInstructions,
			Responses:    s.IterationResponses,
			StopReason:   s.StopReason,
			StartedAt:    f.startedAt,
			FinishedAt:   f.now(),
		}
		if err := f.persister.SaveResearchRun(ctx, rec); err != nil {
			f.logger.Error("failed to persist research run", zap.String("run_id", s.RunID), zap.Error(err))
		}
	}
	return f.em.Stop(ctx, stream.Payload{StopReason: s.StopReason})
}
