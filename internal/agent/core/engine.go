package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/subagent"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/agent/websearch"
	"github.com/mohammad-safakhou/deepresearch/internal/budget"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var engineTracer trace.Tracer = otel.Tracer("deepresearch/internal/agent/core")

// runDeps are the per-run collaborators shared by the engine components.
type runDeps struct {
	llm        provider.Provider
	em         *stream.Emitter
	logger     *zap.Logger
	llmTimeout time.Duration
}

// Options carries the optional collaborators of an Engine.
type Options struct {
	// Fetcher is required when a web search tool is registered.
	Fetcher   websearch.Fetcher
	Persister Persister
	// Mirror returns a best-effort sink for the packets of one run.
	Mirror func(runID string) stream.Sink
	Logger *zap.Logger
	// Required tool paths every request's registry must contain.
	Required []capability.Path
	Costs    map[capability.Path]float64
}

// Engine runs research questions. It is safe for concurrent use; every run
// builds its own registry, state and pipelines.
type Engine struct {
	cfg    Config
	llm    provider.Provider
	specs  []capability.Spec
	opts   Options
	logger *zap.Logger
	now    func() time.Time
}

// NewEngine validates the configuration and the tool set once up front.
func NewEngine(cfg Config, llm provider.Provider, specs []capability.Spec, opts Options) (*Engine, error) {
	if llm == nil {
		return nil, errors.New("engine requires a model provider")
	}
	if err := cfg.Budget.Validate(); err != nil {
		return nil, fmt.Errorf("budget config: %w", err)
	}
	reg, err := capability.NewRegistry(specs, capability.Options{Costs: opts.Costs, Required: opts.Required})
	if err != nil {
		return nil, err
	}
	if len(reg.ByPath(capability.PathWebSearch)) > 0 && opts.Fetcher == nil {
		return nil, websearch.ErrNoFetcher
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg.withDefaults(),
		llm:    llm,
		specs:  specs,
		opts:   opts,
		logger: logger.Named("engine"),
		now:    time.Now,
	}, nil
}

// Tools returns the registry a request without a tool filter would get.
func (e *Engine) Tools() ([]capability.OrchestratorTool, error) {
	reg, err := e.registry(nil)
	if err != nil {
		return nil, err
	}
	return reg.Tools(), nil
}

func (e *Engine) registry(enabled []string) (*capability.Registry, error) {
	specs := e.specs
	if len(enabled) > 0 {
		allow := make(map[string]bool, len(enabled))
		for _, name := range enabled {
			allow[strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), " ", "_")] = true
		}
		specs = nil
		for _, s := range e.specs {
			if allow[strings.ReplaceAll(strings.ToLower(s.Capability.Name()), " ", "_")] {
				specs = append(specs, s)
			}
		}
	}
	return capability.NewRegistry(specs, capability.Options{Costs: e.opts.Costs, Required: e.opts.Required})
}

// handler executes one state machine node and names the next one.
type handler func(ctx context.Context, s *OrchestrationState) (capability.Path, error)

// run holds everything one research run needs.
type run struct {
	runDeps
	state        *OrchestrationState
	clarifier    *Clarifier
	orchestrator *Orchestrator
	closer       *Closer
	finalizer    *Finalizer
	pipelines    map[capability.Path]subagent.Pipeline
	dispatch     map[capability.Path]handler
}

// Run researches req and streams packets to sink. The returned error is
// non-nil only for fatal errors, after the error packet has been emitted.
// Cancellation is not an error: it ends with StopReason user_cancelled.
func (e *Engine) Run(ctx context.Context, req Request, sink stream.Sink, opts ...stream.Option) (Result, error) {
	started := e.now()
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	opts = append(opts, stream.WithObserver(func(k stream.Kind) { telemetry.ObservePacket(string(k)) }))
	if e.opts.Mirror != nil {
		if m := e.opts.Mirror(req.RunID); m != nil {
			opts = append(opts, stream.WithMirror(m))
		}
	}
	logger := e.logger.With(zap.String("run_id", req.RunID))
	em := stream.NewEmitter(sink, logger, opts...)

	r, err := e.newRun(req, em, logger, started)
	if err != nil {
		failErr := em.Fail(ctx, err)
		if failErr != nil {
			logger.Warn("failed to emit error packet", zap.Error(failErr))
		}
		return Result{RunID: req.RunID, StopReason: models.StopError}, err
	}
	s := r.state
	telemetry.RunsStarted.WithLabelValues(string(s.Mode)).Inc()
	ctx, span := engineTracer.Start(ctx, "research.run", trace.WithAttributes(
		attribute.String("run_id", s.RunID),
		attribute.String("mode", string(s.Mode)),
	))
	defer span.End()

	err = r.loop(ctx)
	switch {
	case err == nil:
	case errors.Is(err, errCancelled):
		s.StopReason = models.StopCancelled
		if stopErr := em.Stop(context.WithoutCancel(ctx), stream.Payload{StopReason: models.StopCancelled}); stopErr != nil && !errors.Is(stopErr, stream.ErrClosed) {
			logger.Debug("cancel marker not delivered", zap.Error(stopErr))
		}
		logger.Info("research cancelled", zap.Int("iteration_nr", s.IterationNr))
		err = nil
	default:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.StopReason = models.StopError
		if failErr := em.Fail(context.WithoutCancel(ctx), err); failErr != nil {
			logger.Warn("failed to emit error packet", zap.Error(failErr))
		}
		logger.Error("research failed", zap.Error(err))
	}
	if err == nil && !em.Closed() {
		// The end sentinel can finish a run without the logger.
		if stopErr := em.Stop(ctx, stream.Payload{StopReason: models.StopFinished}); stopErr != nil {
			logger.Warn("failed to emit stop packet", zap.Error(stopErr))
		}
		if s.StopReason == "" {
			s.StopReason = models.StopFinished
		}
	}
	telemetry.ObserveRun(string(s.Mode), string(s.StopReason), started, s.IterationNr, s.RemainingTimeBudget)
	return s.Result(), err
}

var errCancelled = errors.New("run cancelled")

func (e *Engine) newRun(req Request, em *stream.Emitter, logger *zap.Logger, started time.Time) (*run, error) {
	if strings.TrimSpace(req.Question) == "" {
		return nil, ErrEmptyQuestion
	}
	mode := req.Mode
	if mode == "" {
		mode = e.cfg.DefaultMode
	}
	if _, err := models.ParseMode(string(mode)); err != nil {
		return nil, err
	}
	reg, err := e.registry(req.Tools)
	if err != nil {
		return nil, structural("build tool registry", err)
	}
	policy := e.cfg.Budget.PolicyFor(mode)
	deps := runDeps{llm: e.llm, em: em, logger: logger, llmTimeout: e.cfg.LLMTimeout}

	r := &run{
		runDeps:   deps,
		state:     NewState(req, mode, reg, policy),
		clarifier: &Clarifier{runDeps: deps, enabled: e.cfg.ClarificationEnabled},
		orchestrator: &Orchestrator{
			runDeps: deps,
			planner: &Planner{runDeps: deps},
			monitor: budget.NewMonitor(policy),
		},
		closer:    &Closer{runDeps: deps},
		finalizer: &Finalizer{runDeps: deps, persister: e.opts.Persister, startedAt: started, now: e.now},
	}
	if r.pipelines, err = e.pipelines(reg, deps); err != nil {
		return nil, err
	}
	r.dispatch = map[capability.Path]handler{
		capability.PathClarifier:    r.clarifier.Clarify,
		capability.PathOrchestrator: r.orchestrate,
		capability.PathCloser:       r.close,
		capability.PathLogger:       r.finalize,
	}
	for path := range r.pipelines {
		r.dispatch[path] = r.execute
	}
	return r, nil
}

func (e *Engine) pipelines(reg *capability.Registry, deps runDeps) (map[capability.Path]subagent.Pipeline, error) {
	sd := subagent.Deps{
		LLM:         deps.llm,
		Emitter:     deps.em,
		Registry:    reg,
		Logger:      deps.logger,
		Parallelism: e.cfg.Parallelism,
		LLMTimeout:  deps.llmTimeout,
	}
	out := make(map[capability.Path]subagent.Pipeline)
	for _, p := range reg.Paths() {
		switch p {
		case capability.PathInternalSearch:
			out[p] = subagent.NewInternalSearch(sd)
		case capability.PathWebSearch:
			web, err := websearch.New(sd, e.opts.Fetcher, e.cfg.Web)
			if err != nil {
				return nil, err
			}
			out[p] = web
		case capability.PathKnowledgeGraph:
			out[p] = subagent.NewKnowledgeGraph(sd)
		case capability.PathImageGeneration:
			out[p] = subagent.NewImageGeneration(sd)
		case capability.PathCustomTool:
			out[p] = subagent.NewCustomTool(sd)
		case capability.PathGenericInternalTool:
			out[p] = subagent.NewGenericInternalTool(sd)
		default:
			return nil, structural("build pipelines", fmt.Errorf("%w: %s", capability.ErrUnknownPath, p))
		}
	}
	return out, nil
}

// loop drives the state machine from the clarifier to the end sentinel.
func (r *run) loop(ctx context.Context) error {
	ceiling := r.state.Policy.TransitionCeiling()
	current := capability.PathClarifier
	for transitions := 0; current != capability.PathEnd; transitions++ {
		if transitions >= ceiling {
			return structural("run", fmt.Errorf("%w after %d transitions", ErrTransitionCeiling, transitions))
		}
		if !r.em.Connected() || ctx.Err() != nil {
			return errCancelled
		}
		h, ok := r.dispatch[current]
		if !ok {
			return structural("dispatch", fmt.Errorf("%w: %s", capability.ErrUnknownPath, current))
		}
		stepCtx, span := engineTracer.Start(ctx, "research.step", trace.WithAttributes(attribute.String("path", string(current))))
		next, err := h(stepCtx, r.state)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if err != nil {
			if r.cancelled(ctx, err) {
				return errCancelled
			}
			return fmt.Errorf("%s: %w", current, err)
		}
		r.logger.Debug("transition", zap.String("from", string(current)), zap.String("to", string(next)))
		current = next
	}
	return nil
}

func (r *run) cancelled(ctx context.Context, err error) bool {
	return errors.Is(err, stream.ErrDisconnected) ||
		!r.em.Connected() ||
		(ctx.Err() != nil && errors.Is(err, ctx.Err()))
}

func (r *run) orchestrate(ctx context.Context, s *OrchestrationState) (capability.Path, error) {
	if err := r.orchestrator.Decide(ctx, s); err != nil {
		return "", err
	}
	return Route(s)
}

// execute runs the pipeline of the last chosen tool and appends its answers.
func (r *run) execute(ctx context.Context, s *OrchestrationState) (capability.Path, error) {
	name, _ := s.LastTool()
	tool, ok := s.AvailableTools.Lookup(name)
	if !ok {
		return "", structural("execute", fmt.Errorf("%w: %s", capability.ErrToolMissing, name))
	}
	pipeline := r.pipelines[tool.Path]
	answers, err := pipeline.Run(ctx, subagent.Input{
		RunID:        s.RunID,
		Question:     s.Question,
		Queries:      append([]string(nil), s.QueryList...),
		IterationNr:  s.IterationNr,
		Step:         s.CurrentStepNr,
		Mode:         s.Mode,
		Tool:         tool,
		History:      s.ChatHistory,
		PlanOfRecord: planText(s.PlanOfRecord),
	})
	if err != nil {
		return "", err
	}
	if !r.em.Connected() {
		r.logger.Info("discarding results of a disconnected run", zap.Int("answers", len(answers)))
		return "", errCancelled
	}
	s.nextStep()
	s.appendResponses(answers)
	return capability.PathOrchestrator, nil
}

func (r *run) close(ctx context.Context, s *OrchestrationState) (capability.Path, error) {
	if err := r.closer.Close(ctx, s); err != nil {
		return "", err
	}
	return CompletenessRoute(s), nil
}

func (r *run) finalize(ctx context.Context, s *OrchestrationState) (capability.Path, error) {
	if err := r.finalizer.Finalize(ctx, s); err != nil {
		return "", err
	}
	return capability.PathEnd, nil
}
