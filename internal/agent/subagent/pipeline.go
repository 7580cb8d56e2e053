// Package subagent implements the branch/act/reduce pipelines that execute
// one orchestrator decision.
package subagent

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/agent/telemetry"
	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("deepresearch/internal/agent/subagent")

var (
	// ErrNoArguments is returned when neither tool calling nor the fallback
	// produced arguments for a tool.
	ErrNoArguments = errors.New("could not derive tool arguments")
	// ErrNoToolResponse is returned when a tool produced no final response.
	ErrNoToolResponse = errors.New("tool returned no response")
)

// BranchError wraps the failure of one branch; it fails the whole iteration.
type BranchError struct {
	Tool   string
	Branch int
	Err    error
}

func (e *BranchError) Error() string {
	return fmt.Sprintf("%s branch %d: %v", e.Tool, e.Branch, e.Err)
}

func (e *BranchError) Unwrap() error { return e.Err }

// Input is the narrowed, read-only view of the orchestration state a pipeline
// receives for one iteration.
type Input struct {
	RunID        string
	Question     string
	Queries      []string
	IterationNr  int
	Step         int
	Mode         models.ResearchMode
	Tool         capability.OrchestratorTool
	History      []models.ChatMessage
	PlanOfRecord string
}

// Deps are the collaborators shared by every pipeline of a run.
type Deps struct {
	LLM      provider.Provider
	Emitter  *stream.Emitter
	Registry *capability.Registry
	Logger   *zap.Logger
	// Parallelism is the default branch cap for families that allow it.
	Parallelism int
	// LLMTimeout bounds each model call made by a branch.
	LLMTimeout time.Duration
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// Pipeline executes one iteration of a tool family and returns the reduced answers.
type Pipeline interface {
	Run(ctx context.Context, in Input) ([]models.IterationAnswer, error)
}

// Unit is one branch of work.
type Unit struct {
	Query             string
	ParallelizationNr int
}

// Branch turns queries into at most limit units. Empty queries are skipped.
func Branch(queries []string, limit int) []Unit {
	if limit <= 0 {
		limit = 1
	}
	units := make([]Unit, 0, limit)
	for _, q := range queries {
		if q == "" {
			continue
		}
		if len(units) == limit {
			break
		}
		units = append(units, Unit{Query: q, ParallelizationNr: len(units)})
	}
	return units
}

// collector is the append-only fan-in target shared by concurrent branches.
type collector[T any] struct {
	mu    sync.Mutex
	items []T
}

func (c *collector[T]) add(v T) {
	c.mu.Lock()
	c.items = append(c.items, v)
	c.mu.Unlock()
}

func (c *collector[T]) drain() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.items
	c.items = nil
	return out
}

// ActFunc executes one unit.
type ActFunc func(ctx context.Context, u Unit) (models.IterationAnswer, error)

// FanOut runs act for every unit with at most limit in flight and waits for
// all of them. A single failing branch fails the fan-out.
func FanOut(ctx context.Context, path capability.Path, units []Unit, limit int, act ActFunc) ([]models.IterationAnswer, error) {
	if limit <= 0 {
		limit = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	var out collector[models.IterationAnswer]
	for _, u := range units {
		u := u
		g.Go(func() error {
			started := time.Now()
			bctx, span := tracer.Start(gctx, "subagent.branch")
			span.SetAttributes(
				attribute.String("path", string(path)),
				attribute.Int("parallelization_nr", u.ParallelizationNr),
			)
			defer span.End()

			ans, err := act(bctx, u)
			telemetry.ObserveBranch(string(path), started, err)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				return &BranchError{Tool: string(path), Branch: u.ParallelizationNr, Err: err}
			}
			out.add(ans)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	answers := out.drain()
	sort.SliceStable(answers, func(i, j int) bool {
		return answers[i].ParallelizationNr < answers[j].ParallelizationNr
	})
	return answers, nil
}

// FilterIteration keeps only the answers produced in iterationNr.
func FilterIteration(pool []models.IterationAnswer, iterationNr int) []models.IterationAnswer {
	out := make([]models.IterationAnswer, 0, len(pool))
	for _, a := range pool {
		if a.IterationNr == iterationNr {
			out = append(out, a)
		}
	}
	return out
}

// Reduce is the fan-in barrier: it filters pool to iterationNr, streams the
// digest of documents the iteration cited and closes the section at step.
func Reduce(ctx context.Context, em *stream.Emitter, step, iterationNr int, pool []models.IterationAnswer) ([]models.IterationAnswer, error) {
	answers := FilterIteration(pool, iterationNr)
	if summary, ok := CitedDigest(answers); ok {
		if err := em.Emit(ctx, step, summary); err != nil {
			return nil, err
		}
	}
	if err := em.Emit(ctx, step, stream.SectionEnd()); err != nil {
		return nil, err
	}
	return answers, nil
}

// CitedDigest collects every document cited by answers, in answer then
// citation order, keeping the first occurrence of each document key. ok is
// false when nothing was cited.
func CitedDigest(answers []models.IterationAnswer) (stream.Payload, bool) {
	seen := make(map[string]bool)
	var docs []models.Document
	for _, a := range answers {
		nums := make([]int, 0, len(a.CitedDocuments))
		for n := range a.CitedDocuments {
			nums = append(nums, n)
		}
		sort.Ints(nums)
		for _, n := range nums {
			d := a.CitedDocuments[n]
			if seen[d.Key()] {
				continue
			}
			seen[d.Key()] = true
			docs = append(docs, d)
		}
	}
	if len(docs) == 0 {
		return stream.Payload{}, false
	}
	return stream.SearchToolDelta(nil, docs), true
}

// Family is the tool-specific part of the generic pipeline.
type Family interface {
	Path() capability.Path
	// Start is the packet emitted once before branches fan out.
	Start(in Input) stream.Payload
	Act(ctx context.Context, in Input, u Unit) (models.IterationAnswer, error)
}

// generic runs a Family through branch, act and reduce.
type generic struct {
	family Family
	deps   Deps
}

// NewPipeline wraps family into the generic fan-out/fan-in pipeline.
func NewPipeline(family Family, deps Deps) Pipeline {
	return &generic{family: family, deps: deps}
}

func (p *generic) Run(ctx context.Context, in Input) ([]models.IterationAnswer, error) {
	path := p.family.Path()
	ctx, span := tracer.Start(ctx, "subagent.pipeline")
	span.SetAttributes(attribute.String("path", string(path)), attribute.Int("iteration_nr", in.IterationNr))
	defer span.End()

	limit := path.ParallelismCap(p.deps.Parallelism)
	queries := in.Queries
	if len(queries) == 0 && !path.RequiresQueries() {
		queries = []string{in.Question}
	}
	units := Branch(queries, limit)
	if len(units) == 0 {
		return nil, fmt.Errorf("%s: no queries to branch on", path)
	}

	if err := p.deps.Emitter.Emit(ctx, in.Step, p.family.Start(in)); err != nil {
		return nil, err
	}
	pool, err := FanOut(ctx, path, units, limit, func(ctx context.Context, u Unit) (models.IterationAnswer, error) {
		return p.family.Act(ctx, in, u)
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	answers, err := Reduce(ctx, p.deps.Emitter, in.Step, in.IterationNr, pool)
	if err != nil {
		return nil, err
	}
	p.deps.logger().Debug("iteration reduced",
		zap.String("path", string(path)),
		zap.Int("iteration_nr", in.IterationNr),
		zap.Int("branches", len(units)),
		zap.Int("answers", len(answers)))
	return answers, nil
}

// NewAnswer fills the identity fields shared by every family.
func NewAnswer(in Input, u Unit) models.IterationAnswer {
	return models.IterationAnswer{
		Tool:              in.Tool.Name,
		ToolID:            in.Tool.ToolID,
		IterationNr:       in.IterationNr,
		ParallelizationNr: u.ParallelizationNr,
		Question:          u.Query,
		CitedDocuments:    map[int]models.Document{},
	}
}
