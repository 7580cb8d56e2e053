package subagent

import (
	"context"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
	"go.uber.org/zap"
)

type imageGeneration struct{ deps Deps }

// NewImageGeneration builds the image generation pipeline. Heartbeats from the
// tool are forwarded while the image renders.
func NewImageGeneration(deps Deps) Pipeline {
	return NewPipeline(&imageGeneration{deps: deps}, deps)
}

func (g *imageGeneration) Path() capability.Path { return capability.PathImageGeneration }

func (g *imageGeneration) Start(Input) stream.Payload { return stream.ImageGenerationStart() }

func (g *imageGeneration) Act(ctx context.Context, in Input, u Unit) (models.IterationAnswer, error) {
	args := map[string]any{"prompt": u.Query}
	if g.deps.Registry != nil {
		if err := g.deps.Registry.ValidateArguments(in.Tool.Name, args); err != nil {
			return models.IterationAnswer{}, err
		}
	}
	heartbeat := func() {
		if err := g.deps.Emitter.EmitBranch(ctx, in.Step, u.ParallelizationNr, stream.ImageGenerationHeartbeat()); err != nil {
			g.deps.logger().Debug("heartbeat dropped", zap.Error(err))
		}
	}
	resp, ok, err := capability.Final(in.Tool.Capability.Execute(ctx, args), heartbeat)
	if err != nil {
		return models.IterationAnswer{}, err
	}
	if !ok || len(resp.Images) == 0 {
		return models.IterationAnswer{}, ErrNoToolResponse
	}
	if err := g.deps.Emitter.EmitBranch(ctx, in.Step, u.ParallelizationNr, stream.ImageGenerationDelta(resp.Images)); err != nil {
		return models.IterationAnswer{}, err
	}

	ans := NewAnswer(in, u)
	ans.Answer = in.Tool.Capability.Summarize(resp)
	ans.Reasoning = "Generated images for: " + u.Query
	ans.GeneratedImages = resp.Images
	ans.FileIDs = resp.FileIDs
	ans.ResponseType = "image"
	return ans, nil
}
