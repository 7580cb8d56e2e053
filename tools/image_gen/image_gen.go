// Package image_gen exposes an image model as the image generation tool.
package image_gen

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
)

const DefaultHeartbeat = 5 * time.Second

// Generator renders images for a prompt.
type Generator interface {
	GenerateImage(ctx context.Context, prompt, size string) ([]models.GeneratedImage, error)
}

var argumentSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "prompt": {"type": "string", "minLength": 1},
    "size": {"type": "string", "enum": ["1024x1024", "1792x1024", "1024x1792"]}
  },
  "required": ["prompt"]
}`)

type Tool struct {
	gen       Generator
	heartbeat time.Duration
}

func NewTool(gen Generator, heartbeat time.Duration) *Tool {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &Tool{gen: gen, heartbeat: heartbeat}
}

func (t *Tool) Name() string { return "image_generation" }

func (t *Tool) Description() string {
	return "Generates an image from a text prompt. Only use it when the user asks for a picture, diagram or illustration."
}

func (t *Tool) ArgumentSchema() json.RawMessage { return argumentSchema }

func (t *Tool) DeriveArguments(_ context.Context, query string, _ []models.ChatMessage) (map[string]any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return map[string]any{"prompt": query}, nil
}

type generated struct {
	images []models.GeneratedImage
	err    error
}

// Execute yields a heartbeat every interval while the image renders, then
// the images.
func (t *Tool) Execute(ctx context.Context, args map[string]any) iter.Seq2[capability.Response, error] {
	return func(yield func(capability.Response, error) bool) {
		prompt, _ := args["prompt"].(string)
		size, _ := args["size"].(string)
		if strings.TrimSpace(prompt) == "" {
			yield(capability.Response{}, fmt.Errorf("%w: empty prompt", capability.ErrInvalidArguments))
			return
		}

		genCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		done := make(chan generated, 1)
		go func() {
			imgs, err := t.gen.GenerateImage(genCtx, prompt, size)
			done <- generated{images: imgs, err: err}
		}()

		ticker := time.NewTicker(t.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case g := <-done:
				if g.err != nil {
					yield(capability.Response{}, g.err)
					return
				}
				var ids []string
				for _, img := range g.images {
					if img.FileID != "" {
						ids = append(ids, img.FileID)
					}
				}
				yield(capability.Response{Kind: capability.KindImages, Images: g.images, FileIDs: ids, ResponseType: "image"}, nil)
				return
			case <-ticker.C:
				if !yield(capability.Response{Kind: capability.KindHeartbeat}, nil) {
					return
				}
			case <-ctx.Done():
				yield(capability.Response{}, ctx.Err())
				return
			}
		}
	}
}

func (t *Tool) Summarize(resp capability.Response) string {
	if len(resp.Images) == 1 {
		return "Generated 1 image."
	}
	return fmt.Sprintf("Generated %d images.", len(resp.Images))
}
