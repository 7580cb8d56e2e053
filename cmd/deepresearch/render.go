package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/internal/stream"
	"github.com/mohammad-safakhou/deepresearch/models"
)

// renderer prints the answer to out and progress to status.
type renderer struct {
	out, status io.Writer
	citations   []models.Citation
}

const sourceSnippetChars = 100

func newRenderer(out, status io.Writer) *renderer {
	return &renderer{out: out, status: status}
}

func (r *renderer) Write(_ context.Context, p stream.Packet) error {
	pl := p.Payload
	switch pl.Kind {
	case stream.KindSearchToolDelta:
		if len(pl.Queries) > 0 {
			fmt.Fprintf(r.status, "[%d] searching: %s\n", p.Step, strings.Join(pl.Queries, " | "))
		}
		if len(pl.Documents) > 0 {
			fmt.Fprintf(r.status, "[%d] %d documents\n", p.Step, len(pl.Documents))
		}
	case stream.KindReasoningDelta:
		fmt.Fprintf(r.status, "[%d] %s\n", p.Step, pl.Content)
	case stream.KindCustomToolStart:
		fmt.Fprintf(r.status, "[%d] running %s\n", p.Step, pl.ToolName)
	case stream.KindImageGenerationDelta:
		for _, img := range pl.Images {
			fmt.Fprintf(r.status, "[%d] image: %s\n", p.Step, img.URL)
		}
	case stream.KindMessageStart, stream.KindMessageDelta:
		fmt.Fprint(r.out, pl.Content)
	case stream.KindCitationDelta:
		r.citations = append(r.citations, pl.Citations...)
	case stream.KindOverallStop:
		fmt.Fprintln(r.out)
		if len(r.citations) > 0 {
			fmt.Fprintln(r.out, "\nSources:")
			for _, line := range helpers.FormatCitations(r.citations, helpers.WithMaxSnippetLength(sourceSnippetChars)) {
				fmt.Fprintln(r.out, line)
			}
		}
		fmt.Fprintf(r.status, "stopped: %s\n", pl.StopReason)
	case stream.KindError:
		fmt.Fprintf(r.status, "error: %s\n", pl.Error)
	}
	return nil
}
