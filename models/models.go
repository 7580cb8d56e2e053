package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownMode is returned when a research mode string cannot be parsed.
var ErrUnknownMode = errors.New("unknown research mode")

// ResearchMode selects how much effort a run may spend.
type ResearchMode string

const (
	ModeFast       ResearchMode = "fast"
	ModeThoughtful ResearchMode = "thoughtful"
	ModeDeep       ResearchMode = "deep"
)

// ParseMode accepts the mode names case-insensitively; empty input yields ModeFast.
func ParseMode(s string) (ResearchMode, error) {
	switch ResearchMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFast:
		return ModeFast, nil
	case ModeThoughtful:
		return ModeThoughtful, nil
	case ModeDeep:
		return ModeDeep, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
	}
}

// SourceType tags where a document came from.
type SourceType string

const (
	SourceInternal       SourceType = "internal"
	SourceWeb            SourceType = "web"
	SourceKnowledgeGraph SourceType = "knowledge_graph"
	SourceTool           SourceType = "tool"
)

// Document is a retrievable unit of evidence that an answer can cite.
type Document struct {
	ID          string            `json:"id"`
	Title       string            `json:"title"`
	URL         string            `json:"url,omitempty"`
	Snippet     string            `json:"snippet,omitempty"`
	Content     string            `json:"content,omitempty"`
	Source      SourceType        `json:"source"`
	Score       float64           `json:"score,omitempty"`
	PublishedAt *time.Time        `json:"published_at,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Key identifies a document across tools: the URL when present, else the ID.
func (d Document) Key() string {
	if d.URL != "" {
		return d.URL
	}
	return d.ID
}

// IsInternet reports whether the document was retrieved from the open web.
func (d Document) IsInternet() bool {
	return d.Source == SourceWeb
}

// ChatMessage is one turn of prior conversation passed in with the question.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// GeneratedImage is produced by the image generation tool.
type GeneratedImage struct {
	URL           string `json:"url"`
	RevisedPrompt string `json:"revised_prompt,omitempty"`
	FileID        string `json:"file_id,omitempty"`
}

// IterationAnswer is one unit of evidence produced by a sub-agent branch.
// It is never mutated after creation.
type IterationAnswer struct {
	Tool              string            `json:"tool"`
	ToolID            int               `json:"tool_id"`
	IterationNr       int               `json:"iteration_nr"`
	ParallelizationNr int               `json:"parallelization_nr"`
	Question          string            `json:"question"`
	Reasoning         string            `json:"reasoning"`
	Answer            string            `json:"answer"`
	CitedDocuments    map[int]Document  `json:"cited_documents"`
	Claims            []string          `json:"claims,omitempty"`
	GeneratedImages   []GeneratedImage  `json:"generated_images,omitempty"`
	AdditionalData    map[string]string `json:"additional_data,omitempty"`
	ResponseType      string            `json:"response_type,omitempty"`
	Data              string            `json:"data,omitempty"`
	FileIDs           []string          `json:"file_ids,omitempty"`
}

// IterationInstructions records what the orchestrator decided and why.
type IterationInstructions struct {
	IterationNr int      `json:"iteration_nr"`
	Plan        string   `json:"plan,omitempty"`
	Reasoning   string   `json:"reasoning"`
	Purpose     string   `json:"purpose"`
	Tool        string   `json:"tool"`
	Queries     []string `json:"queries,omitempty"`
}

// Citation is a numbered reference in a final answer.
type Citation struct {
	Number   int      `json:"number"`
	Document Document `json:"document"`
}

// StopReason explains how a run ended.
type StopReason string

const (
	StopFinished      StopReason = "finished"
	StopClarification StopReason = "clarification"
	StopCancelled     StopReason = "user_cancelled"
	StopError         StopReason = "error"
)

// ResearchRecord is what the persistence collaborator stores at the end of a run.
type ResearchRecord struct {
	RunID        string                  `json:"run_id"`
	Question     string                  `json:"question"`
	Mode         ResearchMode            `json:"mode"`
	Answer       string                  `json:"answer"`
	Citations    []Citation              `json:"citations"`
	Gaps         []string                `json:"gaps,omitempty"`
	Instructions []IterationInstructions `json:"instructions"`
	Responses    []IterationAnswer       `json:"responses"`
	StopReason   StopReason              `json:"stop_reason"`
	StartedAt    time.Time               `json:"started_at"`
	FinishedAt   time.Time               `json:"finished_at"`
}
