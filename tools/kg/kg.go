package kg

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/models"
)

const DefaultMaxEntities = 5

// Subgraph is the structured payload returned alongside the text answer.
type Subgraph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

type Tool struct {
	graph       *Graph
	maxEntities int
}

func NewTool(graph *Graph, maxEntities int) *Tool {
	if maxEntities <= 0 {
		maxEntities = DefaultMaxEntities
	}
	return &Tool{graph: graph, maxEntities: maxEntities}
}

func (t *Tool) Name() string { return "knowledge_graph" }

func (t *Tool) Description() string {
	return "Looks up entities (companies, people, products) and how they relate to each other. Use it for relationship questions rather than open-ended research."
}

func (t *Tool) ArgumentSchema() json.RawMessage { return capability.QueryArgument }

func (t *Tool) DeriveArguments(_ context.Context, query string, _ []models.ChatMessage) (map[string]any, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	return map[string]any{"query": query}, nil
}

// Execute answers directly. Every matched entity becomes a document and the
// text cites it by its 1-based position.
func (t *Tool) Execute(ctx context.Context, args map[string]any) iter.Seq2[capability.Response, error] {
	return func(yield func(capability.Response, error) bool) {
		if err := ctx.Err(); err != nil {
			yield(capability.Response{}, err)
			return
		}
		found, err := t.graph.Find(capability.QueryFromArgs(args, ""), t.maxEntities)
		if err != nil {
			yield(capability.Response{}, fmt.Errorf("knowledge graph: %w", err))
			return
		}
		if len(found) == 0 {
			yield(capability.Response{Kind: capability.KindFinal, ResponseType: "knowledge_graph"}, nil)
			return
		}

		var (
			sub  Subgraph
			docs []models.Document
			b    strings.Builder
		)
		for i, e := range found {
			rels := t.graph.Relations(e.ID)
			sub.Entities = append(sub.Entities, e)
			sub.Relations = append(sub.Relations, rels...)
			docs = append(docs, t.document(e, rels))

			n := i + 1
			fmt.Fprintf(&b, "%s", e.Name)
			if e.Type != "" {
				fmt.Fprintf(&b, " (%s)", e.Type)
			}
			if e.Description != "" {
				fmt.Fprintf(&b, ": %s", e.Description)
			}
			fmt.Fprintf(&b, " [%d]\n", n)
			for _, r := range rels {
				fmt.Fprintf(&b, "- %s [%d]\n", t.describe(r), n)
			}
		}
		data, err := json.Marshal(sub)
		if err != nil {
			yield(capability.Response{}, err)
			return
		}
		yield(capability.Response{
			Kind:         capability.KindFinal,
			Documents:    docs,
			Text:         strings.TrimSpace(b.String()),
			Data:         data,
			ResponseType: "knowledge_graph",
		}, nil)
	}
}

func (t *Tool) Summarize(resp capability.Response) string {
	var sub Subgraph
	if len(resp.Data) > 0 {
		_ = json.Unmarshal(resp.Data, &sub)
	}
	return fmt.Sprintf("%d entities, %d relations", len(sub.Entities), len(sub.Relations))
}

func (t *Tool) document(e Entity, rels []Relation) models.Document {
	lines := []string{e.Description}
	for _, r := range rels {
		lines = append(lines, t.describe(r))
	}
	meta := map[string]string{"type": e.Type}
	for k, v := range e.Attributes {
		meta[k] = v
	}
	return models.Document{
		ID:       "kg:" + e.ID,
		Title:    e.Name,
		URL:      e.URL,
		Snippet:  e.Description,
		Content:  strings.TrimSpace(strings.Join(lines, "\n")),
		Source:   models.SourceKnowledgeGraph,
		Metadata: meta,
	}
}

func (t *Tool) describe(r Relation) string {
	from, _ := t.graph.Entity(r.From)
	to, _ := t.graph.Entity(r.To)
	s := fmt.Sprintf("%s %s %s", from.Name, strings.ReplaceAll(r.Type, "_", " "), to.Name)
	if r.Description != "" {
		s += " (" + r.Description + ")"
	}
	return s
}
