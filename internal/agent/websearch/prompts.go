package websearch

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
)

var selectionSchema = provider.NewSchema("url_selection", `{
  "type": "object",
  "properties": {
    "reasoning": {"type": "string"},
    "indices": {"type": "array", "items": {"type": "integer", "minimum": 1}}
  },
  "required": ["indices"]
}`)

type selection struct {
	Reasoning string `json:"reasoning"`
	Indices   []int  `json:"indices"`
}

const selectionSystem = `You triage web search results for a research assistant. Pick only pages likely to contain evidence for the question.`

func selectionPrompt(question, query string, results []models.Document, max int) string {
	var b strings.Builder
	for i, d := range results {
		fmt.Fprintf(&b, "[%d] %s\n    %s\n    %s\n", i+1, strings.TrimSpace(d.Title), d.URL, helpers.PromptText(d.Snippet, 300))
	}
	return fmt.Sprintf(`Overall research question: %s
Search query: %s

Results:
%s
Choose at most %d results worth opening and reading in full. Prefer primary and recent sources; skip duplicates and irrelevant pages.

Respond ONLY with JSON:
{"reasoning": string, "indices": [int]}`, question, query, b.String(), max)
}
