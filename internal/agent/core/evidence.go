package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
)

// AggregatedDRContext is the read-only view of everything gathered so far.
// Documents are numbered globally from 1; every answer's markers are
// rewritten to those numbers in Text.
type AggregatedDRContext struct {
	Text      string
	Documents []models.Document
	// Internet marks, by global number, the documents retrieved from the web.
	Internet  map[int]bool
	Responses []models.IterationAnswer
}

// Aggregate builds the context from the response ledger.
func Aggregate(responses []models.IterationAnswer) AggregatedDRContext {
	agg := AggregatedDRContext{
		Internet:  make(map[int]bool),
		Responses: responses,
	}
	index := make(map[string]int)
	var b strings.Builder
	for _, r := range responses {
		mapping := make(map[int]int, len(r.CitedDocuments))
		for _, local := range sortedKeys(r.CitedDocuments) {
			doc := r.CitedDocuments[local]
			global, ok := index[documentKey(doc)]
			if !ok {
				agg.Documents = append(agg.Documents, doc)
				global = len(agg.Documents)
				index[documentKey(doc)] = global
				if doc.IsInternet() {
					agg.Internet[global] = true
				}
			}
			mapping[local] = global
		}
		fmt.Fprintf(&b, "## Iteration %d, %s: %s\n", r.IterationNr, r.Tool, r.Question)
		b.WriteString(strings.TrimSpace(helpers.RemapCitations(r.Answer, mapping)))
		b.WriteString("\n")
		for _, c := range r.Claims {
			fmt.Fprintf(&b, "- %s\n", helpers.RemapCitations(c, mapping))
		}
		if len(r.GeneratedImages) > 0 {
			fmt.Fprintf(&b, "(%d generated image(s) attached)\n", len(r.GeneratedImages))
		}
		b.WriteString("\n")
	}
	agg.Text = strings.TrimSpace(b.String())
	return agg
}

func documentKey(d models.Document) string {
	if d.URL != "" {
		return helpers.DedupKey(d.URL)
	}
	return d.ID
}

func sortedKeys(m map[int]models.Document) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// Sources renders the numbered documents for a prompt.
func (c AggregatedDRContext) Sources() string {
	var b strings.Builder
	for i, d := range c.Documents {
		n := i + 1
		origin := "internal"
		if c.Internet[n] {
			origin = "web"
		}
		fmt.Fprintf(&b, "[%d] (%s) %s", n, origin, strings.TrimSpace(d.Title))
		if d.URL != "" {
			fmt.Fprintf(&b, " <%s>", d.URL)
		}
		text := d.Snippet
		if text == "" {
			text = d.Content
		}
		if text != "" {
			fmt.Fprintf(&b, "\n    %s", helpers.PromptText(text, 500))
		}
		b.WriteString("\n")
	}
	return b.String()
}
