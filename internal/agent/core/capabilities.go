package core

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
)

type pathPair struct{ a, b capability.Path }

// differentiationHints tell the model how to choose between two families
// that can both look relevant.
var differentiationHints = map[pathPair]string{
	{capability.PathInternalSearch, capability.PathWebSearch}: "Prefer internal_search for company documents, internal notes and anything proprietary; use web_search for public, recent or external facts.",
	{capability.PathInternalSearch, capability.PathKnowledgeGraph}: "Use knowledge_graph for questions about entities and how they relate (who owns, reports to, depends on); use internal_search for passages of text.",
	{capability.PathWebSearch, capability.PathKnowledgeGraph}: "Use knowledge_graph for relationships between known entities; use web_search when the entities or facts are public and may have changed recently.",
	{capability.PathInternalSearch, capability.PathCustomTool}: "Use a custom tool only when its description matches the request exactly; otherwise search.",
	{capability.PathWebSearch, capability.PathGenericInternalTool}: "Use the generic internal tool to open one specific URL the user named; use web_search to discover pages.",
	{capability.PathCustomTool, capability.PathGenericInternalTool}: "Custom tools call external systems; generic internal tools operate on inputs already in the conversation.",
	{capability.PathImageGeneration, capability.PathWebSearch}: "Use image_generation only when the user asks for a new image; it never answers factual questions.",
}

// DifferentiationHints renders the hints for every pair of families present in reg.
func DifferentiationHints(reg *capability.Registry) []string {
	present := map[capability.Path]bool{}
	for _, p := range reg.Paths() {
		present[p] = true
	}
	families := capability.ToolFamilies()
	var out []string
	for i, a := range families {
		for _, b := range families[i+1:] {
			if !present[a] || !present[b] {
				continue
			}
			hint, ok := differentiationHints[pathPair{a, b}]
			if !ok {
				hint, ok = differentiationHints[pathPair{b, a}]
			}
			if ok {
				out = append(out, fmt.Sprintf("%s vs %s: %s", a, b, hint))
			}
		}
	}
	return out
}

// ToolCatalog describes every registry entry for the decision prompt.
func ToolCatalog(reg *capability.Registry) string {
	var b strings.Builder
	for _, t := range reg.Tools() {
		fmt.Fprintf(&b, "- %s (%s, cost %.1f): %s", t.Name, t.LLMPath, t.Cost, t.Description)
		if t.Path.RequiresQueries() {
			b.WriteString(" Requires at least one question.")
		}
		b.WriteString("\n")
	}
	return b.String()
}
