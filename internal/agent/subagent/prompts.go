package subagent

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
)

// Per-document character ceiling when rendering evidence into a prompt.
const promptDocChars = 2000

var answerSchema = provider.NewSchema("branch_answer", `{
  "type": "object",
  "properties": {
    "reasoning": {"type": "string"},
    "answer": {"type": "string"},
    "claims": {"type": ["array", "null"], "items": {"type": "string"}}
  },
  "required": ["answer"]
}`)

var toolAnswerSchema = provider.NewSchema("tool_answer", `{
  "type": "object",
  "properties": {
    "reasoning": {"type": "string"},
    "answer": {"type": "string"}
  },
  "required": ["answer"]
}`)

type branchAnswer struct {
	Reasoning string   `json:"reasoning"`
	Answer    string   `json:"answer"`
	Claims    []string `json:"claims"`
}

const answerSystem = `You are a meticulous research assistant. You answer one narrow sub-question using only the numbered documents you are given.`

// RenderDocuments lists docs as numbered evidence, 1-based.
func RenderDocuments(docs []models.Document) string {
	var b strings.Builder
	for i, d := range docs {
		text := d.Content
		if text == "" {
			text = d.Snippet
		}
		fmt.Fprintf(&b, "[%d] %s", i+1, strings.TrimSpace(d.Title))
		if d.URL != "" {
			fmt.Fprintf(&b, " (%s)", d.URL)
		}
		fmt.Fprintf(&b, "\n%s\n\n", helpers.PromptText(text, promptDocChars))
	}
	return b.String()
}

func answerPrompt(question, subQuestion string, docs []models.Document) string {
	return fmt.Sprintf(`Overall research question: %s

Sub-question to answer now: %s

Documents:
%s
Instructions:
1. Answer the sub-question using only the documents above.
2. Cite every statement with the document number in square brackets, like [1] or [2].
3. List the distinct factual claims you relied on; each claim must carry its citation.
4. If the documents do not answer the sub-question, say so plainly.

Respond ONLY with JSON:
{"reasoning": string, "answer": string, "claims": [string]}`, question, subQuestion, RenderDocuments(docs))
}

func toolAnswerPrompt(question, subQuestion, toolName, result string) string {
	return fmt.Sprintf(`Overall research question: %s

The tool %q was called for: %s

Tool result:
%s

Summarize what the tool result says about the request. Do not invent facts.

Respond ONLY with JSON:
{"reasoning": string, "answer": string}`, question, toolName, subQuestion, helpers.Truncate(result, 8000))
}

const argumentSystem = `You fill in tool arguments. Reply with a single JSON object that matches the given schema and nothing else.`

func argumentPrompt(toolName, description, query string, schema []byte) string {
	return fmt.Sprintf(`Call the tool %q (%s) to serve this request: %s

The arguments must follow this JSON schema:
%s`, toolName, description, query, string(schema))
}
