package core

import (
	"fmt"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
	"github.com/mohammad-safakhou/deepresearch/provider"
)

var (
	planSchema = provider.NewSchema("research_plan", `{
  "type": "object",
  "properties": {
    "plan": {"type": "string", "minLength": 1},
    "reasoning": {"type": "string"}
  },
  "required": ["plan"]
}`)

	decisionSchema = provider.NewSchema("orchestrator_decision", `{
  "type": "object",
  "properties": {
    "reasoning": {"type": "string"},
    "purpose": {"type": "string"},
    "next_step": {
      "type": "object",
      "properties": {
        "tool": {"type": "string", "minLength": 1},
        "questions": {"type": ["array", "null"], "items": {"type": "string"}}
      },
      "required": ["tool"]
    }
  },
  "required": ["reasoning", "next_step"]
}`)

	clarificationSchema = provider.NewSchema("clarification", `{
  "type": "object",
  "properties": {
    "needs_clarification": {"type": "boolean"},
    "question": {"type": "string"}
  },
  "required": ["needs_clarification"]
}`)

	sufficiencySchema = provider.NewSchema("closer_sufficiency", `{
  "type": "object",
  "properties": {
    "sufficient": {"type": "boolean"},
    "gaps": {"type": ["array", "null"], "items": {"type": "string"}},
    "reasoning": {"type": "string"}
  },
  "required": ["sufficient"]
}`)
)

type planOutput struct {
	Plan      string `json:"plan"`
	Reasoning string `json:"reasoning"`
}

type decisionOutput struct {
	Reasoning string `json:"reasoning"`
	Purpose   string `json:"purpose"`
	NextStep  struct {
		Tool      string   `json:"tool"`
		Questions []string `json:"questions"`
	} `json:"next_step"`
}

type clarificationOutput struct {
	NeedsClarification bool   `json:"needs_clarification"`
	Question           string `json:"question"`
}

type sufficiencyOutput struct {
	Sufficient bool     `json:"sufficient"`
	Gaps       []string `json:"gaps"`
	Reasoning  string   `json:"reasoning"`
}

const researcherSystem = `You are the lead of a research team. You plan, delegate searches to tools, and stop as soon as the evidence answers the question.`

func renderHistory(history []models.ChatMessage) string {
	if len(history) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, m := range history {
		fmt.Fprintf(&b, "%s: %s\n", m.Role, helpers.Truncate(m.Content, 1000))
	}
	return strings.TrimSpace(b.String())
}

func planPrompt(s *OrchestrationState) string {
	return fmt.Sprintf(`Write a research plan for the question below.

Question: %s

Conversation so far:
%s

Available tools:
%s
The plan lists the sub-questions to investigate, in order, and which kind of tool fits each. Keep it under 200 words.

Respond ONLY with JSON:
{"plan": string, "reasoning": string}`, s.Question, renderHistory(s.ChatHistory), ToolCatalog(s.AvailableTools))
}

func decisionPrompt(s *OrchestrationState, agg AggregatedDRContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nResearch mode: %s\n\n", s.Question, s.Mode)
	fmt.Fprintf(&b, "Conversation so far:\n%s\n\n", renderHistory(s.ChatHistory))
	if s.PlanOfRecord != nil {
		fmt.Fprintf(&b, "Plan of record:\n%s\n\n", *s.PlanOfRecord)
	}
	fmt.Fprintf(&b, "Available tools:\n%s\n", ToolCatalog(s.AvailableTools))
	if hints := DifferentiationHints(s.AvailableTools); len(hints) > 0 {
		b.WriteString("How to choose between tools:\n")
		for _, h := range hints {
			fmt.Fprintf(&b, "- %s\n", h)
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Remaining budget: %.1f units (each tool costs what is listed). Iterations so far: %d of %d.\n\n",
		s.RemainingTimeBudget, s.IterationNr, s.Policy.MaxIterations)
	if len(s.Gaps) > 0 {
		fmt.Fprintf(&b, "Gaps the reviewer found:\n- %s\n\n", strings.Join(s.Gaps, "\n- "))
	}
	if agg.Text != "" {
		fmt.Fprintf(&b, "Findings so far:\n%s\n\n", helpers.Truncate(agg.Text, 12000))
	} else {
		b.WriteString("Findings so far: none.\n\n")
	}
	fmt.Fprintf(&b, `Decide the next step. Pick exactly one tool by name, or %q when the findings answer the question or the budget is nearly spent.
Give up to 4 short, self-contained questions for the tool; do not repeat questions already answered.

Respond ONLY with JSON:
{"reasoning": string, "purpose": string, "next_step": {"tool": string, "questions": [string]}}`, "closer")
	return b.String()
}

func clarificationPrompt(question string, history []models.ChatMessage) string {
	return fmt.Sprintf(`A user asked for in-depth research.

Question: %s

Conversation so far:
%s

Decide whether the question is too ambiguous to research well. Ask for clarification only when different readings would need entirely different research. If you ask, write one short question to the user.

Respond ONLY with JSON:
{"needs_clarification": boolean, "question": string}`, question, renderHistory(history))
}

func sufficiencyPrompt(s *OrchestrationState, agg AggregatedDRContext) string {
	return fmt.Sprintf(`Question: %s

Findings:
%s

Do the findings answer the question completely? If not, list the specific missing pieces of information.

Respond ONLY with JSON:
{"sufficient": boolean, "gaps": [string], "reasoning": string}`, s.Question, helpers.Truncate(agg.Text, 16000))
}

func answerPrompt(s *OrchestrationState, agg AggregatedDRContext) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Question: %s\n\nConversation so far:\n%s\n\n", s.Question, renderHistory(s.ChatHistory))
	if agg.Text == "" {
		b.WriteString("No evidence was gathered. Say so, and answer only what can be stated with confidence.\n")
		return b.String()
	}
	fmt.Fprintf(&b, "Findings:\n%s\n\nSources:\n%s\n", helpers.Truncate(agg.Text, 16000), agg.Sources())
	if len(s.Gaps) > 0 {
		fmt.Fprintf(&b, "Known gaps:\n- %s\n\n", strings.Join(s.Gaps, "\n- "))
	}
	b.WriteString(`Write the final answer in markdown. Cite sources inline with their number in square brackets, like [1]. Cite only the sources listed. Mention the known gaps briefly if any remain.`)
	return b.String()
}
