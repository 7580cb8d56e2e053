package web_fetch

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"regexp"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
)

const openURLSummaryChars = 6000

var urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)

var openURLSchema = json.RawMessage(`{
  "type": "object",
  "properties": {"url": {"type": "string", "pattern": "^https?://"}},
  "required": ["url"]
}`)

// OpenURLTool reads one page the user pointed at.
type OpenURLTool struct {
	fetcher DocFetcher
}

func NewOpenURLTool(f DocFetcher) *OpenURLTool {
	return &OpenURLTool{fetcher: f}
}

func (t *OpenURLTool) Name() string { return "open_url" }

func (t *OpenURLTool) Description() string {
	return "Opens a specific web page by URL and reads it. Use it only when the question names a URL."
}

func (t *OpenURLTool) ArgumentSchema() json.RawMessage { return openURLSchema }

// DeriveArguments picks the first URL in the query, then in the history.
func (t *OpenURLTool) DeriveArguments(_ context.Context, query string, history []models.ChatMessage) (map[string]any, error) {
	if u := urlPattern.FindString(query); u != "" {
		return map[string]any{"url": u}, nil
	}
	for i := len(history) - 1; i >= 0; i-- {
		if u := urlPattern.FindString(history[i].Content); u != "" {
			return map[string]any{"url": u}, nil
		}
	}
	return nil, nil
}

func (t *OpenURLTool) Execute(ctx context.Context, args map[string]any) iter.Seq2[capability.Response, error] {
	return func(yield func(capability.Response, error) bool) {
		u, _ := args["url"].(string)
		if u == "" {
			yield(capability.Response{}, fmt.Errorf("%w: url is required", capability.ErrInvalidArguments))
			return
		}
		doc, err := t.fetcher.Fetch(ctx, u)
		if err != nil {
			yield(capability.Response{}, fmt.Errorf("open %s: %w", u, err))
			return
		}
		yield(capability.Response{
			Kind:         capability.KindFinal,
			Documents:    []models.Document{doc},
			Text:         doc.Content,
			ResponseType: "text",
		}, nil)
	}
}

// Summarize numbers the page as source [1] so the model can cite it.
func (t *OpenURLTool) Summarize(resp capability.Response) string {
	if len(resp.Documents) == 0 {
		return helpers.Truncate(resp.Text, openURLSummaryChars)
	}
	d := resp.Documents[0]
	return fmt.Sprintf("[1] %s <%s>\n%s", d.Title, d.URL, helpers.Truncate(d.Content, openURLSummaryChars))
}
