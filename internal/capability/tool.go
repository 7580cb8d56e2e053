package capability

import (
	"context"
	"encoding/json"
	"iter"

	"github.com/mohammad-safakhou/deepresearch/models"
)

// ResponseKind tags one element of a tool's response sequence.
type ResponseKind string

const (
	KindHeartbeat     ResponseKind = "heartbeat"
	KindSearchResults ResponseKind = "search_results"
	KindImages        ResponseKind = "images"
	KindFinal         ResponseKind = "final"
)

// Response is one element of the lazy sequence returned by Tool.Execute.
type Response struct {
	Kind         ResponseKind
	Documents    []models.Document
	Images       []models.GeneratedImage
	Text         string
	Data         json.RawMessage
	ResponseType string
	FileIDs      []string
}

// Tool is the executable capability behind an OrchestratorTool.
type Tool interface {
	Name() string
	Description() string
	// ArgumentSchema is a JSON schema object describing Execute's args.
	ArgumentSchema() json.RawMessage
	// DeriveArguments is the fallback used when the model cannot call tools.
	// A nil map with a nil error means no arguments could be derived.
	DeriveArguments(ctx context.Context, query string, history []models.ChatMessage) (map[string]any, error)
	Execute(ctx context.Context, args map[string]any) iter.Seq2[Response, error]
	Summarize(resp Response) string
}

// Final drains seq and returns the last non-heartbeat response. Heartbeats are
// forwarded to onHeartbeat when it is not nil.
func Final(seq iter.Seq2[Response, error], onHeartbeat func()) (Response, bool, error) {
	var (
		last  Response
		found bool
	)
	for resp, err := range seq {
		if err != nil {
			return Response{}, false, err
		}
		if resp.Kind == KindHeartbeat {
			if onHeartbeat != nil {
				onHeartbeat()
			}
			continue
		}
		last = resp
		found = true
	}
	return last, found, nil
}

// Single wraps one response into a sequence.
func Single(resp Response, err error) iter.Seq2[Response, error] {
	return func(yield func(Response, error) bool) {
		yield(resp, err)
	}
}

// QueryArgument is the argument schema used by query-driven tools.
var QueryArgument = json.RawMessage(`{
  "type": "object",
  "properties": {"query": {"type": "string", "minLength": 1}},
  "required": ["query"]
}`)

// QueryFromArgs reads the "query" argument, falling back to def.
func QueryFromArgs(args map[string]any, def string) string {
	if q, ok := args["query"].(string); ok && q != "" {
		return q
	}
	return def
}
