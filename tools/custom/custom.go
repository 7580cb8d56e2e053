// Package custom loads HTTP tools declared in YAML into the custom tool family.
package custom

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
	"gopkg.in/yaml.v3"
)

const summaryChars = 4000

var ErrInvalidDefinition = errors.New("invalid custom tool definition")

// Definition is one tool entry of the YAML file. Header values and the URL
// may reference environment variables as ${NAME}.
type Definition struct {
	Name         string            `yaml:"name"`
	Description  string            `yaml:"description"`
	Method       string            `yaml:"method"`
	URL          string            `yaml:"url"`
	Headers      map[string]string `yaml:"headers"`
	Parameters   map[string]any    `yaml:"parameters"`
	ResponseType string            `yaml:"response_type"`
	Timeout      time.Duration     `yaml:"timeout"`
	Retries      int               `yaml:"retries"`
}

type File struct {
	Tools []Definition `yaml:"tools"`
}

// LoadFile reads every tool declared in path.
func LoadFile(path string) ([]*HTTPTool, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	out := make([]*HTTPTool, 0, len(f.Tools))
	for _, d := range f.Tools {
		t, err := NewHTTPTool(d)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// HTTPTool calls a JSON HTTP endpoint with the model's arguments.
type HTTPTool struct {
	def    Definition
	schema json.RawMessage
	client *helpers.HTTPClient
}

func NewHTTPTool(d Definition) (*HTTPTool, error) {
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" || d.URL == "" {
		return nil, fmt.Errorf("%w: name and url are required", ErrInvalidDefinition)
	}
	d.Method = strings.ToUpper(d.Method)
	switch d.Method {
	case "":
		d.Method = http.MethodGet
	case http.MethodGet, http.MethodPost:
	default:
		return nil, fmt.Errorf("%w: %s: method %s", ErrInvalidDefinition, d.Name, d.Method)
	}
	if d.ResponseType == "" {
		d.ResponseType = "json"
	}
	if d.Parameters == nil {
		d.Parameters = map[string]any{"type": "object"}
	}
	schema, err := json.Marshal(d.Parameters)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: parameters: %v", ErrInvalidDefinition, d.Name, err)
	}
	return &HTTPTool{def: d, schema: schema, client: helpers.NewHTTPClient(d.Timeout, d.Retries, 0)}, nil
}

func (t *HTTPTool) Name() string                    { return t.def.Name }
func (t *HTTPTool) Description() string             { return t.def.Description }
func (t *HTTPTool) ArgumentSchema() json.RawMessage { return t.schema }

// DeriveArguments fills the single string parameter with the query. Tools
// with any other parameter shape need a tool-calling model.
func (t *HTTPTool) DeriveArguments(_ context.Context, query string, _ []models.ChatMessage) (map[string]any, error) {
	props, _ := t.def.Parameters["properties"].(map[string]any)
	if len(props) != 1 || strings.TrimSpace(query) == "" {
		return nil, nil
	}
	for name, p := range props {
		if spec, ok := p.(map[string]any); ok && spec["type"] == "string" {
			return map[string]any{name: query}, nil
		}
	}
	return nil, nil
}

func (t *HTTPTool) Execute(ctx context.Context, args map[string]any) iter.Seq2[capability.Response, error] {
	return func(yield func(capability.Response, error) bool) {
		endpoint := os.ExpandEnv(t.def.URL)
		headers := make(map[string]string, len(t.def.Headers))
		for k, v := range t.def.Headers {
			headers[k] = os.ExpandEnv(v)
		}

		var body any
		if t.def.Method == http.MethodGet {
			var err error
			if endpoint, err = withQuery(endpoint, args); err != nil {
				yield(capability.Response{}, err)
				return
			}
		} else {
			body = args
		}

		var raw json.RawMessage
		if err := t.client.DoJSON(ctx, t.def.Method, endpoint, headers, body, &raw); err != nil {
			yield(capability.Response{}, fmt.Errorf("%s: %w", t.def.Name, err))
			return
		}
		yield(capability.Response{
			Kind:         capability.KindFinal,
			Text:         string(raw),
			Data:         raw,
			ResponseType: t.def.ResponseType,
		}, nil)
	}
}

func (t *HTTPTool) Summarize(resp capability.Response) string {
	return helpers.Truncate(resp.Text, summaryChars)
}

func withQuery(endpoint string, args map[string]any) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		q.Set(k, fmt.Sprint(args[k]))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
