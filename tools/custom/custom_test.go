package custom

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/mohammad-safakhou/deepresearch/internal/capability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTools(t *testing.T, srvURL string) string {
	t.Helper()
	body := `
tools:
  - name: fx_rates
    description: Current exchange rates.
    url: ` + srvURL + `/rates
    headers:
      Authorization: Bearer ${FX_TOKEN}
    parameters:
      type: object
      properties:
        base: {type: string}
      required: [base]
  - name: ticket_lookup
    description: Finds support tickets.
    method: post
    url: ` + srvURL + `/tickets
    response_type: table
    parameters:
      type: object
      properties:
        customer: {type: string}
        status: {type: string}
`
	path := filepath.Join(t.TempDir(), "tools.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadAndExecute(t *testing.T) {
	t.Setenv("FX_TOKEN", "s3cret")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/rates":
			assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
			assert.Equal(t, "EUR", r.URL.Query().Get("base"))
			_, _ = w.Write([]byte(`{"USD":1.08}`))
		case "/tickets":
			b, _ := io.ReadAll(r.Body)
			var got map[string]any
			require.NoError(t, json.Unmarshal(b, &got))
			assert.Equal(t, "acme", got["customer"])
			_, _ = w.Write([]byte(`[{"id":7}]`))
		}
	}))
	defer srv.Close()

	tools, err := LoadFile(writeTools(t, srv.URL))
	require.NoError(t, err)
	require.Len(t, tools, 2)

	fx := tools[0]
	args, err := fx.DeriveArguments(context.Background(), "EUR", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"base": "EUR"}, args)
	resp, ok, err := capability.Final(fx.Execute(context.Background(), args), nil)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `{"USD":1.08}`, string(resp.Data))
	assert.Equal(t, "json", resp.ResponseType)

	tickets := tools[1]
	args, err = tickets.DeriveArguments(context.Background(), "acme", nil)
	require.NoError(t, err)
	assert.Nil(t, args, "two parameters need tool calling")
	resp, _, err = capability.Final(tickets.Execute(context.Background(), map[string]any{"customer": "acme"}), nil)
	require.NoError(t, err)
	assert.Equal(t, "table", resp.ResponseType)
	assert.Equal(t, `[{"id":7}]`, tickets.Summarize(resp))
}

func TestSchemaRegisters(t *testing.T) {
	tool, err := NewHTTPTool(Definition{Name: "x", URL: "http://localhost"})
	require.NoError(t, err)
	_, err = capability.NewRegistry([]capability.Spec{{Path: capability.PathCustomTool, Capability: tool}}, capability.Options{})
	require.NoError(t, err)
}

func TestInvalidDefinitions(t *testing.T) {
	_, err := NewHTTPTool(Definition{Name: "x"})
	require.ErrorIs(t, err, ErrInvalidDefinition)
	_, err = NewHTTPTool(Definition{Name: "x", URL: "http://a", Method: "DELETE"})
	require.ErrorIs(t, err, ErrInvalidDefinition)
}
