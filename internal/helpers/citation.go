package helpers

import (
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/mohammad-safakhou/deepresearch/models"
)

// citationMarker matches [1], [2, 3] and [1,2,3] style markers.
var citationMarker = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// CitationMapper rewrites inline [n] markers, where n is a 1-based index
// into a document list, into dense 1-based numbers assigned in order of first
// appearance. One mapper shares its numbering across every text it rewrites.
type CitationMapper struct {
	docs     []models.Document
	assigned map[int]int
	cited    map[int]models.Document
	next     int
}

func NewCitationMapper(docs []models.Document) *CitationMapper {
	return &CitationMapper{
		docs:     docs,
		assigned: make(map[int]int),
		cited:    make(map[int]models.Document),
		next:     1,
	}
}

// Rewrite renumbers the markers of text. Markers pointing outside the
// document list are dropped.
func (m *CitationMapper) Rewrite(text string) string {
	return citationMarker.ReplaceAllStringFunc(text, func(marker string) string {
		inner := citationMarker.FindStringSubmatch(marker)[1]
		var nums []string
		for _, part := range strings.Split(inner, ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil || idx < 1 || idx > len(m.docs) {
				continue
			}
			n, ok := m.assigned[idx]
			if !ok {
				n = m.next
				m.next++
				m.assigned[idx] = n
				m.cited[n] = m.docs[idx-1]
			}
			nums = append(nums, "["+strconv.Itoa(n)+"]")
		}
		return strings.Join(nums, "")
	})
}

// Cited returns the citation-number to document mapping built so far.
func (m *CitationMapper) Cited() map[int]models.Document {
	out := make(map[int]models.Document, len(m.cited))
	for k, v := range m.cited {
		out[k] = v
	}
	return out
}

// RemapCitations rewrites every [n] marker of text to [mapping[n]]. Markers
// without a mapping are dropped.
func RemapCitations(text string, mapping map[int]int) string {
	return citationMarker.ReplaceAllStringFunc(text, func(marker string) string {
		inner := citationMarker.FindStringSubmatch(marker)[1]
		var nums []string
		for _, part := range strings.Split(inner, ",") {
			idx, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				continue
			}
			if n, ok := mapping[idx]; ok {
				nums = append(nums, "["+strconv.Itoa(n)+"]")
			}
		}
		return strings.Join(nums, "")
	})
}

// CitationList orders a citation map by number.
func CitationList(cited map[int]models.Document) []models.Citation {
	out := make([]models.Citation, 0, len(cited))
	for n, d := range cited {
		out = append(out, models.Citation{Number: n, Document: d})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out
}

// citationConfig controls formatting behaviour.
type citationConfig struct {
	maxSnippet int
}

// CitationOption configures citation formatting.
type CitationOption func(*citationConfig)

// WithMaxSnippetLength truncates snippets to the provided length (default 180).
func WithMaxSnippetLength(n int) CitationOption {
	return func(cfg *citationConfig) {
		if n > 0 {
			cfg.maxSnippet = n
		}
	}
}

// FormatCitation renders a numbered citation as a footnote line:
// [n] Title — "Snippet" (domain) <URL>
func FormatCitation(c models.Citation, opts ...CitationOption) string {
	cfg := citationConfig{maxSnippet: 180}
	for _, opt := range opts {
		opt(&cfg)
	}

	parts := []string{"[" + strconv.Itoa(c.Number) + "]"}
	if title := strings.TrimSpace(c.Document.Title); title != "" {
		parts = append(parts, title)
	}
	if snippet := formatSnippet(c.Document.Snippet, cfg.maxSnippet); snippet != "" {
		parts = append(parts, "— "+snippet)
	}
	if domain := extractDomain(c.Document.URL); domain != "" {
		meta := domain
		if c.Document.PublishedAt != nil && !c.Document.PublishedAt.IsZero() {
			meta += ", " + c.Document.PublishedAt.Format("2006-01-02")
		}
		parts = append(parts, "("+meta+")")
	}
	if link := strings.TrimSpace(c.Document.URL); link != "" {
		parts = append(parts, "<"+link+">")
	}
	return strings.Join(parts, " ")
}

// FormatCitations renders a collection of citations.
func FormatCitations(citations []models.Citation, opts ...CitationOption) []string {
	if len(citations) == 0 {
		return nil
	}
	out := make([]string, 0, len(citations))
	for _, c := range citations {
		out = append(out, FormatCitation(c, opts...))
	}
	return out
}

func formatSnippet(snippet string, limit int) string {
	snippet = strings.Join(strings.Fields(snippet), " ")
	if snippet == "" {
		return ""
	}
	if limit > 0 && len(snippet) > limit {
		snippet = snippet[:limit] + "…"
	}
	return `"` + strings.Trim(snippet, `"`) + `"`
}

func extractDomain(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":80")
	return strings.TrimSuffix(host, ":443")
}
