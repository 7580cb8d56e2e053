package helpers

import (
	"testing"
	"time"

	"github.com/mohammad-safakhou/deepresearch/models"
)

func TestCitationMapperKeepsDenseNumbers(t *testing.T) {
	t.Parallel()
	docs := []models.Document{
		{ID: "a", Title: "Doc A", URL: "https://a.example.com"},
		{ID: "b", Title: "Doc B", URL: "https://b.example.com"},
	}
	m := NewCitationMapper(docs)
	text, cited := m.Rewrite("X is fast [1] and safe [2]."), m.Cited()
	if text != "X is fast [1] and safe [2]." {
		t.Fatalf("unexpected text %q", text)
	}
	if len(cited) != 2 || cited[1].ID != "a" || cited[2].ID != "b" {
		t.Fatalf("unexpected citations %#v", cited)
	}
}

func TestCitationMapperRenumbersByFirstUse(t *testing.T) {
	t.Parallel()
	docs := []models.Document{{ID: "a"}, {ID: "b"}, {ID: "c"}}
	m := NewCitationMapper(docs)
	text, cited := m.Rewrite("First [3], then [1, 3] and a bogus [9]."), m.Cited()
	want := "First [1], then [2][1] and a bogus ."
	if text != want {
		t.Fatalf("expected %q, got %q", want, text)
	}
	if len(cited) != 2 || cited[1].ID != "c" || cited[2].ID != "a" {
		t.Fatalf("unexpected citations %#v", cited)
	}
	list := CitationList(cited)
	if len(list) != 2 || list[0].Number != 1 || list[1].Number != 2 {
		t.Fatalf("unexpected list %#v", list)
	}
}

func TestFormatCitation(t *testing.T) {
	t.Parallel()
	published := time.Date(2024, 4, 15, 0, 0, 0, 0, time.UTC)
	c := models.Citation{Number: 1, Document: models.Document{
		Title:       "Investigative Report",
		URL:         "https://example.com/news/report?ref=homepage",
		Snippet:     "Key findings indicate a significant shift in policy direction.",
		PublishedAt: &published,
	}}

	got := FormatCitation(c)
	want := `[1] Investigative Report — "Key findings indicate a significant shift in policy direction." (example.com, 2024-04-15) <https://example.com/news/report?ref=homepage>`
	if got != want {
		t.Fatalf("FormatCitation() = %q, want %q", got, want)
	}
}

func TestFormatCitationTruncatesSnippet(t *testing.T) {
	t.Parallel()
	c := models.Citation{Number: 2, Document: models.Document{
		Snippet: "A very long snippet that should be truncated for neat citation summaries.",
		URL:     "https://example.com/article",
	}}
	got := FormatCitation(c, WithMaxSnippetLength(40))
	want := `[2] — "A very long snippet that should be trunc…" (example.com) <https://example.com/article>`
	if got != want {
		t.Fatalf("FormatCitation() = %q, want %q", got, want)
	}
}

func TestCitationMapperSharesNumbering(t *testing.T) {
	t.Parallel()
	docs := []models.Document{{ID: "a"}, {ID: "b"}}
	m := NewCitationMapper(docs)
	answer := m.Rewrite("Answer cites [2].")
	claim := m.Rewrite("Claim cites [1] and [2].")
	if answer != "Answer cites [1]." || claim != "Claim cites [2] and [1]." {
		t.Fatalf("unexpected rewrite %q / %q", answer, claim)
	}
	cited := m.Cited()
	if cited[1].ID != "b" || cited[2].ID != "a" {
		t.Fatalf("unexpected mapping %#v", cited)
	}
}

func TestRemapCitations(t *testing.T) {
	t.Parallel()
	got := RemapCitations("a [1], b [2, 3] and c [4].", map[int]int{1: 5, 2: 1, 3: 2})
	if got != "a [5], b [1][2] and c ." {
		t.Fatalf("unexpected remap %q", got)
	}
}
