package websearch

import (
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
)

// Choice is one URL a branch chose to open for its question.
type Choice struct {
	Question string
	Document models.Document
}

// Plan is the result of the dedup stage.
type Plan struct {
	// QuestionURLs maps each question to the URLs it chose, in choice order.
	QuestionURLs map[string][]string
	// Documents holds one search result per unique URL; first occurrence wins.
	Documents []models.Document
}

// Dedup merges the choices of all branches so each page is fetched once.
// URLs are compared by their canonical form.
func Dedup(choices []Choice) Plan {
	plan := Plan{QuestionURLs: make(map[string][]string)}
	canonical := make(map[string]string)
	for _, c := range choices {
		if c.Document.URL == "" {
			continue
		}
		key := helpers.DedupKey(c.Document.URL)
		url, seen := canonical[key]
		if !seen {
			url = c.Document.URL
			canonical[key] = url
			plan.Documents = append(plan.Documents, c.Document)
		}
		if !contains(plan.QuestionURLs[c.Question], url) {
			plan.QuestionURLs[c.Question] = append(plan.QuestionURLs[c.Question], url)
		}
	}
	return plan
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
