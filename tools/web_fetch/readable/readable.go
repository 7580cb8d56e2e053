// Package readable turns raw HTML into a models.Result with readability.
package readable

import (
	"crypto/sha1"
	"encoding/hex"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/tools/web_fetch/models"
)

// Extract runs readability over html. Extraction failures still return the
// status and timing so callers can tell an empty page from a failed fetch.
func Extract(rawURL, html string, status, maxChars int, started time.Time) models.Result {
	res := models.Result{URL: rawURL, Status: status}
	sum := sha1.Sum([]byte(html))
	res.HTMLHash = hex.EncodeToString(sum[:])

	article, err := readability.FromReader(strings.NewReader(html), parseURL(rawURL))
	if err != nil {
		res.RenderMS = int(time.Since(started) / time.Millisecond)
		return res
	}
	res.Title = strings.TrimSpace(article.Title)
	res.Byline = strings.TrimSpace(article.Byline)
	res.SiteName = strings.TrimSpace(article.SiteName)
	res.Excerpt = helpers.PromptText(article.Excerpt, 1000)
	res.TopImage = article.Image
	res.Text = helpers.PromptText(article.TextContent, maxChars)
	res.RenderMS = int(time.Since(started) / time.Millisecond)
	return res
}

func parseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}
