package models

// Result is a fetched page after readability extraction.
type Result struct {
	URL      string `json:"url"`
	Title    string `json:"title"`
	Byline   string `json:"byline"`
	SiteName string `json:"site_name"`
	Excerpt  string `json:"excerpt"`
	Text     string `json:"text"`
	TopImage string `json:"top_image"`
	HTMLHash string `json:"html_hash"`
	Status   int    `json:"status"`
	RenderMS int    `json:"render_ms"`
}

// OK reports whether the page was fetched and produced text.
func (r Result) OK() bool {
	return r.Status >= 200 && r.Status < 300 && r.Text != ""
}
