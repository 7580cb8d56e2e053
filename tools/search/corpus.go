package search

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/deepresearch/internal/helpers"
	"github.com/mohammad-safakhou/deepresearch/models"
)

const (
	chunkSize    = 1000
	chunkOverlap = 200
	snippetChars = 300
)

var corpusExtensions = map[string]bool{".md": true, ".markdown": true, ".txt": true}

// Chunk is the unit stored in the index.
type Chunk struct {
	ID         string `json:"id"`
	DocID      string `json:"doc_id"`
	Title      string `json:"title"`
	Path       string `json:"path"`
	URL        string `json:"url"`
	Text       string `json:"text"`
	ChunkIndex int    `json:"chunk_index"`
}

// Corpus is an in-memory BM25 index over local documents.
type Corpus struct {
	mu    sync.RWMutex
	index bleve.Index
	meta  map[string]Chunk
}

func NewCorpus() (*Corpus, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	return &Corpus{index: index, meta: make(map[string]Chunk)}, nil
}

// LoadDir indexes every markdown and text file under dir.
func LoadDir(dir string) (*Corpus, error) {
	c, err := NewCorpus()
	if err != nil {
		return nil, err
	}
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !corpusExtensions[strings.ToLower(filepath.Ext(path))] {
			return nil
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			rel = path
		}
		return c.Add(rel, titleOf(rel, string(raw)), "", string(raw))
	})
	if err != nil {
		return nil, fmt.Errorf("load corpus %s: %w", dir, err)
	}
	return c, nil
}

// Add chunks text and indexes it.
func (c *Corpus) Add(path, title, url, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	docID := sha1Hex(path + "\x00" + text)
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, part := range makeChunks(text, chunkSize, chunkOverlap) {
		chunk := Chunk{
			ID:         fmt.Sprintf("%s#%03d", docID, i),
			DocID:      docID,
			Title:      title,
			Path:       path,
			URL:        url,
			Text:       part,
			ChunkIndex: i,
		}
		if err := c.index.Index(chunk.ID, chunk); err != nil {
			return fmt.Errorf("index chunk %s: %w", chunk.ID, err)
		}
		c.meta[chunk.ID] = chunk
	}
	return nil
}

// Len counts indexed chunks.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.meta)
}

// Search returns the best chunk of each of the top k documents.
func (c *Corpus) Search(q string, k int) ([]models.Document, error) {
	if k <= 0 || k > 50 {
		k = 10
	}
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k*3, 0, false)
	res, err := c.index.Search(req)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	seen := make(map[string]bool)
	var out []models.Document
	for _, hit := range res.Hits {
		chunk, ok := c.meta[hit.ID]
		if !ok || seen[chunk.DocID] {
			continue
		}
		seen[chunk.DocID] = true
		out = append(out, models.Document{
			ID:       chunk.ID,
			Title:    chunk.Title,
			URL:      chunk.URL,
			Snippet:  helpers.Truncate(chunk.Text, snippetChars),
			Content:  chunk.Text,
			Source:   models.SourceInternal,
			Score:    hit.Score,
			Metadata: map[string]string{"path": chunk.Path},
		})
		if len(out) >= k {
			break
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func titleOf(path, text string) string {
	for _, line := range strings.SplitN(text, "\n", 5) {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func sha1Hex(s string) string {
	h := sha1.Sum([]byte(s))
	return hex.EncodeToString(h[:])
}

// makeChunks splits text into overlapping windows of approx runes.
func makeChunks(text string, approx, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= approx {
		return []string{text}
	}
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + approx
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}
