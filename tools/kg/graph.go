// Package kg serves a small knowledge graph of entities and relationships
// declared in YAML.
package kg

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/blevesearch/bleve"
	"gopkg.in/yaml.v3"
)

var ErrUnknownEntity = errors.New("relation references unknown entity")

type Entity struct {
	ID          string            `yaml:"id" json:"id"`
	Name        string            `yaml:"name" json:"name"`
	Type        string            `yaml:"type" json:"type"`
	Description string            `yaml:"description" json:"description"`
	URL         string            `yaml:"url,omitempty" json:"url,omitempty"`
	Aliases     []string          `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Attributes  map[string]string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

type Relation struct {
	From        string `yaml:"from" json:"from"`
	To          string `yaml:"to" json:"to"`
	Type        string `yaml:"type" json:"type"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
}

type File struct {
	Entities  []Entity   `yaml:"entities"`
	Relations []Relation `yaml:"relations"`
}

// Graph indexes entities for lookup and keeps an adjacency list.
type Graph struct {
	entities map[string]Entity
	out      map[string][]Relation
	in       map[string][]Relation
	index    bleve.Index
}

type entityDoc struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Aliases     string `json:"aliases"`
	Description string `json:"description"`
}

func LoadFile(path string) (*Graph, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var f File
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return New(f)
}

func New(f File) (*Graph, error) {
	index, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, err
	}
	g := &Graph{
		entities: make(map[string]Entity, len(f.Entities)),
		out:      make(map[string][]Relation),
		in:       make(map[string][]Relation),
		index:    index,
	}
	for _, e := range f.Entities {
		if e.ID == "" {
			return nil, errors.New("entity without id")
		}
		if e.Name == "" {
			e.Name = e.ID
		}
		g.entities[e.ID] = e
		doc := entityDoc{Name: e.Name, Type: e.Type, Aliases: strings.Join(e.Aliases, " "), Description: e.Description}
		if err := index.Index(e.ID, doc); err != nil {
			return nil, fmt.Errorf("index entity %s: %w", e.ID, err)
		}
	}
	for _, r := range f.Relations {
		if _, ok := g.entities[r.From]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, r.From)
		}
		if _, ok := g.entities[r.To]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownEntity, r.To)
		}
		g.out[r.From] = append(g.out[r.From], r)
		g.in[r.To] = append(g.in[r.To], r)
	}
	return g, nil
}

// Find returns up to k entities matching q, best first.
func (g *Graph) Find(q string, k int) ([]Entity, error) {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchQuery(q), k, 0, false)
	res, err := g.index.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]Entity, 0, len(res.Hits))
	for _, hit := range res.Hits {
		if e, ok := g.entities[hit.ID]; ok {
			out = append(out, e)
		}
	}
	return out, nil
}

// Relations returns every edge touching id, outgoing first.
func (g *Graph) Relations(id string) []Relation {
	out := append([]Relation(nil), g.out[id]...)
	in := append([]Relation(nil), g.in[id]...)
	sort.SliceStable(in, func(i, j int) bool { return in[i].From < in[j].From })
	return append(out, in...)
}

func (g *Graph) Entity(id string) (Entity, bool) {
	e, ok := g.entities[id]
	return e, ok
}
