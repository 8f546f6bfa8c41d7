// Package keywords supplies the community tag titles the classifier looks
// for in group questions. Sources return keywords in priority order; Cache
// keeps an immutable snapshot that is swapped on refresh.
package keywords

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gopkg.in/yaml.v3"
)

var ErrUnknownSource = errors.New("unknown keyword source")

// Keyword is one searchable tag. It decodes from either a bare string or an
// object with a title field.
type Keyword struct {
	Title string `json:"title" yaml:"title"`
}

func (k *Keyword) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		k.Title = s
		return nil
	}
	var obj struct {
		Title string `json:"title"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("keyword: %w", err)
	}
	k.Title = obj.Title
	return nil
}

func (k *Keyword) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		k.Title = node.Value
		return nil
	}
	var obj struct {
		Title string `yaml:"title"`
	}
	if err := node.Decode(&obj); err != nil {
		return fmt.Errorf("keyword: %w", err)
	}
	k.Title = obj.Title
	return nil
}

// Source fetches keywords in priority order. limit <= 0 fetches all.
type Source interface {
	Name() string
	Fetch(ctx context.Context, limit int) ([]Keyword, error)
}

// FromTitles wraps plain titles.
func FromTitles(titles []string) []Keyword {
	out := make([]Keyword, 0, len(titles))
	for _, t := range titles {
		out = append(out, Keyword{Title: t})
	}
	return out
}

func truncate(kws []Keyword, limit int) []Keyword {
	if limit > 0 && len(kws) > limit {
		return kws[:limit]
	}
	return kws
}

// StaticSource serves a fixed list from configuration.
type StaticSource struct {
	kws []Keyword
}

func NewStaticSource(titles []string) *StaticSource {
	return &StaticSource{kws: FromTitles(titles)}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Fetch(_ context.Context, limit int) ([]Keyword, error) {
	return truncate(s.kws, limit), nil
}
