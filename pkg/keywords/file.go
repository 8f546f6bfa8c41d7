package keywords

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/tinyland-inc/qunbridge/pkg/logger"
)

// FileSource reads keywords from a YAML or JSON file. The document is either
// a list or a mapping with a "keywords" list; entries are strings or
// {title: ...} objects.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

func (s *FileSource) Name() string { return "file" }

func (s *FileSource) Path() string { return s.path }

func (s *FileSource) Fetch(_ context.Context, limit int) ([]Keyword, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}
	kws, err := ParseFile(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", s.path, err)
	}
	return truncate(kws, limit), nil
}

// ParseFile decodes a keyword document. JSON is accepted as YAML.
func ParseFile(data []byte) ([]Keyword, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc.Kind == 0 || len(doc.Content) == 0 {
		return nil, nil
	}

	root := doc.Content[0]
	if root.Kind == yaml.MappingNode {
		var wrapped struct {
			Keywords []Keyword `yaml:"keywords"`
		}
		if err := root.Decode(&wrapped); err != nil {
			return nil, err
		}
		return wrapped.Keywords, nil
	}

	var kws []Keyword
	if err := root.Decode(&kws); err != nil {
		return nil, err
	}
	return kws, nil
}

const watchDebounce = 100 * time.Millisecond

// Watch calls onChange after path is written, created or replaced, until ctx
// ends. The parent directory is watched so editors that save by rename are
// still seen. Bursts of events are coalesced.
func Watch(ctx context.Context, path string, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return err
	}

	debounce := time.NewTimer(0)
	<-debounce.C
	defer debounce.Stop()
	pending := false

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			pending = true
			debounce.Reset(watchDebounce)

		case <-debounce.C:
			if pending {
				pending = false
				onChange()
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.WarnCF("keywords", "Watcher error", map[string]any{
				"path":  abs,
				"error": err.Error(),
			})
		}
	}
}
