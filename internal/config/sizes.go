package config

import (
	"fmt"
	"image"
	"os"
	"sort"
	"sync"

	"gopkg.in/ini.v1"

	"github.com/linyvhuo/webot/pkg/templates"
)

// SizeStore persists resolved template sizes to the [TemplateSizes] section of an INI file.
// Only that section is rewritten, the rest of the file is kept as loaded.
type SizeStore struct {
	path  string
	mu    sync.Mutex
	sizes map[string]image.Point
}

// NewSizeStore creates a size store backed by path, seeded with sizes already loaded
func NewSizeStore(path string, initial map[string]image.Point) *SizeStore {
	sizes := make(map[string]image.Point, len(initial))
	for k, v := range initial {
		sizes[k] = v
	}
	return &SizeStore{path: path, sizes: sizes}
}

// TemplateSize implements templates.SizeStore
func (s *SizeStore) TemplateSize(name string) (image.Point, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	size, ok := s.sizes[name]
	return size, ok
}

// SetTemplateSize implements templates.SizeStore. The value is kept in memory even when
// writing the file fails.
func (s *SizeStore) SetTemplateSize(name string, size image.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sizes[name] = size
	if s.path == "" {
		return nil
	}

	// Loose tolerates a settings file that does not exist yet
	opts := loadOptions
	opts.Loose = true
	file, err := ini.LoadSources(opts, s.path)
	if err != nil {
		return fmt.Errorf("failed to load %s for size write-back: %w", s.path, err)
	}

	file.Section(sectionSizes).Key(name).SetValue(templates.FormatSize(size))
	if err := file.SaveTo(s.path); err != nil {
		return fmt.Errorf("failed to write template size of %s: %w", name, err)
	}
	return nil
}

// Sizes returns a copy of every known size
func (s *SizeStore) Sizes() map[string]image.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]image.Point, len(s.sizes))
	for k, v := range s.sizes {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]image.Point) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Exists reports whether a settings file is present at path
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
