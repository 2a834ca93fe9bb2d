package templates

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"

	"gopkg.in/yaml.v3"
)

// TemplateDefinition represents a template in the YAML definition file
type TemplateDefinition struct {
	Name      string     `yaml:"name"`
	Path      string     `yaml:"path"`
	Family    string     `yaml:"family,omitempty"`
	Mandatory bool       `yaml:"mandatory,omitempty"`
	Region    *RegionDef `yaml:"region,omitempty"`
}

// RegionDef represents a search region in the YAML file
type RegionDef struct {
	X1 int `yaml:"x1"`
	Y1 int `yaml:"y1"`
	X2 int `yaml:"x2"`
	Y2 int `yaml:"y2"`
}

// TemplateFile represents the structure of a template YAML file
type TemplateFile struct {
	Templates []TemplateDefinition `yaml:"templates"`
}

// LoadDefinitions reads and validates a template definition file
func LoadDefinitions(filePath string) ([]TemplateDefinition, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file %s: %w", filePath, err)
	}

	var templateFile TemplateFile
	if err := yaml.Unmarshal(data, &templateFile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template YAML: %w", err)
	}

	seen := make(map[string]bool)
	for i, def := range templateFile.Templates {
		if def.Name == "" {
			return nil, fmt.Errorf("template %d: name cannot be empty", i+1)
		}
		if def.Path == "" {
			return nil, fmt.Errorf("template %d (%s): path cannot be empty", i+1, def.Name)
		}
		if seen[def.Name] {
			return nil, fmt.Errorf("template %d (%s): duplicate name", i+1, def.Name)
		}
		seen[def.Name] = true
	}

	return templateFile.Templates, nil
}

// SizeStore persists resolved template sizes between runs
type SizeStore interface {
	TemplateSize(name string) (image.Point, bool)
	SetTemplateSize(name string, size image.Point) error
}

// CacheStats tracks store activity
type CacheStats struct {
	Hits         int64 // Get found the template
	Misses       int64 // Get asked for an unloaded name
	Loads        int64 // Successful loads
	LoadFailures int64
	Resolved     int64 // Sizes resolved from bitmaps
}

// Store holds named reference bitmaps. Reads vastly outnumber writes, a reload can race
// with an in-flight match so access is guarded by an RWMutex.
type Store struct {
	mu        sync.RWMutex
	templates map[string]*Template
	resolved  map[string]image.Point // sizes that may never revert to unresolved
	basePath  string
	scale     float64
	sizes     SizeStore
	stats     CacheStats

	hits   atomic.Int64
	misses atomic.Int64
}

// Option configures a Store
type Option func(*Store)

// WithSizeStore sets where resolved sizes are read from and written back to
func WithSizeStore(s SizeStore) Option {
	return func(st *Store) {
		st.sizes = s
	}
}

// WithScale resizes every loaded bitmap, used when the target renders at a different DPI
// than the one the templates were cut at
func WithScale(factor float64) Option {
	return func(st *Store) {
		st.scale = factor
	}
}

// NewStore creates a template store.
// basePath is the root directory where template image files are stored.
func NewStore(basePath string, opts ...Option) *Store {
	s := &Store{
		templates: make(map[string]*Template),
		resolved:  make(map[string]image.Point),
		basePath:  basePath,
		scale:     1,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) resolvePath(p string) string {
	if filepath.IsAbs(p) || s.basePath == "" {
		return p
	}
	return filepath.Join(s.basePath, p)
}

// Load decodes a template bitmap and registers it, replacing any template with the same name
func (s *Store) Load(def TemplateDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}

	path := s.resolvePath(def.Path)
	img, err := decodeFile(path)
	if err != nil {
		s.mu.Lock()
		s.stats.LoadFailures++
		s.mu.Unlock()
		return fmt.Errorf("template %s: %w", def.Name, err)
	}
	img = Scale(img, s.scale)

	t := &Template{
		Name:      def.Name,
		Path:      path,
		Family:    def.Family,
		Mandatory: def.Mandatory,
		Image:     img,
		KnownSize: UnresolvedSize,
	}
	if def.Region != nil {
		r := image.Rect(def.Region.X1, def.Region.Y1, def.Region.X2, def.Region.Y2)
		t.Region = &r
	}

	if s.sizes != nil {
		if size, ok := s.sizes.TemplateSize(def.Name); ok {
			t.KnownSize = size
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !t.SizeResolved() {
		if size, ok := s.resolved[def.Name]; ok {
			t.KnownSize = size
		}
	} else {
		s.resolved[def.Name] = t.KnownSize
	}

	s.templates[def.Name] = t
	s.stats.Loads++
	return nil
}

// LoadReport summarises LoadAll
type LoadReport struct {
	Loaded          []string
	MandatoryFailed map[string]error
	OptionalFailed  map[string]error
}

// Err returns an error naming every mandatory template that failed, or nil
func (r LoadReport) Err() error {
	if len(r.MandatoryFailed) == 0 {
		return nil
	}
	names := make([]string, 0, len(r.MandatoryFailed))
	for name := range r.MandatoryFailed {
		names = append(names, name)
	}
	sort.Strings(names)

	errs := make([]error, 0, len(names))
	for _, name := range names {
		errs = append(errs, r.MandatoryFailed[name])
	}
	return fmt.Errorf("mandatory templates missing %v: %w", names, errors.Join(errs...))
}

// LoadAll loads every definition, splitting failures into mandatory and optional
func (s *Store) LoadAll(defs []TemplateDefinition) LoadReport {
	report := LoadReport{
		MandatoryFailed: make(map[string]error),
		OptionalFailed:  make(map[string]error),
	}

	for _, def := range defs {
		if err := s.Load(def); err != nil {
			if def.Mandatory {
				report.MandatoryFailed[def.Name] = err
			} else {
				report.OptionalFailed[def.Name] = err
			}
			continue
		}
		report.Loaded = append(report.Loaded, def.Name)
	}

	return report
}

// Register adds an already decoded template, used by tests and by callers that build
// templates in memory
func (s *Store) Register(t *Template) error {
	if t == nil || t.Name == "" {
		return fmt.Errorf("template name cannot be empty")
	}
	if t.Image == nil || t.Image.Bounds().Empty() {
		return fmt.Errorf("template %s: %w", t.Name, ErrEmptyImage)
	}

	cp := *t
	s.mu.Lock()
	defer s.mu.Unlock()

	if cp.SizeResolved() {
		s.resolved[cp.Name] = cp.KnownSize
	} else if size, ok := s.resolved[cp.Name]; ok {
		cp.KnownSize = size
	}
	s.templates[cp.Name] = &cp
	return nil
}

// Get retrieves a template by name
func (s *Store) Get(name string) (*Template, error) {
	s.mu.RLock()
	t, ok := s.templates[name]
	s.mu.RUnlock()

	if !ok {
		s.misses.Add(1)
		return nil, fmt.Errorf("%s: %w", name, ErrTemplateNotLoaded)
	}
	s.hits.Add(1)
	return t, nil
}

// ResolveSize records the on-screen size of a template whose known size was unresolved.
// The template is replaced with a copy and the size is written to the SizeStore.
// Resolving an already resolved template is a no-op.
func (s *Store) ResolveSize(name string, size image.Point) (*Template, error) {
	if size.X <= 0 || size.Y <= 0 {
		return nil, fmt.Errorf("template %s: invalid size %s", name, FormatSize(size))
	}

	s.mu.Lock()
	t, ok := s.templates[name]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", name, ErrTemplateNotLoaded)
	}
	if t.SizeResolved() {
		s.mu.Unlock()
		return t, nil
	}

	updated := t.withSize(size)
	s.templates[name] = updated
	s.resolved[name] = size
	s.stats.Resolved++
	s.mu.Unlock()

	if s.sizes != nil {
		if err := s.sizes.SetTemplateSize(name, size); err != nil {
			return updated, fmt.Errorf("failed to persist size of %s: %w", name, err)
		}
	}
	return updated, nil
}

// Has checks if a template is loaded
func (s *Store) Has(name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.templates[name]
	return ok
}

// List returns all loaded template names, sorted
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.templates))
	for name := range s.templates {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Count returns the number of loaded templates
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.templates)
}

// Remove unloads a template. Its resolved size is kept.
func (s *Store) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.templates[name]; ok {
		delete(s.templates, name)
		return true
	}
	return false
}

// Clear unloads every template. Resolved sizes are kept.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.templates = make(map[string]*Template)
}

// Stats returns store statistics
func (s *Store) Stats() CacheStats {
	s.mu.RLock()
	stats := s.stats
	s.mu.RUnlock()

	stats.Hits = s.hits.Load()
	stats.Misses = s.misses.Load()
	return stats
}
