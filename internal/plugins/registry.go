// Package plugins provides a plugin registry for readers and writers.
package plugins

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"

	"github.com/dkotama/firefly-telegram-assistant/pkg/api"
)

// Plugin is what readers and writers have in common.
type Plugin interface {
	// Name is the value selected by ASSISTANT_READER or ASSISTANT_WRITER.
	Name() string
	Description() string
	// RequiredScopes lists Google OAuth scopes. Nil means the plugin talks to Firefly.
	RequiredScopes() []string
	// ConfigSchema is a JSON schema of the plugin config.
	ConfigSchema() map[string]any
}

// ReaderPlugin builds transaction record readers.
type ReaderPlugin interface {
	Plugin
	NewReader(httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Reader, error)
}

// WriterPlugin builds finalized expense writers.
type WriterPlugin interface {
	Plugin
	NewWriter(httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error)
}

// Info describes a registered plugin.
type Info struct {
	Name        string         `json:"name"`
	Kind        string         `json:"kind"`
	Description string         `json:"description"`
	Scopes      []string       `json:"scopes,omitempty"`
	Schema      map[string]any `json:"schema"`
}

// set holds the plugins of one kind by name.
type set[P Plugin] struct {
	kind    string
	plugins map[string]P
}

func newSet[P Plugin](kind string) set[P] {
	return set[P]{kind: kind, plugins: make(map[string]P)}
}

func (s set[P]) add(p P) error {
	name := p.Name()
	if _, exists := s.plugins[name]; exists {
		return fmt.Errorf("%s plugin %q already registered", s.kind, name)
	}
	s.plugins[name] = p
	return nil
}

func (s set[P]) get(name string) (P, error) {
	p, ok := s.plugins[name]
	if !ok {
		var zero P
		return zero, fmt.Errorf("%s plugin %q not found (available: %v)", s.kind, name, s.names())
	}
	return p, nil
}

func (s set[P]) names() []string {
	return slices.Sorted(maps.Keys(s.plugins))
}

func (s set[P]) sorted() []P {
	out := make([]P, 0, len(s.plugins))
	for _, name := range s.names() {
		out = append(out, s.plugins[name])
	}
	return out
}

func (s set[P]) describe() []Info {
	out := make([]Info, 0, len(s.plugins))
	for _, p := range s.sorted() {
		out = append(out, Info{
			Name:        p.Name(),
			Kind:        s.kind,
			Description: p.Description(),
			Scopes:      p.RequiredScopes(),
			Schema:      p.ConfigSchema(),
		})
	}
	return out
}

// Registry manages available reader and writer plugins.
type Registry struct {
	readers set[ReaderPlugin]
	writers set[WriterPlugin]
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		readers: newSet[ReaderPlugin]("reader"),
		writers: newSet[WriterPlugin]("writer"),
	}
}

// RegisterReader registers a reader plugin. Names are unique per kind.
func (r *Registry) RegisterReader(p ReaderPlugin) error { return r.readers.add(p) }

// RegisterWriter registers a writer plugin.
func (r *Registry) RegisterWriter(p WriterPlugin) error { return r.writers.add(p) }

// GetReader returns a reader plugin by name.
func (r *Registry) GetReader(name string) (ReaderPlugin, error) { return r.readers.get(name) }

// GetWriter returns a writer plugin by name.
func (r *Registry) GetWriter(name string) (WriterPlugin, error) { return r.writers.get(name) }

// ListReaders returns all reader plugins sorted by name.
func (r *Registry) ListReaders() []ReaderPlugin { return r.readers.sorted() }

// ListWriters returns all writer plugins sorted by name.
func (r *Registry) ListWriters() []WriterPlugin { return r.writers.sorted() }

// Describe lists every plugin, readers first.
func (r *Registry) Describe() []Info {
	return slices.Concat(r.readers.describe(), r.writers.describe())
}

// GetAllScopes returns the sorted union of the OAuth scopes the reader and
// writer need.
func (r *Registry) GetAllScopes(readerName, writerName string) ([]string, error) {
	reader, err := r.GetReader(readerName)
	if err != nil {
		return nil, err
	}
	writer, err := r.GetWriter(writerName)
	if err != nil {
		return nil, err
	}

	scopes := slices.Concat(reader.RequiredScopes(), writer.RequiredScopes())
	slices.Sort(scopes)
	return slices.Compact(scopes), nil
}

// CreateReader looks up a reader plugin and builds a reader from config.
func (r *Registry) CreateReader(name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Reader, error) {
	p, err := r.GetReader(name)
	if err != nil {
		return nil, err
	}
	return p.NewReader(httpClient, config, logger)
}

// CreateWriter looks up a writer plugin and builds a writer from config.
func (r *Registry) CreateWriter(name string, httpClient *http.Client, config json.RawMessage, logger *slog.Logger) (api.Writer, error) {
	p, err := r.GetWriter(name)
	if err != nil {
		return nil, err
	}
	return p.NewWriter(httpClient, config, logger)
}
