package endpoints

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Package endpoints loads the named backend URLs the client talks to from YAML/JSON files.

// Endpoint kinds.
const (
	KindCourses = "courses" // GET, JSON array of courses
	KindCourse  = "course"  // POST/PUT, single course echoed back
	KindImage   = "image"   // GET, image bytes
	KindUpload  = "upload"  // multipart image upload
	KindRaw     = "raw"     // GET, body returned as-is
)

var defaultMethods = map[string]string{
	KindCourses: http.MethodGet,
	KindCourse:  http.MethodPost,
	KindImage:   http.MethodGet,
	KindUpload:  http.MethodPost,
	KindRaw:     http.MethodGet,
}

// Endpoint is a single configured URL.
type Endpoint struct {
	ID      string            `json:"id" yaml:"id"`
	Name    string            `json:"name" yaml:"name"`
	Kind    string            `json:"kind" yaml:"kind"`
	URL     string            `json:"url" yaml:"url"`
	Method  string            `json:"method" yaml:"method"`
	Headers map[string]string `json:"headers" yaml:"headers"`
}

type fileRegistry struct {
	Endpoints []Endpoint `json:"endpoints" yaml:"endpoints"`
}

// Registry materializes endpoint definitions loaded from config files.
type Registry struct {
	mu        sync.RWMutex
	endpoints []Endpoint
	idx       map[string]Endpoint
}

// LoadRegistry loads the endpoint registry from a YAML/JSON file.
func LoadRegistry(path string) (*Registry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("endpoints file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open endpoints file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read endpoints file: %w", err)
	}

	reg, err := parseRegistry(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return NewRegistry(reg.Endpoints)
}

// NewRegistry sanitizes and validates endpoints and indexes them by id.
func NewRegistry(list []Endpoint) (*Registry, error) {
	if len(list) == 0 {
		return nil, errors.New("endpoints file contains no endpoints entries")
	}

	reg := &Registry{
		endpoints: make([]Endpoint, len(list)),
		idx:       make(map[string]Endpoint, len(list)),
	}
	for i := range list {
		e := sanitizeEndpoint(list[i])
		if err := validateEndpoint(e); err != nil {
			return nil, fmt.Errorf("endpoint[%d]: %w", i, err)
		}
		if _, exists := reg.idx[e.ID]; exists {
			return nil, fmt.Errorf("duplicate endpoint id %q", e.ID)
		}
		reg.endpoints[i] = e
		reg.idx[e.ID] = e
	}
	return reg, nil
}

func parseRegistry(data []byte, ext string) (fileRegistry, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		if reg, err := unmarshalRegistry(d.name, data, d.fn); err == nil {
			return reg, nil
		}
	}

	return fileRegistry{}, errors.New("endpoints file format not recognized (expected YAML or JSON)")
}

type unmarshalFn func([]byte, any) error

func unmarshalRegistry(name string, data []byte, fn unmarshalFn) (fileRegistry, error) {
	var reg fileRegistry
	if err := fn(data, &reg); err != nil {
		return fileRegistry{}, fmt.Errorf("decode %s endpoints: %w", name, err)
	}
	return reg, nil
}

// sanitizeEndpoint trims fields, fills the default method and expands ${VAR} in header values.
func sanitizeEndpoint(e Endpoint) Endpoint {
	e.ID = strings.TrimSpace(e.ID)
	e.Name = strings.TrimSpace(e.Name)
	e.Kind = strings.ToLower(strings.TrimSpace(e.Kind))
	e.URL = strings.TrimSpace(os.ExpandEnv(e.URL))
	e.Method = strings.ToUpper(strings.TrimSpace(e.Method))
	if e.Method == "" {
		e.Method = defaultMethods[e.Kind]
	}
	if e.Name == "" {
		e.Name = e.ID
	}

	if len(e.Headers) > 0 {
		headers := make(map[string]string, len(e.Headers))
		for k, v := range e.Headers {
			key := strings.TrimSpace(k)
			val := strings.TrimSpace(os.ExpandEnv(v))
			if key == "" || val == "" {
				continue
			}
			headers[key] = val
		}
		e.Headers = headers
	}
	return e
}

func validateEndpoint(e Endpoint) error {
	if e.ID == "" {
		return errors.New("id is required")
	}
	if e.URL == "" {
		return fmt.Errorf("url is required for endpoint %q", e.ID)
	}
	if _, ok := defaultMethods[e.Kind]; !ok {
		return fmt.Errorf("unknown kind %q for endpoint %q", e.Kind, e.ID)
	}
	if e.Kind == KindCourse && e.Method != http.MethodPost && e.Method != http.MethodPut {
		return fmt.Errorf("course endpoint %q must use POST or PUT, got %s", e.ID, e.Method)
	}
	return nil
}

// ByID returns the endpoint by id.
func (r *Registry) ByID(id string) (Endpoint, bool) {
	if r == nil {
		return Endpoint{}, false
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return Endpoint{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.idx[id]
	return e, ok
}

// Lookup returns the endpoint by id, checking that it is of the wanted kind.
func (r *Registry) Lookup(id, kind string) (Endpoint, error) {
	e, ok := r.ByID(id)
	if !ok {
		return Endpoint{}, fmt.Errorf("endpoint %q not configured", id)
	}
	if e.Kind != kind {
		return Endpoint{}, fmt.Errorf("endpoint %q is of kind %q, want %q", id, e.Kind, kind)
	}
	return e, nil
}

// All returns all configured endpoints.
func (r *Registry) All() []Endpoint {
	if r == nil {
		return nil
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Endpoint, len(r.endpoints))
	copy(out, r.endpoints)
	return out
}

// OfKind returns endpoints of the given kind in file order.
func (r *Registry) OfKind(kind string) []Endpoint {
	var out []Endpoint
	for _, e := range r.All() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}
