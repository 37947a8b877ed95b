// Package routes maps endpoint names onto the functional areas that route/action
// grants are recorded against.
package routes

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed routes.yaml
var defaultTable []byte

type document struct {
	Areas  map[string][]string `yaml:"areas"`
	Public []string            `yaml:"public"`
}

// Table is an immutable endpoint → area mapping.
type Table struct {
	byEndpoint map[string]string
	public     map[string]struct{}
	areas      []string
}

// Default returns the built-in table.
func Default() *Table {
	t, err := Parse(defaultTable)
	if err != nil {
		panic(fmt.Sprintf("routes: embedded table: %v", err))
	}
	return t
}

// Load reads a YAML table from r.
func Load(r io.Reader) (*Table, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse decodes a YAML table. An endpoint listed under two areas, or both under an
// area and as public, is rejected.
func Parse(data []byte) (*Table, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("routes: decode: %w", err)
	}
	if len(doc.Areas) == 0 {
		return nil, errors.New("routes: no areas defined")
	}

	t := &Table{
		byEndpoint: make(map[string]string),
		public:     make(map[string]struct{}, len(doc.Public)),
	}
	for area, endpoints := range doc.Areas {
		area = strings.TrimSpace(area)
		if area == "" {
			return nil, errors.New("routes: empty area name")
		}
		t.areas = append(t.areas, area)
		for _, ep := range endpoints {
			ep = strings.TrimSpace(ep)
			if ep == "" {
				return nil, fmt.Errorf("routes: empty endpoint in area %q", area)
			}
			if prev, ok := t.byEndpoint[ep]; ok {
				return nil, fmt.Errorf("routes: endpoint %q mapped to both %q and %q", ep, prev, area)
			}
			t.byEndpoint[ep] = area
		}
	}
	for _, ep := range doc.Public {
		ep = strings.TrimSpace(ep)
		if area, ok := t.byEndpoint[ep]; ok {
			return nil, fmt.Errorf("routes: endpoint %q is public and mapped to %q", ep, area)
		}
		t.public[ep] = struct{}{}
	}
	sort.Strings(t.areas)
	return t, nil
}

// Resolve returns the area for endpoint. Unmapped endpoints fall back to hint, then
// to the endpoint name itself.
func (t *Table) Resolve(endpoint, hint string) string {
	if area, ok := t.byEndpoint[endpoint]; ok {
		return area
	}
	if hint != "" {
		return hint
	}
	return endpoint
}

// Area reports the mapped area without fallback.
func (t *Table) Area(endpoint string) (string, bool) {
	area, ok := t.byEndpoint[endpoint]
	return area, ok
}

func (t *Table) IsPublic(endpoint string) bool {
	_, ok := t.public[endpoint]
	return ok
}

// Known reports whether endpoint is either mapped or public.
func (t *Table) Known(endpoint string) bool {
	_, mapped := t.byEndpoint[endpoint]
	return mapped || t.IsPublic(endpoint)
}

// Areas returns the sorted area names.
func (t *Table) Areas() []string {
	out := make([]string, len(t.areas))
	copy(out, t.areas)
	return out
}

// Endpoints returns the mapped endpoints of area, sorted.
func (t *Table) Endpoints(area string) []string {
	var out []string
	for ep, a := range t.byEndpoint {
		if a == area {
			out = append(out, ep)
		}
	}
	sort.Strings(out)
	return out
}
