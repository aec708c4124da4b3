// Package catalog loads the progression catalog: the phase table and the badge
// catalog, declared together in one TOML document.
//
// A default document is embedded in the binary. Deployments can point
// CATALOG_PATH at their own file; it replaces the default entirely.
package catalog

import (
	"bytes"
	_ "embed"
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/jornada-hub/jornada/internal/domain/badge"
	"github.com/jornada-hub/jornada/internal/domain/phase"
)

//go:embed default.toml
var defaultDocument []byte

// DefaultSource names the embedded document in logs and errors.
const DefaultSource = "embedded:default.toml"

// Document is the on-disk shape of the catalog.
type Document struct {
	Phases []phase.Phase `toml:"phases"`
	Badges []badge.Badge `toml:"badges"`
}

// Catalog is the validated, immutable result of loading a Document.
type Catalog struct {
	Phases *phase.Table
	Badges *badge.Catalog
	Source string
}

// Load reads the catalog at path, or the embedded default when path is empty.
func Load(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	return Parse(data, path)
}

// Default returns the embedded catalog.
func Default() (*Catalog, error) {
	return Parse(defaultDocument, DefaultSource)
}

// MustDefault is like Default but panics. The embedded document is covered by
// tests, so this only fails on a broken build.
func MustDefault() *Catalog {
	c, err := Default()
	if err != nil {
		panic(err)
	}
	return c
}

// Parse decodes and validates a TOML catalog. Unknown keys are rejected so a
// typo in a requirement does not silently produce an unreachable badge.
func Parse(data []byte, source string) (*Catalog, error) {
	var doc Document
	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode catalog %s: %w", source, err)
	}

	phases, err := phase.NewTable(doc.Phases)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", source, err)
	}
	badges, err := badge.NewCatalog(doc.Badges)
	if err != nil {
		return nil, fmt.Errorf("catalog %s: %w", source, err)
	}

	return &Catalog{Phases: phases, Badges: badges, Source: source}, nil
}
