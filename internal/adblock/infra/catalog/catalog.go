// Package catalog loads filter source catalogs from YAML, JSON or TOML files.
//
// A catalog lists sources under a top-level "sources" key:
//
//	sources:
//	  - id: easylist
//	    url: https://easylist.to/easylist/easylist.txt
//	  - url: https://easylist.to/easylist/easyprivacy.txt
//
// An entry without an id gets one derived from its URL.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"

	"github.com/haukened/rr-adblock/internal/adblock/common/urlutil"
	"github.com/haukened/rr-adblock/internal/adblock/domain"
)

type entry struct {
	ID  string `koanf:"id"`
	URL string `koanf:"url"`
}

// Load reads the catalog at path. A directory is walked and every supported
// file in it is loaded, in lexical order.
func Load(path string) ([]domain.SourceSpec, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: source catalog: %v", domain.ErrInvalidInput, err)
	}
	if !info.IsDir() {
		return loadFile(path, true)
	}

	var specs []domain.SourceSpec
	err = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		got, err := loadFile(p, false)
		if err != nil {
			return fmt.Errorf("error parsing source catalog %s: %w", p, err)
		}
		specs = append(specs, got...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no sources in catalog directory %s", domain.ErrInvalidInput, path)
	}
	return specs, nil
}

// parserFor picks the koanf parser for a file extension.
func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return yaml.Parser()
	case ".json":
		return json.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return nil
	}
}

// loadFile parses one catalog file. Unsupported extensions are an error when
// strict, and skipped otherwise.
func loadFile(path string, strict bool) ([]domain.SourceSpec, error) {
	parser := parserFor(path)
	if parser == nil {
		if strict {
			return nil, fmt.Errorf("%w: unsupported catalog format %q", domain.ErrInvalidInput, filepath.Ext(path))
		}
		return nil, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, fmt.Errorf("failed to load source catalog %s: %w", path, err)
	}

	var entries []entry
	if err := k.Unmarshal("sources", &entries); err != nil {
		return nil, fmt.Errorf("invalid source catalog %s: %w", path, err)
	}

	specs := make([]domain.SourceSpec, 0, len(entries))
	for i, e := range entries {
		u := strings.TrimSpace(e.URL)
		if !urlutil.IsHTTPURL(u) {
			return nil, fmt.Errorf("%w: %s: source %d has invalid url %q", domain.ErrInvalidInput, path, i, e.URL)
		}
		specs = append(specs, domain.SourceSpec{ID: strings.TrimSpace(e.ID), URL: u})
	}
	return specs, nil
}

