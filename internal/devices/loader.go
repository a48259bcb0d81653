package devices

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenDO96/internal/types"
	"gopkg.in/yaml.v3"
)

var profileExtensions = []string{".json", ".yaml", ".yml"}

type ProfileLoader struct {
	cache       sync.Map
	validator   *Validator
	searchPaths []string
}

func NewProfileLoader(searchPaths []string) (*ProfileLoader, error) {
	validator, err := NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create validator: %w", err)
	}

	return &ProfileLoader{
		validator:   validator,
		searchPaths: searchPaths,
	}, nil
}

// Load finds a profile by name in the search paths, trying .json, .yaml
// and .yml in that order, and validates it. Results are cached by name.
func (l *ProfileLoader) Load(name string) (*types.CardProfileDefinition, error) {
	if cached, ok := l.cache.Load(name); ok {
		return cached.(*types.CardProfileDefinition), nil
	}

	var data []byte
	var foundPath string

search:
	for _, searchPath := range l.searchPaths {
		for _, ext := range profileExtensions {
			fullPath := filepath.Join(searchPath, name+ext)
			b, err := os.ReadFile(fullPath)
			if err == nil {
				data, foundPath = b, fullPath
				break search
			}
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("failed to read profile %s: %w", fullPath, err)
			}
		}
	}

	if data == nil {
		return nil, fmt.Errorf("profile not found: %s (searched in: %v)", name, l.searchPaths)
	}

	profile, err := l.Parse(foundPath, data)
	if err != nil {
		return nil, err
	}

	l.cache.Store(name, profile)

	return profile, nil
}

// Parse decodes and validates profile data. YAML is converted to JSON
// before validation so both formats see the same schema.
func (l *ProfileLoader) Parse(path string, data []byte) (*types.CardProfileDefinition, error) {
	if ext := filepath.Ext(path); ext == ".yaml" || ext == ".yml" {
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse YAML %s: %w", path, err)
		}
		converted, err := json.Marshal(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to convert YAML %s: %w", path, err)
		}
		data = converted
	}

	if err := l.validator.ValidateProfile(data); err != nil {
		return nil, fmt.Errorf("validation failed for %s: %w", path, err)
	}

	var profile types.CardProfileDefinition
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to unmarshal profile: %w", err)
	}

	return &profile, nil
}

// ProfileSummary describes one profile file found in the search paths.
// Error is set when the file does not validate.
type ProfileSummary struct {
	Name    string                       `json:"name"`
	Path    string                       `json:"path"`
	Profile *types.CardProfileDefinition `json:"profile,omitempty"`
	Error   string                       `json:"error,omitempty"`
}

// List scans the search paths. A name found in several places resolves the
// way Load does: first search path, then .json before .yaml before .yml.
// Missing search paths are skipped.
func (l *ProfileLoader) List() ([]ProfileSummary, error) {
	seen := make(map[string]bool)
	var out []ProfileSummary

	for _, searchPath := range l.searchPaths {
		entries, err := os.ReadDir(searchPath)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read profile directory %s: %w", searchPath, err)
		}

		for _, ext := range profileExtensions {
			for _, entry := range entries {
				if entry.IsDir() || filepath.Ext(entry.Name()) != ext {
					continue
				}
				name := strings.TrimSuffix(entry.Name(), ext)
				if seen[name] {
					continue
				}
				seen[name] = true

				summary := ProfileSummary{Name: name, Path: filepath.Join(searchPath, entry.Name())}
				if profile, err := l.Load(name); err != nil {
					summary.Error = err.Error()
				} else {
					summary.Profile = profile
				}
				out = append(out, summary)
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (l *ProfileLoader) ClearCache() {
	l.cache.Range(func(key, value interface{}) bool {
		l.cache.Delete(key)
		return true
	})
}
