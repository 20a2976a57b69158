package config

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/jtheoc80/permit-leads/internal/model"
)

// sourcesFile is the shape of sources.yaml.
type sourcesFile struct {
	Sources []model.SourceConfig `yaml:"sources"`
}

// LoadSources reads the declarative source registry, applies engine-level
// defaults for any per-source value left unset, and validates every entry.
func LoadSources(path string, defaults IngestConfig) ([]model.SourceConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "sources: read %s", path)
	}

	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrapf(err, "sources: parse %s", path)
	}
	if len(f.Sources) == 0 {
		return nil, eris.Errorf("sources: %s defines no sources", path)
	}

	seen := make(map[string]bool, len(f.Sources))
	for i := range f.Sources {
		s := &f.Sources[i]

		if s.PageSize == 0 {
			s.PageSize = defaults.DefaultPageSize
		}
		if s.MaxRetries == 0 {
			s.MaxRetries = defaults.MaxRetries
		}
		if s.Lookback == 0 {
			s.Lookback = model.Duration(defaults.DefaultLookback())
		}
		if s.OverlapBuffer == 0 {
			s.OverlapBuffer = model.Duration(defaults.DefaultOverlap())
		}
		if s.AuthMode == "" {
			s.AuthMode = model.AuthNone
		}

		if err := s.Validate(); err != nil {
			return nil, err
		}
		if seen[s.Name] {
			return nil, eris.Errorf("sources: duplicate source name %q", s.Name)
		}
		seen[s.Name] = true
	}

	return f.Sources, nil
}

// SourceToken resolves the app token for a source from its configured
// environment variable. Empty when the source needs no auth.
func SourceToken(s model.SourceConfig) string {
	if s.AuthMode != model.AuthAppToken || s.TokenEnv == "" {
		return ""
	}
	return os.Getenv(s.TokenEnv)
}
