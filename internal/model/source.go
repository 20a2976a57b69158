package model

import (
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "90s"
// or "336h" as well as integer nanoseconds.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err == nil {
		v, perr := time.ParseDuration(s)
		if perr != nil {
			return eris.Wrapf(perr, "parse duration %q", s)
		}
		*d = Duration(v)
		return nil
	}
	var n int64
	if err := node.Decode(&n); err != nil {
		return eris.Errorf("invalid duration value %q", node.Value)
	}
	*d = Duration(n)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

// SourceKind identifies the protocol a source speaks.
type SourceKind string

const (
	// KindFeatureService is a paginated ArcGIS-style geospatial feature service.
	KindFeatureService SourceKind = "feature-service"
	// KindTabularQuery is a Socrata-style open-data query API.
	KindTabularQuery SourceKind = "tabular-query"
	// KindFlatFile is a single downloadable CSV/XLSX document.
	KindFlatFile SourceKind = "flat-file"
)

// AuthMode describes how a source authenticates requests.
type AuthMode string

const (
	AuthNone     AuthMode = "none"
	AuthAppToken AuthMode = "app-token"
)

// FileFormat identifies the document format of a flat-file source.
type FileFormat string

const (
	FormatCSV  FileFormat = "csv"
	FormatXLSX FileFormat = "xlsx"
)

// BoundingBox restricts acceptable coordinates for a source's jurisdiction.
// Records outside the box are quarantined by the normalizer.
type BoundingBox struct {
	MinLat float64 `yaml:"min_lat" json:"min_lat"`
	MinLon float64 `yaml:"min_lon" json:"min_lon"`
	MaxLat float64 `yaml:"max_lat" json:"max_lat"`
	MaxLon float64 `yaml:"max_lon" json:"max_lon"`
}

// SourceConfig is the static, declarative descriptor for one permit source.
// Loaded once at startup from sources.yaml; adding a source is configuration,
// not new control flow.
type SourceConfig struct {
	Name         string     `yaml:"name" json:"name"`
	Kind         SourceKind `yaml:"kind" json:"kind"`
	URL          string     `yaml:"url" json:"url"`
	Jurisdiction string     `yaml:"jurisdiction" json:"jurisdiction"`

	// DateField is the source-side field the incremental filter predicate
	// is built on ("date-field > since").
	DateField string `yaml:"date_field" json:"date_field"`

	// Aliases maps each canonical field to an ordered list of source field
	// names; the first non-empty match wins.
	Aliases map[string][]string `yaml:"aliases" json:"aliases"`

	// CategoryFields are source fields echoed into lead metadata as the
	// originally supplied category/work-class values.
	CategoryFields []string `yaml:"category_fields" json:"category_fields"`

	PageSize    int      `yaml:"page_size" json:"page_size"`
	MinInterval Duration `yaml:"min_interval" json:"min_interval"`
	MaxRetries  int      `yaml:"max_retries" json:"max_retries"`

	AuthMode AuthMode `yaml:"auth_mode" json:"auth_mode"`
	// TokenEnv names the environment variable holding the app token, so
	// credentials never live in the registry file.
	TokenEnv string `yaml:"token_env" json:"token_env"`

	// Lookback is the fallback fetch window for a source that has never
	// been synced.
	Lookback Duration `yaml:"lookback" json:"lookback"`
	// OverlapBuffer is subtracted from the stored watermark before each
	// incremental fetch so boundary records are never skipped.
	OverlapBuffer Duration `yaml:"overlap_buffer" json:"overlap_buffer"`

	Bounds *BoundingBox `yaml:"bounds" json:"bounds,omitempty"`

	// Format applies to flat-file sources only.
	Format FileFormat `yaml:"format" json:"format,omitempty"`
	// SheetName selects the XLSX sheet; empty means the first sheet.
	SheetName string `yaml:"sheet_name" json:"sheet_name,omitempty"`
	// SkipRows is the number of leading header rows before the column row.
	SkipRows int `yaml:"skip_rows" json:"skip_rows,omitempty"`
}

// Validate checks a source descriptor for the fields every adapter needs.
func (c *SourceConfig) Validate() error {
	if c.Name == "" {
		return eris.New("source: name is required")
	}
	switch c.Kind {
	case KindFeatureService, KindTabularQuery, KindFlatFile:
	default:
		return eris.Errorf("source %s: unknown kind %q", c.Name, c.Kind)
	}
	if c.URL == "" {
		return eris.Errorf("source %s: url is required", c.Name)
	}
	if c.Kind != KindFlatFile && c.DateField == "" {
		return eris.Errorf("source %s: date_field is required for incremental sources", c.Name)
	}
	if c.Kind == KindFlatFile {
		switch c.Format {
		case FormatCSV, FormatXLSX:
		default:
			return eris.Errorf("source %s: flat-file format must be csv or xlsx, got %q", c.Name, c.Format)
		}
	}
	if len(c.Aliases) == 0 {
		return eris.Errorf("source %s: alias table is required", c.Name)
	}
	if b := c.Bounds; b != nil {
		if b.MinLat >= b.MaxLat || b.MinLon >= b.MaxLon {
			return eris.Errorf("source %s: degenerate bounding box", c.Name)
		}
	}
	return nil
}
