package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Inputs     InputsConfig     `yaml:"inputs" mapstructure:"inputs"`
	Columns    ColumnsConfig    `yaml:"columns" mapstructure:"columns"`
	Filter     FilterConfig     `yaml:"filter" mapstructure:"filter"`
	Geometry   GeometryConfig   `yaml:"geometry" mapstructure:"geometry"`
	Projection ProjectionConfig `yaml:"projection" mapstructure:"projection"`
	Join       JoinConfig       `yaml:"join" mapstructure:"join"`
	Classify   ClassifyConfig   `yaml:"classify" mapstructure:"classify"`
	Render     RenderConfig     `yaml:"render" mapstructure:"render"`
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Fetch      FetchConfig      `yaml:"fetch" mapstructure:"fetch"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// InputsConfig locates the three source datasets. Each entry may be a local
// path or an http(s) URL; zipped shapefile bundles are extracted.
type InputsConfig struct {
	Businesses string `yaml:"businesses" mapstructure:"businesses"`
	Sections   string `yaml:"sections" mapstructure:"sections"`
	Census     string `yaml:"census" mapstructure:"census"`
	// Encoding of the delimited files: utf-8, latin1 or windows-1252.
	Encoding  string `yaml:"encoding" mapstructure:"encoding"`
	Delimiter string `yaml:"delimiter" mapstructure:"delimiter"`
}

// ColumnsConfig maps logical fields to source column names.
type ColumnsConfig struct {
	Business BusinessColumns `yaml:"business" mapstructure:"business"`
	Section  KeyColumns      `yaml:"section" mapstructure:"section"`
	Census   CensusColumns   `yaml:"census" mapstructure:"census"`
}

// BusinessColumns names the registry columns.
type BusinessColumns struct {
	ID           string `yaml:"id" mapstructure:"id"`
	Name         string `yaml:"name" mapstructure:"name"`
	Activity     string `yaml:"activity" mapstructure:"activity"`
	Longitude    string `yaml:"longitude" mapstructure:"longitude"`
	Latitude     string `yaml:"latitude" mapstructure:"latitude"`
	State        string `yaml:"state" mapstructure:"state"`
	Municipality string `yaml:"municipality" mapstructure:"municipality"`
}

// KeyColumns names the composite key columns.
type KeyColumns struct {
	State        string `yaml:"state" mapstructure:"state"`
	Municipality string `yaml:"municipality" mapstructure:"municipality"`
	Section      string `yaml:"section" mapstructure:"section"`
}

// CensusColumns names the census key columns and demographic fields to keep.
type CensusColumns struct {
	KeyColumns `yaml:",inline" mapstructure:",squash"`
	Fields     []string `yaml:"fields" mapstructure:"fields"`
	Population string   `yaml:"population" mapstructure:"population"`
	Sheet      string   `yaml:"sheet" mapstructure:"sheet"`
}

// FilterConfig configures the pharmacy keyword filter.
type FilterConfig struct {
	Keyword          string `yaml:"keyword" mapstructure:"keyword"`
	StrictCoordinate bool   `yaml:"strict_coordinates" mapstructure:"strict_coordinates"`
}

// GeometryConfig controls geometry validation.
type GeometryConfig struct {
	// StrictRings rejects unclosed polygon rings instead of closing them.
	StrictRings bool `yaml:"strict_rings" mapstructure:"strict_rings"`
}

// ProjectionConfig configures coordinate reprojection.
type ProjectionConfig struct {
	SourceEPSG int `yaml:"source_epsg" mapstructure:"source_epsg"`
	// TargetEPSG overrides the CRS read from the section .prj file when non-zero.
	TargetEPSG int `yaml:"target_epsg" mapstructure:"target_epsg"`
}

// JoinConfig configures the spatial join.
type JoinConfig struct {
	// Policy is "outer" (keep zero-count sections) or "inner" (drop them).
	Policy string `yaml:"policy" mapstructure:"policy"`
}

// ClassifyConfig configures bivariate classification.
type ClassifyConfig struct {
	// XField and YField name the metrics combined into the bivariate category.
	XField      string `yaml:"x_field" mapstructure:"x_field"`
	YField      string `yaml:"y_field" mapstructure:"y_field"`
	PalettePath string `yaml:"palette_path" mapstructure:"palette_path"`
}

// RenderConfig configures image output.
type RenderConfig struct {
	OutDir     string  `yaml:"out_dir" mapstructure:"out_dir"`
	Format     string  `yaml:"format" mapstructure:"format"`
	WidthInch  float64 `yaml:"width_inch" mapstructure:"width_inch"`
	HeightInch float64 `yaml:"height_inch" mapstructure:"height_inch"`
	TrendLine  bool    `yaml:"trend_line" mapstructure:"trend_line"`
}

// StoreConfig configures optional result persistence.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// FetchConfig configures remote input downloads.
type FetchConfig struct {
	TempDir     string `yaml:"temp_dir" mapstructure:"temp_dir"`
	UserAgent   string `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	// MaxRetries counts retries after the first try; negative disables them.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PHARMA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("inputs.businesses", "data/denue_inegi.csv")
	v.SetDefault("inputs.sections", "data/SECCION.shp")
	v.SetDefault("inputs.census", "data/eceg_2020.csv")
	v.SetDefault("inputs.encoding", "latin1")
	v.SetDefault("inputs.delimiter", ",")
	v.SetDefault("columns.business.id", "id")
	v.SetDefault("columns.business.name", "nom_estab")
	v.SetDefault("columns.business.activity", "nombre_act")
	v.SetDefault("columns.business.longitude", "longitud")
	v.SetDefault("columns.business.latitude", "latitud")
	v.SetDefault("columns.business.state", "cve_ent")
	v.SetDefault("columns.business.municipality", "cve_mun")
	v.SetDefault("columns.section.state", "ENTIDAD")
	v.SetDefault("columns.section.municipality", "MUNICIPIO")
	v.SetDefault("columns.section.section", "SECCION")
	v.SetDefault("columns.census.state", "ENTIDAD")
	v.SetDefault("columns.census.municipality", "MUNICIPIO")
	v.SetDefault("columns.census.section", "SECCION")
	v.SetDefault("columns.census.fields", []string{"POBTOT", "P_60YMAS", "POB65_MAS", "PEA", "TOTHOG"})
	v.SetDefault("columns.census.population", "POBTOT")
	v.SetDefault("filter.keyword", "farm")
	v.SetDefault("filter.strict_coordinates", false)
	v.SetDefault("geometry.strict_rings", false)
	v.SetDefault("projection.source_epsg", 4326)
	v.SetDefault("projection.target_epsg", 0)
	v.SetDefault("join.policy", "outer")
	v.SetDefault("classify.x_field", "pharmacies_per_km2")
	v.SetDefault("classify.y_field", "POB65_MAS_per_km2")
	v.SetDefault("render.out_dir", "out")
	v.SetDefault("render.format", "png")
	v.SetDefault("render.width_inch", 10.0)
	v.SetDefault("render.height_inch", 8.0)
	v.SetDefault("render.trend_line", true)
	v.SetDefault("store.driver", "none")
	v.SetDefault("store.database_url", "pharmacy-density.db")
	v.SetDefault("fetch.temp_dir", "/tmp/pharmacy-density")
	v.SetDefault("fetch.user_agent", "pharmacy-density/1.0")
	v.SetDefault("fetch.timeout_secs", 120)
	v.SetDefault("fetch.max_retries", 3)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks enumerated settings.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Join.Policy) {
	case "outer", "inner":
	default:
		return eris.Errorf("config: join.policy must be outer or inner, got %q", c.Join.Policy)
	}
	switch strings.ToLower(c.Render.Format) {
	case "png", "svg":
	default:
		return eris.Errorf("config: render.format must be png or svg, got %q", c.Render.Format)
	}
	switch strings.ToLower(c.Store.Driver) {
	case "", "none", "sqlite", "postgres":
	default:
		return eris.Errorf("config: unsupported store driver %q", c.Store.Driver)
	}
	if strings.TrimSpace(c.Filter.Keyword) == "" {
		return eris.New("config: filter.keyword must not be empty")
	}
	if len([]rune(c.Inputs.Delimiter)) != 1 {
		return eris.Errorf("config: inputs.delimiter must be a single character, got %q", c.Inputs.Delimiter)
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
