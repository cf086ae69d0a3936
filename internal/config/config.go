package config

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"popextract/internal/engine"
	"popextract/internal/output"
)

var ErrInvalid = errors.New("invalid config")

// Config is everything the original script hardcoded, plus output options.
type Config struct {
	Input        string   `json:"input"`
	Country      string   `json:"country"`
	MinYear      int      `json:"min_year"`
	MaxYear      int      `json:"max_year"`
	OutputDir    string   `json:"output_dir"`
	PathTemplate string   `json:"path_template"`
	AgeKey       string   `json:"age_key"`
	Grouping     string   `json:"grouping"`
	Workers      int      `json:"workers"`
	Formats      []string `json:"formats"`
	Pretty       bool     `json:"pretty"`
	Manifest     bool     `json:"manifest"`
	LogLevel     string   `json:"log_level"`
	Listen       string   `json:"listen"`
	RateLimit    float64  `json:"rate_limit"`
}

// Defaults reproduce the UK 2016 extraction.
func Defaults() Config {
	return Config{
		Input:        "data/WPP2015_INT_F3_Population_By_Sex_Annual_Single_Medium.csv",
		Country:      "826",
		MinYear:      2016,
		MaxYear:      2016,
		OutputDir:    ".",
		PathTemplate: output.DefaultPathTemplate,
		AgeKey:       string(engine.AgeByLabel),
		Grouping:     string(engine.GroupAdjacent),
		Workers:      4,
		Formats:      []string{"json"},
		Manifest:     true,
		LogLevel:     "info",
		Listen:       ":8080",
		RateLimit:    20,
	}
}

// LoadFile overlays a JSON file on cfg. Unknown fields are rejected.
func LoadFile(cfg Config, path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer f.Close()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// EnvPrefix prefixes every environment override.
const EnvPrefix = "POPEXTRACT_"

// Keys lists every option by its JSON name, in struct order.
func Keys() []string {
	t := reflect.TypeOf(Config{})
	keys := make([]string, 0, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		keys = append(keys, jsonKey(t.Field(i)))
	}
	return keys
}

func jsonKey(f reflect.StructField) string {
	name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
	return name
}

// Set assigns one option from its text form. The environment and the
// command line both go through here.
func (c *Config) Set(key, value string) error {
	v := reflect.ValueOf(c).Elem()
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		if jsonKey(t.Field(i)) != key {
			continue
		}
		f := v.Field(i)
		raw := strings.TrimSpace(value)
		switch f.Kind() {
		case reflect.String:
			f.SetString(value)
		case reflect.Int:
			n, err := strconv.Atoi(raw)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: not an integer", ErrInvalid, key, value)
			}
			f.SetInt(int64(n))
		case reflect.Bool:
			b, err := strconv.ParseBool(raw)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: not a boolean", ErrInvalid, key, value)
			}
			f.SetBool(b)
		case reflect.Float64:
			x, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return fmt.Errorf("%w: %s=%q: not a number", ErrInvalid, key, value)
			}
			f.SetFloat(x)
		case reflect.Slice:
			f.Set(reflect.ValueOf(SplitList(value)))
		default:
			return fmt.Errorf("%w: %s has unsupported kind %s", ErrInvalid, key, f.Kind())
		}
		return nil
	}
	return fmt.Errorf("%w: unknown option %q", ErrInvalid, key)
}

// EnvName is the variable that overrides key, e.g. POPEXTRACT_RATE_LIMIT.
func EnvName(key string) string { return EnvPrefix + strings.ToUpper(key) }

// ApplyEnv overlays POPEXTRACT_* variables. lookup is os.LookupEnv in production.
// Empty values are ignored.
func ApplyEnv(cfg Config, lookup func(string) (string, bool)) (Config, error) {
	for _, key := range Keys() {
		v, ok := lookup(EnvName(key))
		if !ok || v == "" {
			continue
		}
		if err := cfg.Set(key, v); err != nil {
			return cfg, fmt.Errorf("%s: %w", EnvName(key), err)
		}
	}
	return cfg, nil
}

// SplitList splits a comma separated flag value, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Input) == "":
		return fmt.Errorf("%w: input is empty", ErrInvalid)
	case strings.TrimSpace(c.OutputDir) == "":
		return fmt.Errorf("%w: output_dir is empty", ErrInvalid)
	case c.MinYear > c.MaxYear:
		return fmt.Errorf("%w: min_year %d > max_year %d", ErrInvalid, c.MinYear, c.MaxYear)
	case c.Workers < 1:
		return fmt.Errorf("%w: workers must be >= 1", ErrInvalid)
	case c.RateLimit < 0:
		return fmt.Errorf("%w: rate_limit must be >= 0", ErrInvalid)
	}
	switch engine.AgeKey(c.AgeKey) {
	case engine.AgeByLabel, engine.AgeByStart:
	default:
		return fmt.Errorf("%w: age_key %q (want label|start)", ErrInvalid, c.AgeKey)
	}
	switch engine.Grouping(c.Grouping) {
	case engine.GroupAdjacent, engine.GroupCollect:
	default:
		return fmt.Errorf("%w: grouping %q (want adjacent|grouped)", ErrInvalid, c.Grouping)
	}
	if len(c.Formats) == 0 {
		return fmt.Errorf("%w: no output formats", ErrInvalid)
	}
	for _, f := range c.Formats {
		if f != "json" && f != "arrow" {
			return fmt.Errorf("%w: format %q (want json|arrow)", ErrInvalid, f)
		}
	}
	if _, err := output.NewLayout(c.OutputDir, c.PathTemplate); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return nil
}

// EngineOptions converts the filter settings.
func (c Config) EngineOptions() engine.Options {
	return engine.Options{
		Country:  c.Country,
		MinYear:  c.MinYear,
		MaxYear:  c.MaxYear,
		AgeKey:   engine.AgeKey(c.AgeKey),
		Grouping: engine.Grouping(c.Grouping),
		Workers:  c.Workers,
	}
}

// Wants reports whether format is enabled.
func (c Config) Wants(format string) bool {
	for _, f := range c.Formats {
		if f == format {
			return true
		}
	}
	return false
}
