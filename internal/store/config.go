// Package store holds the YAML application config: where reference data
// lives, where output goes and which jobs to run.
package store

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"fundrecon/internal/logger"
)

const (
	JobRecon    = "recon"
	JobThreeWay = "threeway"
	JobLoader   = "loader"

	InputTable    = "table"
	InputBhavcopy = "bhavcopy"
)

// Input roles per job kind.
const (
	RoleA       = "a"
	RoleB       = "b"
	RoleMaster  = "master"
	RoleCDS     = "cds"
	RoleRegular = "regular"
	RoleSource  = "source"
)

var requiredRoles = map[string][]string{
	JobRecon:    {RoleA, RoleB},
	JobThreeWay: {RoleMaster, RoleCDS, RoleRegular},
	JobLoader:   {RoleSource},
}

type Input struct {
	// Kind is "table" (CSV/XLS/XLSX) or "bhavcopy".
	Kind        string   `yaml:"kind"`
	Path        string   `yaml:"path"`
	Paths       []string `yaml:"paths"`
	Sheet       string   `yaml:"sheet"`
	StartRow    int      `yaml:"start_row"`
	StartCol    int      `yaml:"start_col"`
	NoHeader    bool     `yaml:"no_header"`
	DateColumns []string `yaml:"date_columns"`
	Delimiter   string   `yaml:"delimiter"`
	// SymbolColumn enriches the table with key columns from the instrument master.
	SymbolColumn string `yaml:"symbol_column"`
}

// Files returns Path followed by Paths.
func (in Input) Files() []string {
	var out []string
	if in.Path != "" {
		out = append(out, in.Path)
	}
	return append(out, in.Paths...)
}

type Job struct {
	Name   string           `yaml:"name"`
	Kind   string           `yaml:"kind"`
	Preset string           `yaml:"preset"`
	Inputs map[string]Input `yaml:"inputs"`
	// Output is the file name without extension; defaults to Name.
	Output string `yaml:"output"`
}

type Config struct {
	RefData     string `yaml:"refdata"`
	Instruments string `yaml:"instruments"`
	OutputDir   string `yaml:"output_dir"`
	Format      string `yaml:"format"`
	Bundle      bool   `yaml:"bundle"`
	Precision   int    `yaml:"precision"`
	Workers     int    `yaml:"workers"`

	Log   logger.LogConfig `yaml:"log"`
	Audit struct {
		Dir           string `yaml:"dir"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"audit"`

	Jobs []Job `yaml:"jobs"`
}

func (c *Config) Validate() error {
	if c.Format != "csv" && c.Format != "xlsx" {
		return fmt.Errorf("invalid format '%s': must be 'csv' or 'xlsx'", c.Format)
	}
	if c.Precision < 0 {
		return fmt.Errorf("precision must be >= 0, got %d", c.Precision)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be >= 1, got %d", c.Workers)
	}
	if len(c.Jobs) == 0 {
		return errors.New("jobs cannot be empty")
	}
	seen := map[string]bool{}
	var errs []error
	for i, j := range c.Jobs {
		if j.Name == "" {
			errs = append(errs, fmt.Errorf("jobs[%d]: name is required", i))
			continue
		}
		if seen[j.Name] {
			errs = append(errs, fmt.Errorf("job '%s': duplicate name", j.Name))
		}
		seen[j.Name] = true
		if err := j.validate(); err != nil {
			errs = append(errs, fmt.Errorf("job '%s': %w", j.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (j Job) validate() error {
	roles, ok := requiredRoles[j.Kind]
	if !ok {
		return fmt.Errorf("kind must be 'recon', 'threeway' or 'loader', got '%s'", j.Kind)
	}
	if j.Preset == "" {
		return errors.New("preset is required")
	}
	for _, r := range roles {
		in, ok := j.Inputs[r]
		if !ok {
			return fmt.Errorf("input '%s' is required", r)
		}
		if in.Kind != InputTable && in.Kind != InputBhavcopy {
			return fmt.Errorf("input '%s': kind must be 'table' or 'bhavcopy', got '%s'", r, in.Kind)
		}
		files := in.Files()
		if len(files) == 0 {
			return fmt.Errorf("input '%s': path is required", r)
		}
		if in.Kind == InputTable && len(files) > 1 {
			return fmt.Errorf("input '%s': table inputs take a single path", r)
		}
		if len([]rune(in.Delimiter)) > 1 {
			return fmt.Errorf("input '%s': delimiter must be one character", r)
		}
	}
	return nil
}

func LoadConfig(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseConfig(b)
}

func ParseConfig(b []byte) (*Config, error) {
	var c Config
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}

	if c.RefData == "" {
		c.RefData = "refdata.json"
	}
	if c.OutputDir == "" {
		c.OutputDir = "out"
	}
	if c.Format == "" {
		c.Format = "csv"
	}
	if c.Workers == 0 {
		c.Workers = 4
	}
	for i := range c.Jobs {
		j := &c.Jobs[i]
		if j.Output == "" {
			j.Output = j.Name
		}
		for role, in := range j.Inputs {
			if in.Kind == "" {
				in.Kind = InputTable
				j.Inputs[role] = in
			}
		}
	}

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &c, nil
}
