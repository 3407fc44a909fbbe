package model

import (
	"fmt"
	"io"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/encoding/yaml"

	_ "embed"
)

//go:embed config.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Config"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
}

type Config struct {
	Version  int      `json:"version" yaml:"version"` // fixed 0 for now
	Storage  string   `json:"storage" yaml:"storage"` // database.json, stdout/, stderr/
	Jobs     string   `json:"jobs" yaml:"jobs"`       // job list file
	Verbose  bool     `json:"verbose" yaml:"verbose"`
	Run      Run      `json:"run" yaml:"run"`
	Analysis Analysis `json:"analysis" yaml:"analysis"`
}

// Run holds the defaults of the run subcommand. Flags override them.
type Run struct {
	Parallel  bool   `json:"parallel" yaml:"parallel"`
	Workers   int    `json:"workers" yaml:"workers"` // 0 => number of CPUs
	StepTime  bool   `json:"step_time" yaml:"step_time"`
	TotalTime bool   `json:"total_time" yaml:"total_time"`
	Timeout   string `json:"timeout" yaml:"timeout"` // "30m", "1h30m", "2d"
	Mode      string `json:"mode" yaml:"mode"`       // "merge" | "swap" | "normal"
	Filter    string `json:"filter" yaml:"filter"`
	Dedup     string `json:"dedup" yaml:"dedup"` // "terminated" | "any"
	Race      string `json:"race" yaml:"race"`   // "optimistic" | "strict"
}

// TimeoutDuration parses the Timeout field.
func (r Run) TimeoutDuration() (time.Duration, error) {
	return ParseDuration(r.Timeout)
}

type Analysis struct {
	Buckets     string  `json:"buckets" yaml:"buckets"`
	StepPattern string  `json:"step_pattern" yaml:"step_pattern"` // empty => built-in grammar
	Legal       string  `json:"legal" yaml:"legal"`
	Labels      []Label `json:"labels" yaml:"labels,omitempty"`
}

// Label names the series a job belongs to in the total analysis. All the
// non-empty conditions must hold for a rule to match.
type Label struct {
	Prefix   string   `json:"prefix,omitempty" yaml:"prefix,omitempty"`
	Contains []string `json:"contains,omitempty" yaml:"contains,omitempty"`
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`
	Label    string   `json:"label" yaml:"label"`
}

// LoadConfig validates YAML from r against CUE schema and decodes to Config.
// Missing fields get the schema defaults.
func LoadConfig(r io.Reader) (Config, error) {
	yamlFile, err := yaml.Extract("autocommand.yaml", r)
	if err != nil {
		return Config{}, err
	}
	yamlValue := cueCtx.BuildFile(yamlFile)

	unified := schema.Unify(yamlValue)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return Config{}, err
	}

	var out Config
	if err := unified.Decode(&out); err != nil {
		return Config{}, err
	}
	if _, err := ParseMode(out.Run.Mode); err != nil {
		return Config{}, err
	}
	if _, err := out.Run.TimeoutDuration(); err != nil {
		return Config{}, fmt.Errorf("run.timeout: %w", err)
	}

	return out, nil
}

// DefaultConfig returns the configuration used when no file is found.
func DefaultConfig() Config {
	cfg, err := LoadConfig(strings.NewReader("version: 0\n"))
	if err != nil {
		panic(fmt.Sprintf("default configuration is invalid: %v", err))
	}
	return cfg
}
