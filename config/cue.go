package config

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

const schemaFile = "rampburst/schema.cue"

// schema constrains CUE documents before they are decoded.
const schema = `
#Config: {
	name?:        string
	description?: string
	cycle?:       string
	logging?: {
		level?:  "trace" | "debug" | "info" | "warn" | "error" | "fatal" | "panic" | "disabled" | ""
		format?: "json" | "text" | ""
		loki?: {
			enabled?: bool
			url?:     string
			level?:   "trace" | "debug" | "info" | "warn" | "error" | ""
			labels?: [string]: string
		}
	}
	telemetry?: {
		enabled?:  bool
		provider?: string
	}
	controller?: {
		sample_period?: int & >=0
		ramp_width?:    int & >=1 & <=32
		sample_width?:  int & >=1 & <=32
		cycle_width?:   int & >=1 & <=32
		queue_limit?:   int & >=0
	}
	frequency?: {
		base_hz?: string
		step_hz?: string
	}
	modules?: [...string]
	jobs?: [...#Job]
	hot_reload?: bool
}

#Job: {
	id:             string & !=""
	cycles?:        int & >=0
	ramp_start?:    int & >=0
	ramp_end?:      int & >=0
	ramp_start_hz?: string
	ramp_end_hz?:   string
	pre?:           int & >=0
	step?:          int & >=0
	post?:          int & >=0
	when?:          string
	repeat?:        bool
}
`

// decodeCUE evaluates a CUE document, checks its top-level config value
// against the schema and decodes it through the YAML struct tags.
func decodeCUE(path string, raw []byte) (*Config, error) {
	ctx := cuecontext.New()
	defs := ctx.CompileString(schema, cue.Filename(schemaFile))
	if err := defs.Err(); err != nil {
		return nil, fmt.Errorf("compile config schema: %w", err)
	}
	doc := ctx.CompileBytes(raw, cue.Filename(path))
	if err := doc.Err(); err != nil {
		return nil, fmt.Errorf("compile config %s: %w", path, err)
	}
	value := doc.LookupPath(cue.ParsePath("config"))
	if !value.Exists() {
		return nil, fmt.Errorf("config %s: missing top-level config value", path)
	}
	value = defs.LookupPath(cue.ParsePath("#Config")).Unify(value)
	if err := value.Validate(cue.Concrete(true)); err != nil {
		return nil, fmt.Errorf("validate config %s: %w", path, err)
	}
	data, err := value.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("export config %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %s: %w", path, err)
	}
	return &cfg, nil
}
