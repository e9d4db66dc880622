package config

import (
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"
)

// OptionType is the expected type of an option value.
type OptionType string

const (
	TypeString   OptionType = "string"
	TypeBool     OptionType = "bool"
	TypeInt      OptionType = "int"
	TypeDuration OptionType = "duration"
)

// ConfigOption declares one option.
type ConfigOption struct {
	Key         string
	Type        OptionType
	Default     string
	Description string
	// Choices, when set, lists the accepted values.
	Choices []string
	// EnvVar overrides the option; see Resolve.
	EnvVar string
}

// ConfigSchema declares the known options. Every option may appear globally
// or in a tree section.
type ConfigSchema struct {
	options []*ConfigOption
	byKey   map[string]*ConfigOption
}

// NewSchema creates an empty schema.
func NewSchema() *ConfigSchema {
	return &ConfigSchema{byKey: make(map[string]*ConfigOption)}
}

// Register adds an option. A later registration of the same key wins.
func (s *ConfigSchema) Register(opt ConfigOption) {
	ref := new(ConfigOption)
	*ref = opt
	if i := slices.IndexFunc(s.options, func(o *ConfigOption) bool { return o.Key == opt.Key }); i >= 0 {
		s.options[i] = ref
	} else {
		s.options = append(s.options, ref)
	}
	s.byKey[opt.Key] = ref
}

// RegisterAll adds several options.
func (s *ConfigSchema) RegisterAll(opts []ConfigOption) {
	for _, opt := range opts {
		s.Register(opt)
	}
}

// Lookup returns the option for key, or nil.
func (s *ConfigSchema) Lookup(key string) *ConfigOption {
	return s.byKey[key]
}

// Options returns every option in registration order.
func (s *ConfigSchema) Options() []ConfigOption {
	out := make([]ConfigOption, 0, len(s.options))
	for _, o := range s.options {
		out = append(out, *o)
	}
	return out
}

// Value returns the configured value for key in section, falling back to the
// global value and then the schema default.
func (s *ConfigSchema) Value(c *Config, section, key string) string {
	if v, ok := c.Option(section, key); ok {
		return v
	}
	if opt := s.Lookup(key); opt != nil {
		return opt.Default
	}
	return ""
}

// ValidateConfig returns human-readable issues with c: unknown options and
// values of the wrong type, sorted.
func ValidateConfig(c *Config, s *ConfigSchema) []string {
	var issues []string
	check := func(where, key, value string) {
		opt := s.Lookup(key)
		if opt == nil {
			issues = append(issues, fmt.Sprintf("unknown option %s: %q (value: %q)", where, key, value))
			return
		}
		if err := opt.validate(value); err != nil {
			issues = append(issues, fmt.Sprintf("option %q %s: %v", key, where, err))
		}
	}
	for key, value := range c.Global {
		check("in global section", key, value)
	}
	for section, opts := range c.Sections {
		for key, value := range opts {
			check(fmt.Sprintf("in [%s]", section), key, value)
		}
	}
	sort.Strings(issues)
	return issues
}

func (o *ConfigOption) validate(value string) error {
	switch o.Type {
	case TypeString, "":
	case TypeBool:
		if _, err := parseBool(value); err != nil {
			return fmt.Errorf("expected bool, got %q", value)
		}
	case TypeInt:
		if _, err := strconv.Atoi(value); err != nil {
			return fmt.Errorf("expected int, got %q", value)
		}
	case TypeDuration:
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("expected duration, got %q", value)
		}
	default:
		return fmt.Errorf("unknown option type %q", o.Type)
	}
	if len(o.Choices) > 0 && !slices.Contains(o.Choices, value) {
		return fmt.Errorf("expected one of %s, got %q", strings.Join(o.Choices, ", "), value)
	}
	return nil
}

// FormatHelp returns a reference of every option.
func (s *ConfigSchema) FormatHelp() string {
	var b strings.Builder
	b.WriteString("Options:\n")
	for _, o := range s.options {
		fmt.Fprintf(&b, "  %-24s %s", o.Key, o.Description)
		parts := make([]string, 0, 4)
		if o.Type != "" && o.Type != TypeString {
			parts = append(parts, fmt.Sprintf("type: %s", o.Type))
		}
		if len(o.Choices) > 0 {
			parts = append(parts, fmt.Sprintf("one of: %s", strings.Join(o.Choices, "|")))
		}
		if o.Default != "" {
			parts = append(parts, fmt.Sprintf("default: %s", o.Default))
		}
		if o.EnvVar != "" {
			parts = append(parts, fmt.Sprintf("env: %s", o.EnvVar))
		}
		if len(parts) > 0 {
			fmt.Fprintf(&b, " (%s)", strings.Join(parts, ", "))
		}
		b.WriteString("\n")
	}
	return b.String()
}

// DefaultSchema returns the schema of every option the engine and flowctl
// read.
func DefaultSchema() *ConfigSchema {
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "flow.async.order", Default: "bfs", Choices: []string{"bfs", "dfs"}, Description: "Order async actions are collected in", EnvVar: "ACTIONFLOW_ASYNC_ORDER"},
		{Key: "flow.async.mode", Default: "sequential", Choices: []string{"sequential", "unordered"}, Description: "How async actions are driven", EnvVar: "ACTIONFLOW_ASYNC_MODE"},
		{Key: "flow.debug.run", Type: TypeBool, Default: "false", Description: "Log every run", EnvVar: "ACTIONFLOW_DEBUG_RUN"},
		{Key: "flow.debug.result", Type: TypeBool, Default: "false", Description: "Log every result", EnvVar: "ACTIONFLOW_DEBUG_RESULT"},
		{Key: "flow.debug.running", Type: TypeBool, Default: "false", Description: "Log running marker changes", EnvVar: "ACTIONFLOW_DEBUG_RUNNING"},
		{Key: "flow.telemetry", Type: TypeBool, Default: "false", Description: "Record OpenTelemetry spans and counters", EnvVar: "ACTIONFLOW_TELEMETRY"},
		{Key: "flow.tick.interval", Type: TypeDuration, Default: "10ms", Description: "Interval between engine updates", EnvVar: "ACTIONFLOW_TICK_INTERVAL"},
		{Key: "flow.timeout", Type: TypeDuration, Default: "30s", Description: "Give up on a tree after this long", EnvVar: "ACTIONFLOW_TIMEOUT"},
		{Key: "script.timeout", Type: TypeDuration, Default: "5s", Description: "Timeout for synchronous script loop calls", EnvVar: "ACTIONFLOW_SCRIPT_TIMEOUT"},
		{Key: "exprscore.cache-size", Type: TypeInt, Default: "256", Description: "Compiled expression cache size", EnvVar: "ACTIONFLOW_EXPR_CACHE_SIZE"},
		{Key: "log.level", Default: "info", Choices: []string{"debug", "info", "warn", "error"}, Description: "Log level", EnvVar: "ACTIONFLOW_LOG_LEVEL"},
		{Key: "log.file", Description: "Write JSON logs to this file instead of stderr", EnvVar: "ACTIONFLOW_LOG_FILE"},
	})
	return s
}
