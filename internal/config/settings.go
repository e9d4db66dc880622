package config

import (
	"fmt"
	"log/slog"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/joeycumines/actionflow/internal/flow"
)

// Settings are the typed, resolved options for running one tree. Each field
// names its option (cfg tag) and environment override (env tag).
type Settings struct {
	AsyncOrder     string        `cfg:"flow.async.order" env:"ACTIONFLOW_ASYNC_ORDER"`
	AsyncMode      string        `cfg:"flow.async.mode" env:"ACTIONFLOW_ASYNC_MODE"`
	DebugRun       bool          `cfg:"flow.debug.run" env:"ACTIONFLOW_DEBUG_RUN"`
	DebugResult    bool          `cfg:"flow.debug.result" env:"ACTIONFLOW_DEBUG_RESULT"`
	DebugRunning   bool          `cfg:"flow.debug.running" env:"ACTIONFLOW_DEBUG_RUNNING"`
	Telemetry      bool          `cfg:"flow.telemetry" env:"ACTIONFLOW_TELEMETRY"`
	TickInterval   time.Duration `cfg:"flow.tick.interval" env:"ACTIONFLOW_TICK_INTERVAL"`
	Timeout        time.Duration `cfg:"flow.timeout" env:"ACTIONFLOW_TIMEOUT"`
	ScriptTimeout  time.Duration `cfg:"script.timeout" env:"ACTIONFLOW_SCRIPT_TIMEOUT"`
	ExprCacheSize  int           `cfg:"exprscore.cache-size" env:"ACTIONFLOW_EXPR_CACHE_SIZE"`
	LogLevel       string        `cfg:"log.level" env:"ACTIONFLOW_LOG_LEVEL"`
	LogFile        string        `cfg:"log.file" env:"ACTIONFLOW_LOG_FILE"`
}

// Resolve computes the settings for the tree named section. Each option is
// taken from, in increasing precedence: the schema default, the global value,
// the section value, the environment. environ replaces the process
// environment when non-nil.
func Resolve(c *Config, section string, environ map[string]string) (Settings, error) {
	if c == nil {
		c = NewConfig()
	}
	schema := DefaultSchema()
	var s Settings
	v := reflect.ValueOf(&s).Elem()
	for i := range v.NumField() {
		field := v.Type().Field(i)
		key := field.Tag.Get("cfg")
		raw := schema.Value(c, section, key)
		if raw == "" {
			continue
		}
		if err := setField(v.Field(i), raw); err != nil {
			return Settings{}, fmt.Errorf("config: option %q: %w", key, err)
		}
	}

	if err := env.ParseWithOptions(&s, env.Options{Environment: environ}); err != nil {
		return Settings{}, fmt.Errorf("config: environment: %w", err)
	}
	if err := s.validate(schema); err != nil {
		return Settings{}, err
	}
	return s, nil
}

func setField(f reflect.Value, raw string) error {
	switch f.Interface().(type) {
	case string:
		f.SetString(raw)
	case bool:
		b, err := parseBool(raw)
		if err != nil {
			return err
		}
		f.SetBool(b)
	case int:
		n, err := strconv.Atoi(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(n))
	case time.Duration:
		d, err := time.ParseDuration(raw)
		if err != nil {
			return err
		}
		f.SetInt(int64(d))
	default:
		return fmt.Errorf("unsupported field type %s", f.Type())
	}
	return nil
}

func (s Settings) validate(schema *ConfigSchema) error {
	v := reflect.ValueOf(s)
	for i := range v.NumField() {
		str, ok := v.Field(i).Interface().(string)
		if !ok {
			continue
		}
		opt := schema.Lookup(v.Type().Field(i).Tag.Get("cfg"))
		if err := opt.validate(str); str != "" && err != nil {
			return fmt.Errorf("config: option %q: %w", opt.Key, err)
		}
	}
	if s.TickInterval <= 0 {
		return fmt.Errorf("config: option %q: must be positive", "flow.tick.interval")
	}
	return nil
}

// Order returns the async collection order.
func (s Settings) Order() flow.Order {
	order, err := flow.ParseOrder(s.AsyncOrder)
	if err != nil {
		return flow.BreadthFirst
	}
	return order
}

// Unordered reports whether async actions are driven concurrently.
func (s Settings) Unordered() bool { return s.AsyncMode == "unordered" }

// Debug returns the engine debug options.
func (s Settings) Debug() flow.DebugOptions {
	return flow.DebugOptions{Run: s.DebugRun, Result: s.DebugResult, Running: s.DebugRunning}
}

// ParseLevel parses a log level name. The empty string is info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q (want debug, info, warn or error)", name)
	}
}
