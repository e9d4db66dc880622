package config

import (
	"strings"
	"testing"
)

func TestNewSchema(t *testing.T) {
	t.Parallel()
	s := NewSchema()
	if len(s.Options()) != 0 {
		t.Fatalf("expected empty options, got %d", len(s.Options()))
	}
	if s.Lookup("anything") != nil {
		t.Fatal("expected nil lookup on empty schema")
	}
}

func TestSchemaRegisterReplaces(t *testing.T) {
	t.Parallel()
	s := NewSchema()
	s.RegisterAll([]ConfigOption{
		{Key: "a", Default: "1"},
		{Key: "b"},
		{Key: "a", Default: "2"},
	})

	opts := s.Options()
	if len(opts) != 2 {
		t.Fatalf("expected 2 options, got %d", len(opts))
	}
	if opts[0].Key != "a" || opts[0].Default != "2" {
		t.Fatalf("expected replaced option in first position, got %+v", opts[0])
	}
	if got := s.Lookup("a"); got == nil || got.Default != "2" {
		t.Fatalf("unexpected Lookup result: %+v", got)
	}
}

func TestSchemaValue(t *testing.T) {
	t.Parallel()
	s := DefaultSchema()
	c := NewConfig()

	if got := s.Value(c, "guard", "flow.async.order"); got != "bfs" {
		t.Errorf("expected default bfs, got %q", got)
	}
	c.SetGlobalOption("flow.async.order", "dfs")
	if got := s.Value(c, "guard", "flow.async.order"); got != "dfs" {
		t.Errorf("expected global dfs, got %q", got)
	}
	c.SetOption("guard", "flow.async.order", "bfs")
	if got := s.Value(c, "guard", "flow.async.order"); got != "bfs" {
		t.Errorf("expected section bfs, got %q", got)
	}
	if got := s.Value(c, "guard", "nope"); got != "" {
		t.Errorf("expected empty value for unknown key, got %q", got)
	}
}

func TestValidateConfig(t *testing.T) {
	t.Parallel()
	c := NewConfig()
	c.SetGlobalOption("flow.telemetry", "yes")
	c.SetGlobalOption("exprscore.cache-size", "lots")
	c.SetOption("guard", "flow.async.mode", "random")
	c.SetOption("guard", "mystery", "x")

	issues := ValidateConfig(c, DefaultSchema())
	if len(issues) != 3 {
		t.Fatalf("expected 3 issues, got %v", issues)
	}
	joined := strings.Join(issues, "\n")
	for _, want := range []string{"expected int", "expected one of sequential, unordered", `unknown option in [guard]: "mystery"`} {
		if !strings.Contains(joined, want) {
			t.Errorf("expected issue containing %q in:\n%s", want, joined)
		}
	}
}

func TestValidateType(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		typ   OptionType
		value string
		ok    bool
	}{
		{TypeString, "anything", true},
		{TypeBool, "on", true},
		{TypeBool, "sure", false},
		{TypeInt, "42", true},
		{TypeInt, "4.2", false},
		{TypeDuration, "150ms", true},
		{TypeDuration, "150", false},
		{OptionType("weird"), "x", false},
	} {
		err := (&ConfigOption{Key: "k", Type: tc.typ}).validate(tc.value)
		if (err == nil) != tc.ok {
			t.Errorf("validate(%s, %q) = %v", tc.typ, tc.value, err)
		}
	}
}

func TestDefaultSchema_EnvVars(t *testing.T) {
	t.Parallel()
	seen := make(map[string]string)
	for _, opt := range DefaultSchema().Options() {
		if opt.EnvVar == "" {
			t.Errorf("option %q has no env var", opt.Key)
			continue
		}
		if !strings.HasPrefix(opt.EnvVar, "ACTIONFLOW_") {
			t.Errorf("option %q env var %q lacks prefix", opt.Key, opt.EnvVar)
		}
		if prev, ok := seen[opt.EnvVar]; ok {
			t.Errorf("env var %q shared by %q and %q", opt.EnvVar, prev, opt.Key)
		}
		seen[opt.EnvVar] = opt.Key
		if opt.Default != "" {
			if err := (&opt).validate(opt.Default); err != nil {
				t.Errorf("option %q default invalid: %v", opt.Key, err)
			}
		}
	}
}

func TestFormatHelp(t *testing.T) {
	t.Parallel()
	s := NewSchema()
	s.Register(ConfigOption{Key: "flow.async.order", Default: "bfs", Choices: []string{"bfs", "dfs"}, Description: "Order", EnvVar: "X_ORDER"})
	s.Register(ConfigOption{Key: "flow.telemetry", Type: TypeBool, Description: "Spans"})

	help := s.FormatHelp()
	for _, want := range []string{
		"Options:",
		"flow.async.order",
		"one of: bfs|dfs, default: bfs, env: X_ORDER",
		"flow.telemetry",
		"(type: bool)",
	} {
		if !strings.Contains(help, want) {
			t.Errorf("FormatHelp missing %q:\n%s", want, help)
		}
	}
}
