package command

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joeycumines/actionflow/internal/config"
	"github.com/joeycumines/actionflow/internal/treedef"
)

const guardTree = `
name: guard
blackboard:
  hp: 10
root:
  kind: sequence
  children:
    - kind: condition
      name: healthy
      expr: hp > 5
    - kind: assign
      name: note
      key: status
      expr: '"ok"'
`

func newTestRegistry(t *testing.T, cfg *config.Config, environ map[string]string) *Registry {
	t.Helper()
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if environ == nil {
		environ = map[string]string{}
	}
	kinds := treedef.DefaultKinds()
	r := NewRegistry()
	r.Register(NewHelpCommand(r))
	r.Register(NewVersionCommand("1.2.3"))
	r.Register(NewConfigCommand(cfg, environ))
	r.Register(NewKindsCommand(kinds))
	r.Register(NewValidateCommand(kinds))
	r.Register(NewRunCommand(cfg, kinds, environ))
	return r
}

func writeTree(t *testing.T, src string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tree.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0o600))
	return path
}

func dispatch(t *testing.T, r *Registry, name string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	err := r.Dispatch(name, args, &stdout, &stderr)
	return stdout.String(), stderr.String(), err
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, nil, nil)
	assert.Equal(t, []string{"config", "help", "kinds", "run", "validate", "version"}, r.List())

	_, err := r.Get("dance")
	require.ErrorIs(t, err, ErrUnknownCommand)
	_, _, err = dispatch(t, r, "dance")
	require.ErrorIs(t, err, ErrUnknownCommand)

	_, stderr, err := dispatch(t, r, "run", "--help")
	require.NoError(t, err)
	assert.Contains(t, stderr, "Usage: flowctl run")
	assert.Contains(t, stderr, "--async-order")

	_, _, err = dispatch(t, r, "run", "--no-such-flag")
	require.Error(t, err)
}

func TestHelpCommand(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, nil, nil)
	stdout, _, err := dispatch(t, r, "help")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Usage: flowctl <command>")
	assert.Contains(t, stdout, "validate")

	stdout, _, err = dispatch(t, r, "help", "run")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Command: run")
	assert.Contains(t, stdout, "--trace")

	_, stderr, err := dispatch(t, r, "help", "dance")
	require.Error(t, err)
	assert.Contains(t, stderr, "Unknown command: dance")
}

func TestVersionCommand(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, nil, nil)
	stdout, _, err := dispatch(t, r, "version")
	require.NoError(t, err)
	assert.Equal(t, "flowctl version 1.2.3\n", stdout)

	_, _, err = dispatch(t, r, "version", "extra")
	require.Error(t, err)
}

func TestConfigCommand(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader("flow.async.order dfs\n[guard]\nflow.timeout 1m\nbogus x\n"))
	require.NoError(t, err)
	r := newTestRegistry(t, cfg, map[string]string{"ACTIONFLOW_LOG_LEVEL": "warn"})

	stdout, _, err := dispatch(t, r, "config", "--tree", "guard")
	require.NoError(t, err)
	assert.Regexp(t, `flow\.async\.order\s+dfs`, stdout)
	assert.Regexp(t, `flow\.timeout\s+1m0s`, stdout)
	assert.Regexp(t, `log\.level\s+warn`, stdout)

	stdout, _, err = dispatch(t, r, "config", "flow.timeout")
	require.NoError(t, err)
	assert.Equal(t, "flow.timeout: 30s\n", stdout)

	stdout, _, err = dispatch(t, r, "config", "log.level")
	require.NoError(t, err)
	assert.Equal(t, "log.level: warn\n", stdout)

	stdout, _, err = dispatch(t, r, "config", "nope")
	require.NoError(t, err)
	assert.Contains(t, stdout, "not found")

	stdout, _, err = dispatch(t, r, "config", "--all")
	require.NoError(t, err)
	assert.Contains(t, stdout, "  [guard]\n    bogus: x\n    flow.timeout: 1m\n")

	stdout, _, err = dispatch(t, r, "config", "validate")
	require.NoError(t, err)
	assert.Contains(t, stdout, "1 issue(s)")

	stdout, _, err = dispatch(t, r, "config", "schema")
	require.NoError(t, err)
	assert.Contains(t, stdout, "ACTIONFLOW_ASYNC_MODE")

	_, _, err = dispatch(t, r, "config", "a", "b")
	require.Error(t, err)
}

func TestKindsCommand(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, nil, nil)
	stdout, _, err := dispatch(t, r, "kinds")
	require.NoError(t, err)
	assert.Contains(t, stdout, "KIND")
	assert.Regexp(t, `sequence\s+composite`, stdout)
	assert.Regexp(t, `condition\s+leaf\s+expr`, stdout)
}

func TestValidateCommand(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, nil, nil)
	good := writeTree(t, guardTree)
	scripted := writeTree(t, "root: {kind: script, source: '() => true'}")
	bad := writeTree(t, "root: {kind: dance}")
	unscored := writeTree(t, "root: {kind: highest_score, children: [{kind: succeed}]}")

	stdout, _, err := dispatch(t, r, "validate", good, scripted)
	require.NoError(t, err)
	assert.Equal(t, good+": ok\n"+scripted+": ok\n", stdout)

	stdout, _, err = dispatch(t, r, "validate", good, bad)
	require.EqualError(t, err, "1 of 2 tree(s) invalid")
	assert.Contains(t, stdout, bad+": treedef: invalid definition")

	stdout, _, err = dispatch(t, r, "validate", unscored)
	require.EqualError(t, err, "1 of 1 tree(s) invalid")
	assert.Contains(t, stdout, "children[0] needs score or score_expr")

	_, _, err = dispatch(t, r, "validate")
	require.Error(t, err)
}

func TestRunCommand(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, nil, nil)
	stdout, _, err := dispatch(t, r, "run", "--tick", "1ms", "--trace", writeTree(t, guardTree))
	require.NoError(t, err)
	assert.Contains(t, stdout, "guard: success\n")
	assert.Regexp(t, `run\s+healthy <- `, stdout)
	assert.Contains(t, stdout, "result")
}

func TestRunCommand_Failure(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, nil, nil)
	stdout, _, err := dispatch(t, r, "run", "--tick", "1ms", writeTree(t, "name: doomed\nroot: {kind: fail}\n"))
	require.ErrorIs(t, err, ErrTreeFailed)
	assert.Equal(t, "doomed: failure\n", stdout)
}

func TestRunCommand_Script(t *testing.T) {
	t.Parallel()

	logFile := filepath.Join(t.TempDir(), "flow.log")
	r := newTestRegistry(t, nil, map[string]string{
		"ACTIONFLOW_TICK_INTERVAL": "1ms",
		"ACTIONFLOW_LOG_FILE":      logFile,
	})
	stdout, _, err := dispatch(t, r, "run", writeTree(t, `
name: scripted
blackboard: {n: 1}
root:
  kind: sequence
  children:
    - kind: await_ready
    - kind: script
      source: |
        async (ctx) => {
          await new Promise((resolve) => setTimeout(resolve, 1));
          return blackboard.get("n") === 1;
        }
`))
	require.NoError(t, err)
	assert.Equal(t, "scripted: success\n", stdout)

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"flowctl: running tree"`)
}

func TestRunCommand_Timeout(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, nil, nil)
	start := time.Now()
	_, _, err := dispatch(t, r, "run", "--tick", "1ms", "--timeout", "100ms", writeTree(t, `
name: stuck
root:
  kind: sequence
  children:
    - kind: await_ready
    - kind: script
      source: '() => new Promise(() => {})'
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "deadline exceeded")
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestRunCommand_BadFlags(t *testing.T) {
	t.Parallel()

	r := newTestRegistry(t, nil, nil)
	path := writeTree(t, guardTree)
	_, _, err := dispatch(t, r, "run", "--async-order", "random", path)
	require.ErrorContains(t, err, "invalid async order")
	_, _, err = dispatch(t, r, "run", "--async-mode", "random", path)
	require.ErrorContains(t, err, "invalid async mode")
	_, _, err = dispatch(t, r, "run", "--log-level", "loud", path)
	require.ErrorContains(t, err, "invalid log level")
	_, _, err = dispatch(t, r, "run")
	require.Error(t, err)
}
