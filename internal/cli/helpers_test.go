package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const counterBlueprint = `{
  "app_id": "@builtin/counter",
  "name": "counter",
  "state_schema": {
    "type": "object",
    "properties": {"count": {"type": "number"}},
    "required": ["count"]
  },
  "event_schemas": {"INC": {"type": "object"}},
  "initial_state": {"count": 0},
  "transition": "{\"count\": state.count + 1.0}"
}`

// cliEnv runs commands against one database in a temp directory.
type cliEnv struct {
	t   *testing.T
	dir string
	db  string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	for _, key := range []string{
		"AUTOMATA_CONFIG", "AUTOMATA_DB", "AUTOMATA_LOG_LEVEL", "AUTOMATA_REGISTRY",
		"AUTOMATA_REDIS_ADDR", "AUTOMATA_CODEC", "AUTOMATA_SNAPSHOT_INTERVAL",
		"AUTOMATA_TOKEN_TTL", "AUTOMATA_PUSH_TIMEOUT",
	} {
		t.Setenv(key, "")
	}
	dir := t.TempDir()
	return &cliEnv{t: t, dir: dir, db: filepath.Join(dir, "automata.db")}
}

// write creates a file under the env's directory and returns its path.
func (e *cliEnv) write(name, content string) string {
	e.t.Helper()
	path := filepath.Join(e.dir, name)
	require.NoError(e.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(e.t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// run executes the CLI with --db and --format json and returns stdout.
func (e *cliEnv) run(args ...string) (string, error) {
	return e.runWithInput("", args...)
}

func (e *cliEnv) runWithInput(input string, args ...string) (string, error) {
	e.t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(append([]string{"--db", e.db, "--format", "json"}, args...))
	err := cmd.Execute()
	return out.String(), err
}

// response is a decoded CLIResponse with its payload left raw.
type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

func decodeResponse(t *testing.T, out string) response {
	t.Helper()
	var r response
	require.NoError(t, json.Unmarshal([]byte(out), &r), "output: %s", out)
	return r
}

// ok runs a command that must succeed and decodes its data into dst.
func (e *cliEnv) ok(dst any, args ...string) {
	e.t.Helper()
	out, err := e.run(args...)
	require.NoError(e.t, err, "output: %s", out)
	r := decodeResponse(e.t, out)
	require.Equal(e.t, "ok", r.Status)
	if dst != nil {
		require.NoError(e.t, json.Unmarshal(r.Data, dst))
	}
}

// fail runs a command that must fail and returns its exit code and the
// reported error code.
func (e *cliEnv) fail(args ...string) (int, string) {
	e.t.Helper()
	out, err := e.run(args...)
	require.Error(e.t, err)
	code := ""
	if strings.TrimSpace(out) != "" {
		if r := decodeResponse(e.t, out); r.Error != nil {
			code = r.Error.Code
		}
	}
	return GetExitCode(err), code
}

// counterBlueprintID stores the counter blueprint and returns its ID.
func (e *cliEnv) counterBlueprintID() string {
	e.t.Helper()
	path := e.write("counter.json", counterBlueprint)
	var created []CreatedBlueprint
	e.ok(&created, "blueprint", "create", path)
	require.Len(e.t, created, 1)
	return created[0].ID
}
