// File: cmd/helpers_test.go
package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeConfig writes a config file whose memory log and log file live in a temp dir.
func writeConfig(t *testing.T) (cfgPath, memoryPath string) {
	t.Helper()
	dir := t.TempDir()
	memoryPath = filepath.Join(dir, "memory.jsonl")
	cfgPath = filepath.Join(dir, "config.yaml")
	content := fmt.Sprintf(`logger:
  level: fatal
  log_file: ""
memory:
  backend: file
  path: %q
`, memoryPath)
	require.NoError(t, os.WriteFile(cfgPath, []byte(content), 0o600))
	return cfgPath, memoryPath
}

// executeCommand runs a fresh command tree and returns what it printed to stdout.
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := NewRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}
