package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// executeWithInput runs the root command with args and the given stdin.
func executeWithInput(t *testing.T, input string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand_IngestsFromStdin(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	input := `{"timestamp":"2024-06-01T12:00:00Z","topic":"device/temp","value":21.5}
{"timestamp":"2024-06-01T12:01:00Z","topic":"device/temp","value":22.0}
`
	out, err := executeWithInput(t, input, "run", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "submitted 1 batches (0 malformed lines skipped)")

	// The ingested rows are queryable.
	out, err = execute(t, "query", "device/temp", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "21.5")
	assert.Contains(t, out, "22")
}

func TestRunCommand_BatchSizeSplitsBatches(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	var lines []string
	for i := 0; i < 5; i++ {
		lines = append(lines,
			fmt.Sprintf(`{"timestamp":"2024-06-01T12:0%d:00Z","topic":"device/temp","value":1}`, i))
	}
	out, err := executeWithInput(t, strings.Join(lines, "\n")+"\n",
		"run", "-c", configPath, "--batch-size", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "submitted 3 batches")
}

func TestRunCommand_SkipsMalformedLines(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	input := `{"timestamp":"2024-06-01T12:00:00Z","topic":"device/temp","value":1}
this is not json
{"timestamp":"2024-06-01T12:01:00Z","topic":"device/temp","value":2}
`
	out, err := executeWithInput(t, input, "run", "-c", configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "(1 malformed lines skipped)")
}

func TestRunCommand_InputFile(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	inputPath := filepath.Join(t.TempDir(), "records.ndjson")
	require.NoError(t, os.WriteFile(inputPath,
		[]byte(`{"timestamp":"2024-06-01T12:00:00Z","topic":"device/temp","value":1}`+"\n"), 0o644))

	out, err := execute(t, "run", "-c", configPath, "--input", inputPath)
	require.NoError(t, err)
	assert.Contains(t, out, "submitted 1 batches")
}

func TestRunCommand_MissingInputFile(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	_, err := execute(t, "run", "-c", configPath, "--input", "/no/such/file.ndjson")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunCommand_InvalidBatchSize(t *testing.T) {
	configPath, _ := writeTestConfig(t)
	_, err := execute(t, "run", "-c", configPath, "--batch-size", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
