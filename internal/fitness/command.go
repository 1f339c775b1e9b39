package fitness

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
)

// Command runs an external program per genome. The program receives
// {"genome": [...]} as JSON on stdin and must print a Result as JSON on stdout.
type Command struct {
	argv []string
	dir  string
}

// NewCommand creates a command evaluator for argv.
func NewCommand(argv []string) *Command {
	return &Command{argv: argv}
}

// WithDir sets the working directory of the evaluated program.
func (c *Command) WithDir(dir string) *Command {
	c.dir = dir
	return c
}

type commandInput struct {
	Genome []int `json:"genome"`
}

// Evaluate runs the program once for genome.
func (c *Command) Evaluate(ctx context.Context, genome []int) (Result, error) {
	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir

	input, err := json.Marshal(commandInput{Genome: genome})
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode genome: %w", err)
	}
	cmd.Stdin = bytes.NewReader(input)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	output, err := cmd.Output()
	if err != nil {
		return Result{}, fmt.Errorf("evaluator command failed: %w\nStderr:\n%s", err, stderr.String())
	}

	var result Result
	if err := json.Unmarshal(bytes.TrimSpace(output), &result); err != nil {
		return Result{}, fmt.Errorf("evaluator command returned invalid JSON %q: %w",
			strings.TrimSpace(string(output)), err)
	}
	return result, nil
}
