package scaffold

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dyluth/genegrid/internal/config"
)

// CheckExisting checks if genegrid.yml or evaluators/ already exist in dir.
// Returns an error if they do, nil otherwise
func CheckExisting(dir string) error {
	var existingFiles []string

	if _, err := os.Stat(filepath.Join(dir, config.DefaultFile)); err == nil {
		existingFiles = append(existingFiles, config.DefaultFile)
	}
	if info, err := os.Stat(filepath.Join(dir, EvaluatorDir)); err == nil && info.IsDir() {
		existingFiles = append(existingFiles, EvaluatorDir+"/")
	}

	if len(existingFiles) == 0 {
		return nil
	}

	var b strings.Builder
	b.WriteString("project already initialized\n\nFound existing")
	if len(existingFiles) == 1 {
		fmt.Fprintf(&b, ": %s\n", existingFiles[0])
	} else {
		b.WriteString(" files:\n")
		for _, file := range existingFiles {
			fmt.Fprintf(&b, "  - %s\n", file)
		}
	}
	b.WriteString("\nUse 'genegrid init --force' to reinitialize (this will overwrite existing configuration)")

	return fmt.Errorf("%s", b.String())
}
