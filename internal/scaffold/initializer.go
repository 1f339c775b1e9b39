package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	"github.com/dyluth/genegrid/internal/config"
	"github.com/dyluth/genegrid/internal/printer"
	"gopkg.in/yaml.v3"
)

//go:embed templates/*
var templatesFS embed.FS

// EvaluatorDir holds the example command evaluator.
const EvaluatorDir = "evaluators"

// FileInfo represents a file to be created during initialization
type FileInfo struct {
	Path        string
	Content     []byte
	Permissions os.FileMode
}

// templates maps embedded templates to their destination in the project.
var templates = []struct {
	name string
	path string
	perm os.FileMode
}{
	{"templates/genegrid.yml.tmpl", config.DefaultFile, 0644},
	{"templates/evaluate.py.tmpl", filepath.Join(EvaluatorDir, "evaluate.py"), 0755},
	{"templates/env.tmpl", ".env", 0600},
}

// Initialize creates a genegrid project in dir.
// If force is true, existing genegrid.yml, .env and evaluators/ are replaced.
func Initialize(dir string, force bool) error {
	if force {
		if err := handleForce(dir); err != nil {
			return err
		}
	}

	files, err := getTemplateFiles()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, EvaluatorDir), 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", EvaluatorDir, err)
	}

	for _, file := range files {
		path := filepath.Join(dir, file.Path)
		if err := os.WriteFile(path, file.Content, file.Permissions); err != nil {
			return fmt.Errorf("failed to write %s: %w", file.Path, err)
		}
	}

	return validateCreatedConfig(filepath.Join(dir, config.DefaultFile))
}

// handleForce removes existing files if --force was specified
func handleForce(dir string) error {
	for _, name := range []string{config.DefaultFile, ".env"} {
		path := filepath.Join(dir, name)
		if _, err := os.Stat(path); err == nil {
			printer.Warning("Removing existing %s...\n", name)
			if err := os.Remove(path); err != nil {
				return fmt.Errorf("failed to remove %s: %w", name, err)
			}
		}
	}

	evalDir := filepath.Join(dir, EvaluatorDir)
	if info, err := os.Stat(evalDir); err == nil && info.IsDir() {
		printer.Warning("Removing existing %s/ directory...\n", EvaluatorDir)
		if err := os.RemoveAll(evalDir); err != nil {
			return fmt.Errorf("failed to remove %s/ directory: %w", EvaluatorDir, err)
		}
	}

	return nil
}

// getTemplateFiles reads all embedded templates
func getTemplateFiles() ([]FileInfo, error) {
	files := make([]FileInfo, 0, len(templates))
	for _, tmpl := range templates {
		content, err := templatesFS.ReadFile(tmpl.name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s template: %w", filepath.Base(tmpl.path), err)
		}
		files = append(files, FileInfo{Path: tmpl.path, Content: content, Permissions: tmpl.perm})
	}
	return files, nil
}

// validateCreatedConfig checks the written genegrid.yml decodes into the
// config schema with no unknown keys. Env references are left unexpanded, so
// value validation is deferred to the first `genegrid` command that loads it.
func validateCreatedConfig(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read created %s: %w", config.DefaultFile, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(content))
	dec.KnownFields(true)
	var cfg config.Config
	if err := dec.Decode(&cfg); err != nil {
		return fmt.Errorf("created %s is not valid: %w", config.DefaultFile, err)
	}
	return nil
}

// PrintSuccess prints the success message with created files
func PrintSuccess() {
	printer.Success("Successfully initialized genegrid project!\n")
	printer.Println("\nCreated:")
	for _, tmpl := range templates {
		printer.Printf("  ✓ %s\n", tmpl.path)
	}
	printer.Println("\nNext steps:")
	printer.Println("  1. Edit .env to point REDIS_URL at a shared Redis")
	printer.Println("  2. Replace evaluators/evaluate.py with your fitness function")
	printer.Println("  3. Run 'genegrid coordinator' and one 'genegrid worker <start-row>' per block")
	printer.Println("     (or 'genegrid fleet up' to launch them in Docker)")
}
