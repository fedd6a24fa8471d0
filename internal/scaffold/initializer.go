// Package scaffold writes a starter agora.yml for "agora init".
package scaffold

import (
	"embed"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/dyluth/agora/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// ConfigFile is the file name Initialize writes.
const ConfigFile = "agora.yml"

// Initialize writes the starter configuration into dir and returns its path.
// An existing file is only replaced when force is set.
func Initialize(dir string, force bool) (string, error) {
	path := filepath.Join(dir, ConfigFile)

	if !force {
		if err := CheckExisting(dir); err != nil {
			return "", err
		}
	}

	content, err := templatesFS.ReadFile("templates/agora.yml.tmpl")
	if err != nil {
		return "", fmt.Errorf("failed to read agora.yml template: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	// The template must always load cleanly.
	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s is invalid: %w", path, err)
	}
	return path, nil
}

// CheckExisting returns an error if dir already holds an agora.yml.
func CheckExisting(dir string) error {
	path := filepath.Join(dir, ConfigFile)
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("project already initialized\n\nFound existing: %s\n\nUse 'agora init --force' to overwrite it", path)
	}
	return nil
}

// PrintSuccess writes the post-init guidance.
func PrintSuccess(w io.Writer, path string) {
	fmt.Fprintln(w, "\n✅ Successfully initialized Agora configuration!")
	fmt.Fprintln(w, "\nCreated:")
	fmt.Fprintf(w, "  ✓ %s\n", path)
	fmt.Fprintln(w, "\nNext steps:")
	fmt.Fprintln(w, "  1. Point store.redis_url at your Redis, or switch store.driver to sqlite")
	fmt.Fprintf(w, "  2. Start the daemon: AGORA_CONFIG=%s agorad\n", path)
	fmt.Fprintf(w, "  3. Register an agent: agora --config %s agent register --name <name> --capability <capability>\n", path)
}
