package runbooks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/bissquit/incident-orchestrator/internal/domain"
	"gopkg.in/yaml.v3"
)

// Decode reads one or more YAML documents, each holding a single runbook.
// Unknown fields are rejected.
func Decode(r io.Reader) ([]domain.Runbook, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var result []domain.Runbook
	for {
		var rb domain.Runbook
		if err := dec.Decode(&rb); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("decode runbook: %w", err)
		}
		if err := Validate(&rb); err != nil {
			return nil, err
		}
		Normalize(&rb)
		result = append(result, rb)
	}
	return result, nil
}

// LoadDir decodes every *.yaml and *.yml file in dir.
func LoadDir(dir string) ([]domain.Runbook, error) {
	return LoadFS(os.DirFS(dir))
}

// LoadFS decodes every *.yaml and *.yml file at the root of fsys. Duplicate
// ids across files are rejected.
func LoadFS(fsys fs.FS) ([]domain.Runbook, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read runbook dir: %w", err)
	}

	seen := make(map[string]string)
	var result []domain.Runbook
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := fs.ReadFile(fsys, e.Name())
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", e.Name(), err)
		}
		decoded, err := Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		for _, rb := range decoded {
			if prev, ok := seen[rb.ID]; ok {
				return nil, fmt.Errorf("%w: duplicate id %q in %s and %s", ErrInvalidRunbook, rb.ID, prev, e.Name())
			}
			seen[rb.ID] = e.Name()
			result = append(result, rb)
		}
	}
	return result, nil
}

// Sync validates every template and then writes them into the catalog.
// Nothing is written if any template is invalid.
func Sync(ctx context.Context, catalog Catalog, templates []domain.Runbook) error {
	for i := range templates {
		if err := Validate(&templates[i]); err != nil {
			return err
		}
		Normalize(&templates[i])
	}
	for i := range templates {
		if err := catalog.Put(ctx, &templates[i]); err != nil {
			return fmt.Errorf("put runbook %s: %w", templates[i].ID, err)
		}
	}
	slog.Info("runbook catalog synced", "count", len(templates))
	return nil
}
