package recording

import (
	"fmt"
	"os"
	"path/filepath"
)

// Save writes the non-empty artifacts into dir and returns their paths.
// Each file is written to a temp name first and renamed into place.
func Save(dir string, arts Artifacts) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating recordings directory: %w", err)
	}

	var paths []string
	files := append([]Artifact{arts.Video}, arts.Segments...)
	for _, a := range append(files, arts.Audio) {
		if a.Empty() {
			continue
		}
		path := filepath.Join(dir, a.Name)
		tmp := path + ".tmp"
		if err := os.WriteFile(tmp, a.Data, 0o644); err != nil {
			return paths, fmt.Errorf("writing %s: %w", a.Name, err)
		}
		if err := os.Rename(tmp, path); err != nil {
			return paths, fmt.Errorf("persisting %s: %w", a.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
