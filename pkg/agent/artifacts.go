package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// writeArtifacts stages all files under a temp directory inside the
// workspace, then renames them into place. Either every file lands or the
// workspace is left untouched (modulo already-renamed files on a rename
// error, which is why artifact failures are not retryable).
func writeArtifacts(workspace string, files map[string]string) ([]string, error) {
	if len(files) == 0 {
		return nil, nil
	}

	paths := make([]string, 0, len(files))
	for p := range files {
		if err := validateArtifactPath(p); err != nil {
			return nil, err
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)

	staging, err := os.MkdirTemp(workspace, ".staging-")
	if err != nil {
		return nil, fmt.Errorf("failed to create staging dir: %w", err)
	}
	defer os.RemoveAll(staging)

	for _, p := range paths {
		dst := filepath.Join(staging, p)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", p, err)
		}
		if err := os.WriteFile(dst, []byte(files[p]), 0o644); err != nil {
			return nil, fmt.Errorf("failed to stage %s: %w", p, err)
		}
	}

	for _, p := range paths {
		dst := filepath.Join(workspace, p)
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("failed to place %s: %w", p, err)
		}
		if err := os.Rename(filepath.Join(staging, p), dst); err != nil {
			return nil, fmt.Errorf("failed to place %s: %w", p, err)
		}
	}
	return paths, nil
}

// validateArtifactPath rejects absolute paths and traversal out of the
// workspace.
func validateArtifactPath(p string) error {
	if p == "" {
		return fmt.Errorf("artifact path is empty")
	}
	if filepath.IsAbs(p) {
		return fmt.Errorf("artifact path %q is absolute", p)
	}
	clean := filepath.Clean(p)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("artifact path %q escapes the workspace", p)
	}
	return nil
}
