package store

import (
	"os"
	"path/filepath"
	"strings"
)

// ResolveRootPath resolves the configured gate state root path.
// If empty, it falls back to ~/.polyclaw/workspaces.
func ResolveRootPath(rootPath string) (string, error) {
	if trimmed := strings.TrimSpace(rootPath); trimmed != "" {
		if strings.HasPrefix(trimmed, "~") {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			return filepath.Join(home, strings.TrimPrefix(trimmed, "~")), nil
		}
		return trimmed, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".polyclaw", "workspaces"), nil
}

// GetWorkspacePath returns the base path for a workspace.
func GetWorkspacePath(workspaceID string, rootPath string) (string, error) {
	root, err := ResolveRootPath(rootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(root, workspaceID), nil
}

// GetGovernanceDir returns the directory holding the audit log and
// idempotency state for a workspace.
func GetGovernanceDir(workspaceID string, rootPath string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, rootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "governance"), nil
}

// GetLockPath returns the single-instance lock file path for a workspace.
func GetLockPath(workspaceID string, rootPath string) (string, error) {
	base, err := GetWorkspacePath(workspaceID, rootPath)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, "gate.lock"), nil
}
