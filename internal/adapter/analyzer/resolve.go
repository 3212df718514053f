package analyzer

import "path/filepath"

// ResolveCommand picks the analyzer binary. In dev mode a locally built
// binary at devPath is used instead of the one on PATH; a relative devPath
// is taken relative to workspace.
func ResolveCommand(binary string, devMode bool, devPath, workspace string) string {
	if !devMode || devPath == "" {
		return binary
	}
	if filepath.IsAbs(devPath) {
		return devPath
	}
	return filepath.Join(workspace, devPath)
}
