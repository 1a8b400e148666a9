//go:build !linux

package sensor

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// FindRuntime locates the vendor sensor daemon binary. Off the target
// platform it also searches next to the executable, which is where the
// vendor SDK drops its tools during development.
func FindRuntime(runtime string) (string, error) {
	if binPath, err := exec.LookPath(runtime); err == nil {
		return binPath, nil
	}

	exePath, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to get executable path: %w", err)
	}

	binPath := filepath.Join(filepath.Dir(exePath), runtime)
	if _, err = os.Stat(binPath); err != nil {
		return "", fmt.Errorf("failed to find binary '%s'", runtime)
	}

	return binPath, nil
}
