//go:build linux

package sensor

import (
	"os/exec"
)

// FindRuntime locates the vendor sensor daemon binary on PATH
func FindRuntime(runtime string) (string, error) {
	binPath, err := exec.LookPath(runtime)
	if err != nil {
		return "", err
	}

	return binPath, nil
}
