package video

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// resolveBinary finds ffmpeg: an explicit path wins, then a copy bundled in
// assets/ next to the executable, then PATH.
func resolveBinary(configured string) string {
	if configured != "" {
		return configured
	}

	name := "ffmpeg"
	if runtime.GOOS == "windows" {
		name = "ffmpeg.exe"
	}

	if exePath, err := os.Executable(); err == nil {
		bundled := filepath.Join(filepath.Dir(exePath), "assets", name)
		if info, err := os.Stat(bundled); err == nil && !info.IsDir() {
			return bundled
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path
	}
	return name
}
