//go:build darwin

package chrome

import (
	"os"
	"path/filepath"
)

var pathNames = []string{"google-chrome", "chromium"}

func candidatePaths() []string {
	paths := []string{
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome"))
	}
	return paths
}
