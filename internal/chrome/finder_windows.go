//go:build windows

package chrome

import (
	"os"
	"path/filepath"
)

var pathNames = []string{"chrome.exe", "chrome"}

func candidatePaths() []string {
	var paths []string
	for _, env := range []string{"PROGRAMFILES", "PROGRAMFILES(X86)", "LOCALAPPDATA"} {
		if dir := os.Getenv(env); dir != "" {
			paths = append(paths, filepath.Join(dir, "Google", "Chrome", "Application", "chrome.exe"))
		}
	}
	return paths
}
