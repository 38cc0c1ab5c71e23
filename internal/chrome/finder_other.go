//go:build !linux && !darwin && !windows

package chrome

var pathNames = []string{"chromium", "chrome"}

func candidatePaths() []string { return nil }
