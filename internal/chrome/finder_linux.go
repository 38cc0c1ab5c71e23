//go:build linux

package chrome

var pathNames = []string{"google-chrome-stable", "google-chrome", "chromium-browser", "chromium"}

func candidatePaths() []string {
	return []string{
		"/usr/bin/google-chrome-stable",
		"/usr/bin/google-chrome",
		"/usr/bin/chromium-browser",
		"/usr/bin/chromium",
		"/snap/bin/chromium",
		"/opt/google/chrome/google-chrome",
	}
}
