package chrome

import (
	"fmt"
	"os"

	"github.com/go-rod/rod/lib/launcher"
)

// createProfileDir makes a fresh Chromium user-data dir under base, or under
// the system temp dir when base is empty.
func createProfileDir(base string) (string, error) {
	if base != "" {
		if err := os.MkdirAll(base, 0o755); err != nil {
			return "", err
		}
	}
	return os.MkdirTemp(base, "awmp-chrome-*")
}

// downloadBrowser is swapped in tests.
var downloadBrowser = func() (string, error) {
	return launcher.NewBrowser().Get()
}

// ResolveExecPath returns path when set. Otherwise, if download is true, it
// fetches a compatible Chromium into the rod cache and returns its path; if
// not, it returns "" and chromedp searches the usual install locations.
func ResolveExecPath(path string, download bool) (string, error) {
	if path != "" || !download {
		return path, nil
	}
	p, err := downloadBrowser()
	if err != nil {
		return "", fmt.Errorf("downloading browser: %w", err)
	}
	return p, nil
}
