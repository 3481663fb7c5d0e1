// Package version reports the running build.
package version

import (
	"os"
	"strings"
)

// Version is overridden at build time with -ldflags "-X ...version.Version=v1.2.3".
var Version = "dev"

// Load replaces a "dev" version with the first line of the file at path,
// when that file exists.
func Load(path string) string {
	if Version != "dev" {
		return Version
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Version
	}
	if v := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0]); v != "" {
		Version = v
	}
	return Version
}
