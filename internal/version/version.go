package version

import (
	"strings"
	"sync"
)

const (
	// name is the service identifier used in the fetcher's User-Agent and
	// printed by the version command.
	name = "mediaproxy"
	// defaultVersion applies when Version is empty or not set at build time.
	defaultVersion = "dev"
)

// Version reports the build version. It is overridden via -ldflags or Override.
var Version = defaultVersion

var (
	mu       sync.Mutex
	resolved string
)

// Identifier returns the formatted "service/version" string.
func Identifier() string {
	return name + "/" + currentVersion()
}

// Override substitutes the version string and clears cached values. Intended for tests.
func Override(v string) {
	mu.Lock()
	defer mu.Unlock()
	Version = v
	resolved = ""
}

func currentVersion() string {
	mu.Lock()
	defer mu.Unlock()
	if resolved != "" {
		return resolved
	}

	candidate := strings.TrimSpace(Version)
	if candidate == "" {
		candidate = defaultVersion
	}

	resolved = candidate
	return resolved
}
