// Package buildinfo resolves the version string reported by shardmove
// binaries. Release builds inject it with -ldflags; dev builds from a git
// checkout fall back to the VCS metadata Go records automatically.
package buildinfo

import (
	"runtime/debug"
	"sync"
)

// version is populated via -ldflags "-X .../pkg/buildinfo.version=v1.2.3".
var version string

var (
	once   sync.Once
	cached string
)

// Version returns the resolved version string, e.g. "v1.2.3" or
// "dev-1a2b3c4d" or "dev". The result is computed once and cached.
func Version() string {
	once.Do(func() {
		cached = resolve()
	})
	return cached
}

func resolve() string {
	if version != "" {
		return version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "dev"
	}
	var revision, modified string
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			revision = setting.Value
		case "vcs.modified":
			if setting.Value == "true" {
				modified = "-modified"
			}
		}
	}
	if revision == "" {
		return "dev"
	}
	if len(revision) > 8 {
		revision = revision[:8]
	}
	return "dev-" + revision + modified
}
