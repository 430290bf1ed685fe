// Package version carries the build identity stamped in by the linker.
package version

// Overridden at build time via
// -ldflags "-X github.com/casgen-dev/casgen/internal/version.Version=v1.2.3".
var (
	Version = "dev"
	Commit  = "unknown"
)

// String returns the human-readable build identifier.
func String() string {
	if Commit == "unknown" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
