// Package version carries build identification, populated via -ldflags.
package version

var (
	// Version is the recorder release version
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String returns a single-line build description for logs and /api/health.
func String() string {
	return Version + " (" + GitSHA + ", built " + BuildTime + ")"
}
