// Package version holds build-time version information injected via ldflags.
package version

import (
	"fmt"
	"runtime"
)

// ApplicationName is the canonical binary name.
const ApplicationName = "clipdock"

// Populated at build time:
//
//	go build -ldflags "-X github.com/clipdock/clipdock/internal/version.Version=v1.2.3 ..."
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Info describes the running build.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns the build information for this binary.
func GetInfo() Info {
	return Info{
		Name:      ApplicationName,
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String renders the build info as a single human-readable line.
func (i Info) String() string {
	if i.Commit != "unknown" && len(i.Commit) >= 8 {
		return fmt.Sprintf("%s %s (commit %s, built %s, %s, %s)",
			i.Name, i.Version, i.Commit[:8], i.Date, i.GoVersion, i.Platform)
	}
	return fmt.Sprintf("%s %s (%s, %s)", i.Name, i.Version, i.GoVersion, i.Platform)
}
