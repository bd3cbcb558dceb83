// Package version holds build information for heosctl.
package version

import "fmt"

// Set at build time with -ldflags "-X .../internal/version.Version=...".
var (
	Name      = "heosctl"
	Version   = "0.3.0"
	BuildTime = ""
	GitCommit = ""
)

// Info is the version record printed by --version.
type Info struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	BuildTime string `json:"buildTime,omitempty"`
	GitCommit string `json:"gitCommit,omitempty"`
}

// GetInfo returns the build information.
func GetInfo() Info {
	return Info{
		Name:      Name,
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
	}
}

// String formats the info as "heosctl v0.3.0 (abcdef1) built ...".
func (i Info) String() string {
	s := fmt.Sprintf("%s v%s", i.Name, i.Version)
	if i.GitCommit != "" {
		s += fmt.Sprintf(" (%s)", i.GitCommit[:min(7, len(i.GitCommit))])
	}
	if i.BuildTime != "" {
		s += " built " + i.BuildTime
	}
	return s
}
