// Package buildinfo contains application metadata that can be set at build time.
//
// Release builds set the version through ldflags:
//
//	go build -ldflags "\
//	  -X github.com/dotside-studios/pax-pos-agent/buildinfo.Version=1.2.0 \
//	  -X github.com/dotside-studios/pax-pos-agent/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X github.com/dotside-studios/pax-pos-agent/buildinfo.BuildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package buildinfo

import (
	"fmt"
	"runtime"
	"strings"
)

// Application metadata, overridable via ldflags.
var (
	// Name is the technical application name.
	Name = "pax-pos-agent"

	// DirName is the config directory name within user config paths.
	DirName = "pax-pos-agent"

	// DisplayName is used for the tray, mDNS and window titles.
	DisplayName = "PAX POS Agent"

	Description = "Card reader and receipt printer agent for POS terminals"

	// Version is the semantic version.
	Version = "dev"

	Commit    = ""
	BuildTime = ""
)

// FullVersion returns the version with the commit, e.g. "1.2.0 (abc1234)".
func FullVersion() string {
	if Commit != "" {
		return fmt.Sprintf("%s (%s)", Version, Commit)
	}
	return Version
}

// UserAgent returns "pax-pos-agent/<version>".
func UserAgent() string {
	return fmt.Sprintf("%s/%s", Name, Version)
}

// BuildInfo returns a multi-line summary of the build.
func BuildInfo() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", Name, FullVersion())
	fmt.Fprintf(&b, "  %s\n", Description)
	fmt.Fprintf(&b, "  Go: %s\n", runtime.Version())
	fmt.Fprintf(&b, "  OS/Arch: %s/%s", runtime.GOOS, runtime.GOARCH)
	if BuildTime != "" {
		fmt.Fprintf(&b, "\n  Built: %s", BuildTime)
	}
	return b.String()
}

// IsDev reports whether this is a development build.
func IsDev() bool {
	return Version == "dev"
}
