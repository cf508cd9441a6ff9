// Package version holds the build version, overridable via ldflags.
package version

var Version = "dev"
