// Package version holds build metadata, which is set with -ldflags at link
// time, for example:
//
//	go build -ldflags "-X github.com/mutablelogic/go-pgbroker/pkg/version.GitTag=v1.0.0"
package version

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
)

///////////////////////////////////////////////////////////////////////////////
// TYPES

// Metadata describes the running binary
type Metadata struct {
	Name      string `json:"name"`
	Version   string `json:"version"`
	Compiler  string `json:"compiler"`
	Source    string `json:"source,omitempty"`
	Hash      string `json:"hash,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

///////////////////////////////////////////////////////////////////////////////
// GLOBALS

var (
	GitSource   string
	GitTag      string
	GitBranch   string
	GitHash     string
	GoBuildTime string
)

///////////////////////////////////////////////////////////////////////////////
// PUBLIC METHODS

// ExecName returns the name of the running executable
func ExecName() string {
	name, err := os.Executable()
	if err != nil {
		return filepath.Base(os.Args[0])
	}
	return filepath.Base(name)
}

// Version returns the tag, the branch, or the module version from the
// build info, in that order of preference
func Version() string {
	if GitTag != "" {
		return GitTag
	}
	if GitBranch != "" {
		return GitBranch
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "(devel)"
}

// Compiler returns the go version and platform
func Compiler() string {
	return runtime.Version() + " " + runtime.GOOS + "/" + runtime.GOARCH
}

// Info returns the build metadata of the running binary
func Info() Metadata {
	return Metadata{
		Name:      ExecName(),
		Version:   Version(),
		Compiler:  Compiler(),
		Source:    GitSource,
		Hash:      GitHash,
		BuildTime: GoBuildTime,
	}
}

func (m Metadata) String() string {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err.Error()
	}
	return string(data)
}
