// Package version carries build metadata injected with -ldflags, e.g.
// -X github.com/vladislavdragonenkov/farmops/internal/version.version=v1.2.0.
package version

import (
	"fmt"
	"runtime/debug"
	"sync"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

var vcsOnce sync.Once

// fillFromVCS uses the VCS stamp of the go build when -ldflags left the
// defaults in place.
func fillFromVCS() {
	vcsOnce.Do(func() {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range info.Settings {
			switch {
			case s.Key == "vcs.revision" && commit == "unknown" && s.Value != "":
				commit = shortRevision(s.Value)
			case s.Key == "vcs.time" && date == "unknown" && s.Value != "":
				date = s.Value
			}
		}
	})
}

func shortRevision(rev string) string {
	if len(rev) > 12 {
		return rev[:12]
	}
	return rev
}

// Info returns version, commit and build date.
func Info() (v, c, d string) {
	fillFromVCS()
	return version, commit, date
}

func GetVersion() string { return version }

func GetCommit() string {
	_, c, _ := Info()
	return c
}

func String() string {
	v, c, d := Info()
	return fmt.Sprintf("farmops %s (commit %s, built %s)", v, c, d)
}

// Fields returns the build metadata as log fields for the startup line.
func Fields() log.Fields {
	v, c, d := Info()
	return log.Fields{"version": v, "commit": c, "build_date": d}
}
