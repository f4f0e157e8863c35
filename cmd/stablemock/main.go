// stablemock CLI - dynamic-field detection for record/playback HTTP stubs
package main

import (
	"github.com/sloppylopez/stablemock/pkg/cli"
)

// Build-time variables set via ldflags
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	cli.Version, cli.Commit, cli.BuildDate = Version, Commit, BuildDate
	cli.Execute()
}
