package main

import (
	"github.com/picdbg/picdbg/cmd/picdbg/cmds"
	"github.com/picdbg/picdbg/pkg/version"
)

// Build is the git sha of this binaries build.
var Build string

func main() {
	if Build != "" {
		version.PicdbgVersion.Build = Build
	}
	cmds.New(false).Execute()
}
