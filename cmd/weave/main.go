// cmd/weave/main.go
package main

import (
	weave "github.com/mwiater/weave/internal/commands"
)

// Set by -ldflags at release time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var (
	setVersionInfo = weave.SetVersionInfo
	executeCmd     = weave.Execute
)

// main starts the weave CLI by delegating to the cobra root command.
func main() {
	setVersionInfo(version, commit, date)
	executeCmd()
}
