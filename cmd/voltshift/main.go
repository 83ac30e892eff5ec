package main

import (
	"os"

	"github.com/danmuck/voltshift/cmd/voltshift/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
