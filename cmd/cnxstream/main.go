package main

import (
	"os"

	"github.com/illmade-knight/go-cnxstream/cmd/cnxstream/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
