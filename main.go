package main

import (
	"os"

	"github.com/lubosmato/wled-ambilight/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
