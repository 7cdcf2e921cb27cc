package main

import (
	"os"

	"github.com/voxfield/kitbash/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
