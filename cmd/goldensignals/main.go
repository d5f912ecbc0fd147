package main

import (
	"os"

	"github.com/armadaproject/goldensignals/cmd/goldensignals/cmd"
)

func main() {
	if err := cmd.RootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
