package main

import (
	"os"

	"github.com/linkcap/linkcap/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
