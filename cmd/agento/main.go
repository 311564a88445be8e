package main

import (
	"os"

	"github.com/majorcontext/agento/cmd/agento/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
