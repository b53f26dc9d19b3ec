package main

import (
	"os"

	"github.com/rzpsarthak13/modelstore/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
