package main

import (
	"os"

	"github.com/ashleyhindle/fuel/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
