package main

import (
	"os"

	"github.com/pysugar/search-insights/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
