// Package main is the entry point for the siemctl administration tool.
package main

import (
	"os"

	"github.com/good-yellow-bee/siemlite/cmd/siemctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
