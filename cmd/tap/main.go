// Package main is the entry point for the tap CLI binary.
package main

import (
	"os"

	"tapkit/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
