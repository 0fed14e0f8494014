// Package main is the single-binary entrypoint for vpcsim.
package main

import "github.com/tutu-network/vpcsim/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
