// Package main is the entry point for the netcore user-space network stack.
package main

import (
	"os"

	"firestige.xyz/netcore/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
