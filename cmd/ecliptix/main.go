package main

import (
	"os"

	"ecliptix/cmd/ecliptix/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
