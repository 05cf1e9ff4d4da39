package main

import (
	"os"

	"github.com/stone-age-io/channel-validator/internal/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
