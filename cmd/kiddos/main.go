package main

import (
	"os"

	"github.com/andyfreed/kiddos/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
