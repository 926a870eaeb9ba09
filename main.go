package main

import (
	"os"

	"github.com/tristan-zander/runback/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
