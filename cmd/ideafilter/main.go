package main

import (
	"os"

	"github.com/solatis/ideafilter/cmd/ideafilter/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
