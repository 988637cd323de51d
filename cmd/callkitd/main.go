package main

import (
	"os"

	"github.com/vinayprograms/callkit/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
