package main

import (
	"os"

	"github.com/mbeckert/stiebelgw/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
