package main

import (
	"os"

	"github.com/attachebot/attache/cmd/attache/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
