package main

import (
	"os"

	"github.com/loqalabs/loqa-scribe/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
