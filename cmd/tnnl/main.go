package main

import (
	"os"

	"github.com/tnnl/coordinator/internal/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
