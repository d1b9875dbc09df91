package main

import (
	"os"

	"github.com/tjper/jobd/internal/cli"
)

func main() {
	os.Exit(cli.RunJobctl())
}
