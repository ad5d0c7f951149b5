package main

import (
	"os"

	"github.com/JonMunkholm/vulnmaster/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
