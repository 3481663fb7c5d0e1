package main

import (
	"os"

	"ring0.store/fulfillment/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
