package main

import (
	"context"
	"os"
)

var version = "dev"

func main() {
	if err := Run(context.Background(), os.Args, os.Stdout); err != nil {
		os.Exit(1)
	}
}
