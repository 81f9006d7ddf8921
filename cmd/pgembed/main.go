package main

import (
	"fmt"
	"os"

	"github.com/pgembed/pgembed/internal/cli"
)

func main() {
	if err := cli.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
