package main

import (
	"fmt"
	"os"

	"github.com/gridscope/historian/internal/cli"
	_ "github.com/gridscope/historian/internal/storage/sqlite"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(cli.GetExitCode(err))
	}
}
