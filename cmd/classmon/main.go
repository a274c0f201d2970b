package main

import (
	"fmt"
	"os"

	"github.com/dj-oyu/class-monitor/internal/cmd"
	"github.com/dj-oyu/class-monitor/internal/logger"
)

func main() {
	rootCmd := cmd.NewRootCommand()

	err := rootCmd.Execute()
	if l := logger.Default(); l != nil {
		l.Close()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
