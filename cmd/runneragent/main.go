package main

import (
	"fmt"
	"os"

	"github.com/yubzen/runneragent/internal/cli"
)

func restoreTerminalState() {
	fmt.Fprint(os.Stderr, "\x1b[?25h\x1b[0m")
}

func main() {
	if err := cli.NewRootCmd().Execute(); err != nil {
		restoreTerminalState()
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	restoreTerminalState()
}
