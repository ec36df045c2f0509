// Package main is the entry point for the auditdesk command.
package main

import (
	"os"

	"auditdesk/cmd"
)

func main() {
	if err := cmd.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
