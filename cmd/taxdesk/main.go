// Package main is the entry point for the taxdesk CLI.
package main

import "github.com/taxdesk/taxdesk-cli/internal/cli"

func main() {
	cli.Execute()
}
