// Command codex-relay bridges line-delimited chat messages to coding agent
// sessions.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
