// Command pasta wraps an interactive shell in a transparent pty proxy and
// derives a command-level view of the session from the output stream:
// prompts, command inputs, output regions and nested shells, with optional
// asciicast recordings on the side.
package main

import "os"

func main() {
	os.Exit(run())
}
