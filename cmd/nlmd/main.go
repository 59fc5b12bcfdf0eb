// Command nlmd runs the network lock manager daemon.
package main

import (
	"fmt"
	"os"

	"github.com/lockd/nlmd/cmd/nlmd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
