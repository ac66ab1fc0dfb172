// Command lens subscribes to keyed entity feeds and renders the live views.
package main

import (
	"os"

	"github.com/zoobzio/capitan"
)

func main() {
	err := newRootCommand().Execute()
	capitan.Shutdown()
	if err != nil {
		os.Exit(1)
	}
}
