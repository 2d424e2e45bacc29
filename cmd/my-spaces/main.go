// Command my-spaces runs spaces locally in Docker.
package main

import (
	"os"

	"github.com/bdobrica/myspaces/internal/myspaces/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
