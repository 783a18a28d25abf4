package main

import (
	"os"

	"github.com/serverledge-faas/localfaas/internal/cli"
	"go.uber.org/automaxprocs/maxprocs"
)

func main() {
	// silent: bootstrap children must not write anything but the handler output
	undo, _ := maxprocs.Set()
	code := cli.Execute()
	undo()
	os.Exit(code)
}
