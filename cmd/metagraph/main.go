// Command metagraph inspects and maintains a metagraph document held in the
// configured storage backend.
package main

import (
	"context"
	"io"
	"os"
)

var exitFunc = os.Exit

func main() {
	exitFunc(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		printError(stderr, err)
		return 1
	}
	return 0
}
