// Command fsidx maintains and queries the identifier index of an object
// directory.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/roach88/fsidx/internal/cli"
)

func main() {
	err := cli.NewRootCommand().ExecuteContext(context.Background())
	if err == nil {
		return
	}
	var exitErr *cli.ExitError
	if !errors.As(err, &exitErr) || !exitErr.Reported {
		fmt.Fprintln(os.Stderr, "fsidx:", err)
	}
	os.Exit(cli.GetExitCode(err))
}
