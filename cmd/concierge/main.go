package main

import (
	"context"
	"os"

	"github.com/harun/concierge/internal/cli"

	// Embedded zone database so answer.timezone resolves on minimal images.
	_ "time/tzdata"
)

func main() {
	if err := cli.GetRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
