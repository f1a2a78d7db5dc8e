package main

import (
	"context"
	"fmt"
	"os"

	"github.com/coral-mesh/spanprof/internal/cli"
)

func main() {
	os.Exit(cli.Execute(context.Background(), func(err error) {
		_, _ = fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}))
}
