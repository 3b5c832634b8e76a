package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fiapx/fiapx-annotation-service/internal/cli"
	"github.com/fiapx/fiapx-annotation-service/internal/infra/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	if err := cli.RootCommand(cfg).ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
