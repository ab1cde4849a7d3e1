package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/chat2bench/chat2bench/internal/cli/chat2bench"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := chat2bench.Run(ctx, os.Args[1:], chat2bench.Options{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	})
	stop()
	os.Exit(code)
}
