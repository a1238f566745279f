package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/csiro-fair/marimba/internal/pipeline"
)

const usage = `usage: marimba <command> [flags]

commands:
  new         create a new project
  install     install a pipeline into a project
  collection  create a collection
  run         run import/process/package over the pipeline x collection matrix
  package     package a validated dataset
  distribute  upload a validated dataset to an S3 target
`

// defaultRegistry returns the registry with the built-in pipeline
// implementations. Third-party implementations register here before main
// dispatch in downstream builds.
func defaultRegistry() *pipeline.Registry {
	reg := pipeline.NewRegistry()
	reg.MustRegister(pipeline.PassthroughKey, pipeline.NewPassthrough)
	return reg
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, cancel := context.WithCancel(context.Background())

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer func() {
		signal.Stop(sigChan)
		cancel()
	}()
	go func() {
		sig := <-sigChan
		slog.Info("interrupt received, shutting down", "signal", sig)
		cancel()
	}()

	reg := defaultRegistry()

	var err error
	switch os.Args[1] {
	case "new":
		err = cmdNew(os.Args[2:])
	case "install":
		err = cmdInstall(os.Args[2:], reg)
	case "collection":
		err = cmdCollection(os.Args[2:], reg)
	case "run":
		err = cmdRun(ctx, os.Args[2:], reg)
	case "package":
		err = cmdPackage(ctx, os.Args[2:], reg)
	case "distribute":
		err = cmdDistribute(ctx, os.Args[2:], reg)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		slog.Error("command failed", "command", os.Args[1], "error", err)
		os.Exit(1)
	}
}
