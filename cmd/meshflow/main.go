// meshflow subscribes to Meshtastic MQTT envelope topics and republishes each
// envelope as JSON under the matching /json/ topic.
//
// Usage:
//
//	meshflow -t 'msh/US/2/e/#' [flags]
//	meshflow decode [--pretty] [--port N] < envelope.bin
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	runtimepkg "github.com/drblury/meshflow/internal/runtime"
	configpkg "github.com/drblury/meshflow/internal/runtime/config"
	errspkg "github.com/drblury/meshflow/internal/runtime/errors"
	loggingpkg "github.com/drblury/meshflow/internal/runtime/logging"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr, os.Getenv))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer, getenv func(string) string) int {
	if len(args) > 0 && args[0] == "decode" {
		return runDecode(args[1:], stdin, stdout, stderr)
	}

	conf, err := parseFlags(args, getenv, stderr)
	if err != nil {
		if errors.Is(err, errHelp) {
			return exitOK
		}
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	logger, err := loggingpkg.NewLogger(stderr, conf.LogFormat, conf.Verbose)
	if err != nil {
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			cancel(&errspkg.ShutdownError{Signal: sig})
		case <-ctx.Done():
		}
	}()

	return serve(ctx, conf, logger, runtimepkg.ServiceDependencies{})
}

// serve runs the bridge until ctx ends and maps the outcome to an exit code.
func serve(ctx context.Context, conf *configpkg.Config, logger loggingpkg.ServiceLogger, deps runtimepkg.ServiceDependencies) int {
	svc, err := runtimepkg.TryNewService(ctx, conf, logger, deps)
	if err != nil {
		if operatorStopped(ctx) {
			logger.Info("Interrupted before the bridge started", loggingpkg.LogFields{"cause": fmt.Sprint(context.Cause(ctx))})
			return exitOK
		}
		var invalid errspkg.ConfigValidationError
		if errors.As(err, &invalid) {
			logger.Error("Invalid configuration", err, nil)
			return exitUsage
		}
		logger.Error("Failed to start bridge", err, nil)
		return exitFailure
	}

	if err := svc.Start(ctx); err != nil {
		logger.Error("Bridge stopped with error", err, nil)
		return exitFailure
	}
	return exitOK
}

func operatorStopped(ctx context.Context) bool {
	if ctx.Err() == nil {
		return false
	}
	cause := context.Cause(ctx)
	return errors.Is(cause, errspkg.ErrShutdownRequested) || errors.Is(cause, context.Canceled)
}
