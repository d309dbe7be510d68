// Command force-push-cli replays a recorded trace of poses and force samples
// through the pushing pipeline and writes one velocity command per tick.
//
//	force-push-cli pusher.json [trace.jsonl]
//
// The config is the pusher service's attributes. The trace is read from
// stdin when no file is given.
package main

import (
	"fmt"
	"io"
	"os"

	"go.viam.com/rdk/logging"

	forcePush "force_push"
)

func main() {
	if err := realMain(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func realMain(args []string, stdin io.Reader, stdout io.Writer) error {
	logger := logging.NewLogger("force-push-cli")

	if len(args) < 1 || len(args) > 2 {
		return fmt.Errorf("usage: force-push-cli <config.json> [trace.jsonl]")
	}

	cfg, err := loadConfig(args[0])
	if err != nil {
		return err
	}
	pipeline, err := forcePush.NewPipeline(cfg, logger)
	if err != nil {
		return err
	}

	trace := stdin
	if len(args) == 2 {
		f, err := os.Open(args[1])
		if err != nil {
			return fmt.Errorf("failed to open trace: %w", err)
		}
		defer f.Close()
		trace = f
	}

	stats, err := replay(pipeline, trace, stdout, logger)
	if err != nil {
		return err
	}
	logger.Infof("replayed %d ticks, %d failed, final state %s", stats.ticks, stats.failed, stats.state)
	return nil
}
