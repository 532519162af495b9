package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Ale866/malta-photogramme3d/internal/job"
	"github.com/Ale866/malta-photogramme3d/internal/tracker"
)

// jobwatch follows one job from the command line, preferring the websocket
// gateway and falling back to HTTP polling, until the job reaches a
// terminal state.
func main() {
	var (
		apiURL   = flag.String("api", "http://localhost:3000", "base URL of the HTTP API")
		wsURL    = flag.String("ws", "ws://localhost:3000/ws", "websocket gateway URL")
		token    = flag.String("token", "", "access token (JWT)")
		jobID    = flag.String("job", "", "job id to watch")
		interval = flag.Duration("interval", 2*time.Second, "polling interval")
	)
	flag.Parse()

	if *token == "" || *jobID == "" {
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan job.StatusDTO, 1)
	onChange := func(snap job.StatusDTO) {
		line := fmt.Sprintf("status=%s stage=%s progress=%d%%", snap.Status, snap.Stage, snap.Progress)
		if snap.Error != "" {
			line += " error=" + snap.Error
		}
		if snap.ModelID != "" {
			line += " model=" + snap.ModelID
		}
		fmt.Println(line)

		if snap.Status.Terminal() {
			select {
			case done <- snap:
			default:
			}
		}
	}

	t := tracker.New(
		tracker.NewHTTPFetcher(*apiURL, *token),
		&tracker.WSSubscriber{URL: *wsURL, Token: *token},
		*interval,
		onChange,
	)
	if err := t.Start(ctx, *jobID); err != nil {
		log.Fatalf("watch: %v", err)
	}
	defer t.Stop()

	select {
	case <-ctx.Done():
		fmt.Println("interrupted")
	case snap := <-done:
		if snap.Status == job.StatusFailed {
			os.Exit(1)
		}
	}
}
