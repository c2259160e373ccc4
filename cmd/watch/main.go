// Command watch is a terminal observer: it connects to a drivesentry
// server's event surface and prints live scan progress for the named
// drives, reconnecting automatically if the connection drops.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/drivesentry/drivesentry/internal/observer"
	"github.com/drivesentry/drivesentry/internal/types"
)

func main() {
	addr := flag.String("addr", "localhost:8000", "server host:port")
	maxAttempts := flag.Int("max-attempts", 10, "reconnect attempts before giving up")
	flag.Parse()

	drives := flag.Args()
	if len(drives) == 0 {
		fmt.Fprintln(os.Stderr, "usage: watch [-addr host:port] drive [drive...]")
		os.Exit(2)
	}

	policy := observer.DefaultReconnectPolicy()
	policy.MaxAttempts = *maxAttempts

	client := observer.NewClient(fmt.Sprintf("ws://%s/ws", *addr), policy)
	for _, d := range drives {
		client.Watch(d)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		for state := range client.States() {
			log.Printf("connection: %s", state)
		}
	}()

	done := make(chan error, 1)
	go func() { done <- client.Run(ctx) }()

	for {
		select {
		case ev, ok := <-client.Events():
			if !ok {
				continue
			}
			printEvent(ev)
		case err := <-done:
			switch {
			case errors.Is(err, observer.ErrReconnectsExhausted):
				log.Fatalf("gave up reconnecting to %s", *addr)
			case err != nil && !errors.Is(err, context.Canceled):
				log.Fatalf("connection error: %v", err)
			}
			return
		}
	}
}

func printEvent(ev types.Event) {
	switch e := ev.(type) {
	case types.ProgressEvent:
		fmt.Printf("%s  %s  %3d%%  bad=%d\n",
			time.Now().Format("15:04:05"), e.Drive, e.Progress, e.BadSectors)
	case types.CompletionEvent:
		line := fmt.Sprintf("%s  %s  complete: %s, %d bad sectors",
			time.Now().Format("15:04:05"), e.Drive, e.Outcome, e.BadSectors)
		if e.Error != "" {
			line += " (" + e.Error + ")"
		}
		fmt.Println(line)
	}
}
