package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blemote/pkg/radio"
	"github.com/srg/blemote/pkg/transport"
	"github.com/srg/blemote/pkg/transport/broadcast"
)

// broadcastCmd represents the broadcast command
var broadcastCmd = &cobra.Command{
	Use:   "broadcast <level>",
	Short: "Drive a broadcast-only accessory",
	Long: `Drives a connectionless accessory by advertising encoded command
frames as manufacturer data. No pairing or connection takes place; any
listening accessory in range reacts.

Level is 0..7; 0 stops the motor. The advertisement repeats until
Ctrl+C, and a stop frame is broadcast before exiting.

Example:
  blemote broadcast 4`,
	Args: cobra.ExactArgs(1),
	RunE: runBroadcast,
}

func runBroadcast(cmd *cobra.Command, args []string) error {
	level, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil || level > radio.MaxBroadcastLevel {
		return fmt.Errorf("invalid level %q: must be 0..%d", args[0], radio.MaxBroadcastLevel)
	}

	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	actor := broadcast.NewActor(logger)
	if err := actor.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer actor.Stop()

	if err := waitForAdapter(actor.Events(), 10*time.Second); err != nil {
		return err
	}

	if err := actor.SendIntensity(byte(level)); err != nil {
		return err
	}
	fmt.Printf("Broadcasting level %d, press Ctrl+C to stop\n", level)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	<-sigCh

	fmt.Println("\nStopping motor...")
	_ = actor.SendIntensity(0)
	// Let the stop frame go on air a few times before teardown.
	time.Sleep(500 * time.Millisecond)
	return nil
}

// waitForAdapter drains events until the adapter reports ready or fails.
func waitForAdapter(events <-chan transport.Event, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return fmt.Errorf("timed out waiting for the adapter")
		case ev, ok := <-events:
			if !ok {
				return transport.ErrStopped
			}
			switch ev.Kind {
			case transport.AdapterError:
				return fmt.Errorf("adapter error: %s", ev.Message)
			case transport.AdapterReady:
				return nil
			}
		}
	}
}
