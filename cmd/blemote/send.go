package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/srg/blemote/pkg/transport"
	"github.com/srg/blemote/pkg/transport/gatt"
)

// sendCmd represents the send command
var sendCmd = &cobra.Command{
	Use:   "send <address> <level>",
	Short: "Connect to an accessory and set its intensity",
	Long: `Connects to an accessory over GATT and sets its motor intensity.

Level is 0..20; 0 stops the motor. With --hold the connection is kept
open until Ctrl+C, and the motor is stopped before disconnecting.

Examples:
  # One-shot: set level 10 and disconnect
  blemote send AA:BB:CC:DD:EE:FF 10

  # Hold at level 5 until interrupted
  blemote send AA:BB:CC:DD:EE:FF 5 --hold`,
	Args: cobra.ExactArgs(2),
	RunE: runSend,
}

var (
	sendHold    bool
	sendTimeout time.Duration
)

func init() {
	sendCmd.Flags().BoolVar(&sendHold, "hold", false, "Keep the connection open until Ctrl+C, then stop the motor")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 30*time.Second, "Time to wait for discovery and connection")
}

func runSend(cmd *cobra.Command, args []string) error {
	address := args[0]
	level, err := strconv.ParseUint(args[1], 10, 8)
	if err != nil || level > gatt.MaxIntensity {
		return fmt.Errorf("invalid level %q: must be 0..%d", args[1], gatt.MaxIntensity)
	}

	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	actor := gatt.NewActor(gatt.DefaultOptions(), logger)
	if err := actor.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer actor.Stop()

	if err := actor.Connect(address); err != nil {
		return err
	}

	progress := NewProgressPrinter(fmt.Sprintf("Setting %s to level %d", address, level), "Connecting")
	progress.Start()

	if err := waitForConnection(actor.Events(), address, sendTimeout); err != nil {
		progress.Stop()
		return err
	}

	if err := actor.SendIntensity(byte(level)); err != nil {
		progress.Stop()
		return err
	}
	progress.Stop()
	fmt.Printf("Intensity set to %d\n", level)

	if sendHold {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sigCh)
		<-sigCh

		fmt.Println("\nStopping motor...")
		_ = actor.SendIntensity(0)
	}

	// Give the final write a moment on the wire before teardown.
	time.Sleep(200 * time.Millisecond)
	return nil
}

// waitForConnection drains events until the accessory reports connected,
// the link fails, or the timeout expires.
func waitForConnection(events <-chan transport.Event, address string, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return fmt.Errorf("timed out connecting to %s: %w", address, ErrNoAccessoryFound)
		case ev, ok := <-events:
			if !ok {
				return transport.ErrStopped
			}
			switch ev.Kind {
			case transport.AdapterError:
				return fmt.Errorf("adapter error: %s", ev.Message)
			case transport.DeviceConnected:
				if ev.Address == address {
					return nil
				}
			}
		}
	}
}
