package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blemote/pkg/remote"
	"github.com/srg/blemote/pkg/transport/gatt"
)

// relayCmd groups the remote pairing commands
var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Drive an accessory on another machine",
	Long: `Pairs with a machine running 'blemote serve' in remote-receiver
mode and streams intensity to it over TCP.

The receiver prints its address and a one-time pairing code on startup;
both are needed here.`,
}

// relaySendCmd represents the relay send command
var relaySendCmd = &cobra.Command{
	Use:   "send <host:port> <code>",
	Short: "Stream intensity levels to a paired receiver",
	Long: `Connects to a remote receiver and streams intensity levels read
from stdin, one per line, 0..20. EOF or Ctrl+C stops the motor and
disconnects.

Example:
  blemote relay send 203.0.113.7:9210 7f1d9c2e-93ab-4f21-b1c4-0a8e52c1d9f3`,
	Args: cobra.ExactArgs(2),
	RunE: runRelaySend,
}

func init() {
	relayCmd.AddCommand(relaySendCmd)
}

func runRelaySend(cmd *cobra.Command, args []string) error {
	addr, code := args[0], args[1]

	if _, err := configureLogger(cmd, ""); err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	sender := remote.NewSender()
	defer sender.Close()
	if err := sender.Connect(addr, code); err != nil {
		return err
	}
	fmt.Println(color.GreenString("Connected to %s", addr))
	fmt.Printf("Enter levels 0..%d, one per line:\n", gatt.MaxIntensity)

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		v, err := strconv.ParseUint(scanner.Text(), 10, 8)
		if err != nil || v > gatt.MaxIntensity {
			fmt.Printf("invalid level, expected 0..%d\n", gatt.MaxIntensity)
			continue
		}
		// The wire carries a 0..1 fraction; the receiver rescales to
		// its own transport.
		if err := sender.SendSpeed(float32(v) / float32(gatt.MaxIntensity)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Println("Stopping motor...")
	return sender.SendSpeed(0)
}
