package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/srg/blemote/pkg/transport"
	"github.com/srg/blemote/pkg/transport/gatt"
)

// scanCmd represents the scan command
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for compatible accessories",
	Long: `Scan for accessories advertising the control service and display
their names and addresses.

Only devices carrying the accessory control service are listed;
unrelated BLE traffic is filtered out.`,
	RunE: runScan,
}

var (
	scanDuration time.Duration
	scanFormat   string
)

func init() {
	scanCmd.Flags().DurationVarP(&scanDuration, "duration", "d", 10*time.Second, "Scan duration (0 for indefinite)")
	scanCmd.Flags().StringVarP(&scanFormat, "format", "f", "table", "Output format (table, json)")
}

func runScan(cmd *cobra.Command, args []string) error {
	if scanFormat != "table" && scanFormat != "json" {
		return fmt.Errorf("invalid format '%s': must be one of [table json]", scanFormat)
	}

	logger, err := configureLogger(cmd, "")
	if err != nil {
		return err
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	actor := gatt.NewActor(gatt.DefaultOptions(), logger)
	if err := actor.Start(); err != nil {
		return fmt.Errorf("failed to start scan: %w", err)
	}
	defer actor.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var deadline <-chan time.Time
	if scanDuration > 0 {
		timer := time.NewTimer(scanDuration)
		defer timer.Stop()
		deadline = timer.C
	}

	progress := NewProgressPrinter("Scanning for accessories", "Starting adapter")
	progress.Start()

	// Advertisements repeat several times a second; the concurrent map
	// dedups by address while the event loop stays free to drain.
	found := hashmap.New[string, transport.Device]()

	events := actor.Events()
collect:
	for {
		select {
		case <-sigCh:
			fmt.Println("\nCtrl+C pressed, cancelling scan...")
			break collect
		case <-deadline:
			break collect
		case ev, ok := <-events:
			if !ok {
				break collect
			}
			switch ev.Kind {
			case transport.AdapterReady:
				progress.SetPhase("Scanning")
			case transport.AdapterError:
				progress.Stop()
				return fmt.Errorf("adapter error: %s", ev.Message)
			case transport.DeviceDiscovered:
				found.Set(ev.Device.Address, ev.Device)
			}
		}
	}

	progress.Stop()
	return displayAccessories(found, scanFormat)
}

func displayAccessories(found *hashmap.Map[string, transport.Device], format string) error {
	devices := make([]transport.Device, 0, found.Len())
	found.Range(func(_ string, d transport.Device) bool {
		devices = append(devices, d)
		return true
	})

	if len(devices) == 0 {
		fmt.Println("No accessories discovered")
		return nil
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].Address < devices[j].Address
	})

	if format == "json" {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(devices); err != nil {
			return err
		}
	} else {
		if err := displayAccessoryTable(os.Stdout, devices); err != nil {
			return err
		}
	}

	fmt.Println(color.GreenString("%d accessory(ies) found", len(devices)))
	return nil
}

func displayAccessoryTable(out io.Writer, devices []transport.Device) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tADDRESS")
	fmt.Fprintln(w, strings.Repeat("-", 40))
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(w, "%s\t%s\n", name, d.Address)
	}
	return w.Flush()
}
