package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/srg/blemote/pkg/config"
	"github.com/srg/blemote/pkg/intensity"
	"github.com/srg/blemote/pkg/osc"
	"github.com/srg/blemote/pkg/remote"
	"github.com/srg/blemote/pkg/transport"
	"github.com/srg/blemote/pkg/transport/broadcast"
	"github.com/srg/blemote/pkg/transport/gatt"
)

// tickInterval is the control loop rate. Matches typical OSC emitters
// well enough that at most one stale value is dropped per tick.
const tickInterval = 33 * time.Millisecond

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control loop",
	Long: `Runs the intensity control loop: an input source feeds intensity
values which are smoothed, scaled and delivered to the accessory.

The input source is picked by the configured mode:
  manual           read levels from stdin, one per line
  osc              smooth incoming OSC parameter values
  remote-receiver  accept a speed stream from a paired sender

Settings are read from the YAML file next to the executable unless
--config points elsewhere. Flags override the file.

Examples:
  # Broadcast transport driven by OSC
  blemote serve --mode osc

  # Drive a connected accessory, reading levels from stdin
  blemote serve --transport gatt --device AA:BB:CC:DD:EE:FF`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var (
	serveConfigPath  string
	serveMode        string
	serveTransport   string
	serveDevice      string
	serveRelayListen string
)

func init() {
	serveCmd.Flags().StringVar(&serveConfigPath, "config", "", "Settings file path (default: blemote.yaml next to the executable)")
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Input mode (manual, osc, remote-receiver); overrides the settings file")
	serveCmd.Flags().StringVar(&serveTransport, "transport", "broadcast", "Accessory transport (broadcast, gatt)")
	serveCmd.Flags().StringVar(&serveDevice, "device", "", "GATT accessory address; overrides the remembered one")
	serveCmd.Flags().StringVar(&serveRelayListen, "relay-listen", "", "Relay listen address for remote-receiver mode; overrides the settings file")
}

func runServe(cmd *cobra.Command, args []string) error {
	path := serveConfigPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return err
		}
	}

	settings, err := config.Load(path)
	if err != nil {
		return err
	}
	if serveMode != "" {
		settings.Mode = config.Mode(serveMode)
	}
	if serveRelayListen != "" {
		settings.RelayListen = serveRelayListen
	}
	if settings.Mode == config.ModeRemoteSender {
		return fmt.Errorf("remote-sender mode is driven by 'blemote relay send', not serve")
	}
	if err := settings.Validate(); err != nil {
		return err
	}

	logger, err := serveLogger(cmd, settings)
	if err != nil {
		return err
	}

	if serveTransport != "broadcast" && serveTransport != "gatt" {
		return fmt.Errorf("invalid transport '%s': must be one of [broadcast gatt]", serveTransport)
	}

	// All arguments validated - don't show usage on runtime errors
	cmd.SilenceUsage = true

	loop := &controlLoop{
		settings:     settings,
		settingsPath: path,
		log:          logger.WithField("component", "serve"),
		out:          cmd.OutOrStdout(),
		mapper: intensity.Mapper{
			RangeStart: settings.OSCRangeStart,
			RangeEnd:   settings.OSCRangeEnd,
			MaxPercent: settings.MaxIntensityPercent,
		},
		filter: intensity.NewFilter(intensity.DefaultAlpha),
	}

	if serveTransport == "gatt" {
		loop.tr = gatt.NewActor(gatt.DefaultOptions(), logger)
		loop.mapper.Scale = intensity.GATTScale
		loop.device = serveDevice
		if loop.device == "" {
			loop.device = settings.LastDeviceAddress
		}
		if loop.device == "" {
			return fmt.Errorf("gatt transport needs --device or a remembered accessory (run 'blemote scan')")
		}
	} else {
		loop.tr = broadcast.NewActor(logger)
		loop.mapper.Scale = intensity.BroadcastScale
	}

	return loop.run(cmd.Context())
}

// serveLogger prefers the --log-level flag, falling back to the settings
// file so the loop can run verbose without flags.
func serveLogger(cmd *cobra.Command, settings *config.Settings) (*logrus.Logger, error) {
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		return configureLogger(cmd, "")
	}
	return settings.NewLogger()
}

// controlLoop owns every actor of a serve run and polls them from a
// single goroutine, the same way a UI frame loop would.
type controlLoop struct {
	settings     *config.Settings
	settingsPath string
	log          *logrus.Entry
	out          io.Writer

	tr     transport.Transport
	device string
	mapper intensity.Mapper
	filter *intensity.Filter

	oscServer *osc.Server
	oscValue  float64
	lastTick  time.Time

	receiver *remote.Receiver
}

func (l *controlLoop) run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := l.tr.Start(); err != nil {
		return fmt.Errorf("failed to start transport: %w", err)
	}
	defer l.tr.Stop()

	if l.device != "" {
		if err := l.tr.Connect(l.device); err != nil {
			return err
		}
	}

	manualLevels, err := l.startInput(ctx)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	fmt.Printf("Control loop running in %s mode, press Ctrl+C to stop\n", l.settings.Mode)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	l.lastTick = time.Now()

	for {
		select {
		case <-sigCh:
			fmt.Println("\nStopping motor...")
			_ = l.tr.SendIntensity(0)
			time.Sleep(200 * time.Millisecond)
			return nil

		case <-ctx.Done():
			_ = l.tr.SendIntensity(0)
			return ctx.Err()

		case level, ok := <-manualLevels:
			if !ok {
				manualLevels = nil
				continue
			}
			if err := l.tr.SendIntensity(level); err != nil {
				l.log.WithError(err).Warn("Failed to send intensity")
			}

		case <-ticker.C:
			l.handleTransportEvents()
			l.handleOSC()
			l.handleReceiver()
		}
	}
}

// startInput wires the configured input source and returns the manual
// level channel (nil in other modes).
func (l *controlLoop) startInput(ctx context.Context) (<-chan byte, error) {
	switch l.settings.Mode {
	case config.ModeManual:
		return l.readManualLevels(ctx), nil

	case config.ModeOSC:
		server, err := osc.NewServer(l.settings.OSCPort, l.settings.OSCPath, l.log.Logger)
		if err != nil {
			return nil, err
		}
		if err := server.Start(ctx); err != nil {
			return nil, err
		}
		l.oscServer = server
		return nil, nil

	case config.ModeRemoteReceiver:
		receiver := remote.NewReceiver(l.settings.RelayListen, l.log.Logger)
		if err := receiver.Start(ctx); err != nil {
			return nil, err
		}
		l.receiver = receiver
		fmt.Printf("Pairing code: %s\n", color.CyanString(receiver.PairingCode()))
		fmt.Printf("Listening for a sender on %s\n", receiver.Addr())
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown mode %q", l.settings.Mode)
	}
}

// readManualLevels turns stdin lines into levels. EOF closes the channel
// and the loop keeps running with the last level.
func (l *controlLoop) readManualLevels(ctx context.Context) <-chan byte {
	levels := make(chan byte)
	go func() {
		defer close(levels)
		fmt.Printf("Enter levels 0..%d, one per line:\n", l.mapper.Scale)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			v, err := strconv.ParseUint(scanner.Text(), 10, 8)
			if err != nil || int(v) > l.mapper.Scale {
				fmt.Printf("invalid level, expected 0..%d\n", l.mapper.Scale)
				continue
			}
			level := l.mapper.FractionLevel(float64(v) / float64(l.mapper.Scale))
			select {
			case levels <- level:
			case <-ctx.Done():
				return
			}
		}
	}()
	return levels
}

// handleTransportEvents drains transport events without blocking.
func (l *controlLoop) handleTransportEvents() {
	for {
		ev, ok := l.tr.Poll()
		if !ok {
			return
		}
		switch ev.Kind {
		case transport.AdapterError:
			l.log.WithField("message", ev.Message).Error("Adapter error")
		case transport.DeviceConnected:
			fmt.Fprintln(l.out, color.GreenString("Connected to %s", ev.Address))
			l.rememberDevice(ev.Address)
			// Start from a known state.
			_ = l.tr.SendIntensity(0)
			l.filter.Reset()
		case transport.DeviceDisconnected:
			fmt.Fprintln(l.out, color.RedString("Accessory disconnected, retrying..."))
			_ = l.tr.Connect(l.device)
		default:
			l.log.WithFields(logrus.Fields{
				"event":   ev.Kind.String(),
				"address": ev.Address,
			}).Debug("Transport event")
		}
	}
}

// handleOSC consumes pending OSC values and feeds the freshest one
// through the smoothing filter, exactly once per tick so the filter sees
// a steady sample rate.
func (l *controlLoop) handleOSC() {
	if l.oscServer == nil {
		return
	}

	for {
		select {
		case v, ok := <-l.oscServer.Values():
			if !ok {
				return
			}
			l.oscValue = v.Value
			continue
		default:
		}
		break
	}

	now := time.Now()
	dt := now.Sub(l.lastTick).Seconds()
	l.lastTick = now

	scaled := l.mapper.Normalize(l.oscValue)
	speed := l.filter.Update(scaled, dt)
	if err := l.tr.SendIntensity(l.mapper.Level(speed)); err != nil {
		l.log.WithError(err).Warn("Failed to send intensity")
	}
}

// handleReceiver consumes remote speed events and applies them directly,
// no smoothing: the sender already decided the value.
func (l *controlLoop) handleReceiver() {
	if l.receiver == nil {
		return
	}

	for {
		select {
		case ev, ok := <-l.receiver.Events():
			if !ok {
				return
			}
			switch ev.Kind {
			case remote.EventConnection:
				fmt.Fprintln(l.out, color.GreenString("Sender paired"))
			case remote.EventSpeed:
				if err := l.tr.SendIntensity(l.mapper.FractionLevel(float64(ev.Speed))); err != nil {
					l.log.WithError(err).Warn("Failed to send intensity")
				}
			case remote.EventError:
				l.log.WithField("message", ev.Message).Error("Receiver error")
			}
		default:
			return
		}
	}
}

// rememberDevice persists the accessory address so the next run can skip
// --device.
func (l *controlLoop) rememberDevice(address string) {
	if address == "" || l.settings.LastDeviceAddress == address {
		return
	}
	l.settings.LastDeviceAddress = address
	if err := l.settings.Save(l.settingsPath); err != nil {
		l.log.WithError(err).Warn("Failed to save settings")
	}
}
