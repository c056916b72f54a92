package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/Gurux/gxcommon-go"
	"github.com/Gurux/gxserialdemux-go"
	"github.com/phsym/console-slog"
	"github.com/spf13/pflag"
	"golang.org/x/text/language"
)

type options struct {
	settings gxserialdemux.Settings
	trace    string
	lang     string
	verbose  bool
	list     bool
	help     bool
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newFlagSet(o *options) (*pflag.FlagSet, *string) {
	var configPath string
	flagSet := pflag.NewFlagSet("gxserialdemux", pflag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagSet.StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	flagSet.IntVarP(&o.settings.DataBits, "data-bits", "d", gxserialdemux.DefaultDataBits, "data bits (5, 6, 7, 8)")
	flagSet.StringP("parity", "p", "None", "parity (None, Odd, Even, Mark, Space)")
	flagSet.IntP("stop-bits", "s", 1, "stop bits (1, 2)")
	flagSet.DurationVarP(&o.settings.ReadTimeout, "read-timeout", "t", gxserialdemux.DefaultReadTimeout, "read timeout of both relays")
	flagSet.StringVar(&o.trace, "trace", "", "trace level")
	flagSet.StringVar(&o.lang, "lang", "", "language of the log messages")
	flagSet.BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")
	flagSet.BoolVarP(&o.list, "list", "l", false, "list available serial ports and exit")
	flagSet.BoolVarP(&o.help, "help", "h", false, "show help")
	return flagSet, &configPath
}

// parseOptions builds the settings from the configuration file, the flags
// and the positional <device> <baud rate> arguments, in increasing order
// of precedence.
func parseOptions(args []string) (*options, error) {
	o := &options{settings: gxserialdemux.DefaultSettings()}
	flagSet, configPath := newFlagSet(o)
	if err := flagSet.Parse(args); err != nil {
		return nil, err
	}
	if o.help || o.list {
		return o, nil
	}

	s := gxserialdemux.DefaultSettings()
	if *configPath != "" {
		f, err := gxserialdemux.LoadFile(*configPath)
		if err != nil {
			return nil, err
		}
		if err := f.Apply(&s); err != nil {
			return nil, fmt.Errorf("config %s: %w", *configPath, err)
		}
		if !flagSet.Changed("trace") {
			o.trace = f.Trace
		}
		if !flagSet.Changed("lang") {
			o.lang = f.Language
		}
	}
	if flagSet.Changed("data-bits") {
		s.DataBits = o.settings.DataBits
	}
	if flagSet.Changed("read-timeout") {
		s.ReadTimeout = o.settings.ReadTimeout
	}
	if flagSet.Changed("parity") {
		value, _ := flagSet.GetString("parity")
		p, err := gxcommon.ParityParse(value)
		if err != nil {
			return nil, fmt.Errorf("invalid parity %q: %w", value, err)
		}
		s.Parity = p
	}
	if flagSet.Changed("stop-bits") {
		value, _ := flagSet.GetInt("stop-bits")
		sb, err := gxserialdemux.StopBitsFromInt(value)
		if err != nil {
			return nil, err
		}
		s.StopBits = sb
	}

	positional := flagSet.Args()
	if len(positional) > 2 {
		return nil, fmt.Errorf("unexpected arguments: %s", strings.Join(positional[2:], " "))
	}
	if len(positional) > 0 {
		s.Port = positional[0]
	}
	if len(positional) > 1 {
		br, err := gxserialdemux.ParseBaudRate(positional[1])
		if err != nil {
			return nil, err
		}
		s.BaudRate = br
	}
	if s.Port == "" || s.BaudRate == 0 {
		return nil, errors.New("usage: gxserialdemux [flags] <device> <baud rate>")
	}
	o.settings = s
	return o, nil
}

func printUsage(w io.Writer) {
	var o options
	flagSet, _ := newFlagSet(&o)
	fmt.Fprintf(w, `gxserialdemux - share a serial line between GDB and the target console

USAGE
    gxserialdemux [flags] <device> <baud rate>

FLAGS
%s
EXAMPLES
    gxserialdemux /dev/ttyUSB0 115200
    gxserialdemux --config demux.yaml --trace Verbose
`, flagSet.FlagUsages())
}

// newLogger writes log lines to w, next to the target output. With
// ENV=development records are colored for the console.
func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if os.Getenv("ENV") == "development" {
		return slog.New(console.NewHandler(w, &console.HandlerOptions{
			AddSource: true,
			Level:     level,
		}))
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				a.Key = "ts"
			}
			return a
		},
	}))
}

func run(args []string, stdout io.Writer) error {
	o, err := parseOptions(args)
	if err != nil {
		return err
	}
	if o.help {
		printUsage(stdout)
		return nil
	}
	if o.list {
		ports, err := gxserialdemux.GetPortNames()
		if err != nil {
			return err
		}
		for _, p := range ports {
			fmt.Fprintln(stdout, p)
		}
		return nil
	}

	logger := newLogger(stdout, o.verbose)
	media := gxserialdemux.NewGXSerialDemux(o.settings)
	media.SetOutput(stdout)
	if o.lang != "" {
		tag, err := language.Parse(o.lang)
		if err != nil {
			return fmt.Errorf("invalid language %q: %w", o.lang, err)
		}
		media.Localize(tag)
	}
	if o.trace != "" {
		tl, err := gxcommon.TraceLevelParse(o.trace)
		if err != nil {
			return fmt.Errorf("invalid trace level %q: %w", o.trace, err)
		}
		if err := media.SetTrace(tl); err != nil {
			return err
		}
	}

	media.SetOnError(func(m *gxserialdemux.GXSerialDemux, err error) {
		var relayErr *gxserialdemux.RelayError
		if errors.As(err, &relayErr) {
			logger.Error("relay failed", "direction", relayErr.Direction.String(), "error", relayErr.Err)
			return
		}
		logger.Error("serial demux failed", "error", err)
	})
	media.SetOnTrace(func(m *gxserialdemux.GXSerialDemux, e gxcommon.TraceEventArgs) {
		logger.Debug("trace", "event", e.String())
	})
	media.SetOnMediaStateChange(func(m *gxserialdemux.GXSerialDemux, e gxcommon.MediaStateEventArgs) {
		logger.Debug("media state changed", "state", e.State().String())
	})

	if err := media.Open(); err != nil {
		if ports, perr := gxserialdemux.GetPortNames(); perr == nil && len(ports) != 0 {
			logger.Info("available serial ports", "ports", strings.Join(ports, ","))
		}
		return err
	}
	defer func() {
		if err := media.Close(); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()
	fmt.Fprintf(stdout, "Virtual serial port created. GDB should connect to the file %q\n", media.EndpointName())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		// A second signal kills the process if shutdown stalls.
		<-ctx.Done()
		stop()
	}()
	start := time.Now()
	if err := media.Run(ctx); err != nil {
		return err
	}
	m := media.Metrics()
	logger.Info("relay stopped",
		"uptime", time.Since(start).Round(time.Second),
		"bytes_from_device", m.BytesFromDevice.Load(),
		"bytes_forwarded", m.BytesForwarded.Load(),
		"bytes_displayed", m.BytesDisplayed.Load(),
		"bytes_to_device", m.BytesToDevice.Load(),
		"packets", m.PacketsForwarded.Load(),
		"read_errors", m.ReadErrors.Load(),
		"write_errors", m.WriteErrors.Load(),
	)
	return nil
}
