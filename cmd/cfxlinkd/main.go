// Command cfxlinkd is the host-side daemon that speaks the calculator
// serial link protocol, keeping whatever it receives in an in-memory
// store a separate inspector client can read.
package main

/*------------------------------------------------------------------
 *
 * Purpose:	Parse flags, load the config file, build the transport,
 *		and run the session until a signal requests shutdown.
 *		Flag/config precedence mirrors cmd/direwolf/main.go: a
 *		config file supplies defaults, explicit flags win.
 *
 *---------------------------------------------------------------*/

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/pflag"

	"github.com/casiolink/cfxlink/internal/cfxlink"
	"github.com/casiolink/cfxlink/internal/cfxlink/cfxlog"
	"github.com/casiolink/cfxlink/internal/cfxlink/config"
	"github.com/casiolink/cfxlink/internal/cfxlink/devwatch"
	"github.com/casiolink/cfxlink/internal/cfxlink/gpioflow"
	"github.com/casiolink/cfxlink/internal/cfxlink/inspector"
	"github.com/casiolink/cfxlink/internal/cfxlink/serial"
)

func main() {
	var configFile = pflag.String("config", "", "Path to a cfxlinkd YAML config file.")
	var port = pflag.String("port", "", "Serial device path, e.g. /dev/ttyUSB0.")
	var baud = pflag.Int("baud", 0, "Baud value stored in the config; the serial port always opens at 9600.")
	var logLevel = pflag.String("log-level", "", "Log level: debug, info, warn, error.")
	var logFile = pflag.String("log-file", "", "Directory for packet trace files.")
	var gpioDTR = pflag.Int("gpio-dtr", 0, "GPIO line offset for DTR (enables GPIO flow control).")
	var gpioRTS = pflag.Int("gpio-rts", 0, "GPIO line offset for RTS (enables GPIO flow control).")
	var udevWatch = pflag.Bool("udev-watch", false, "Watch udev for the serial device appearing/disappearing.")
	var inspectAddr = pflag.String("inspect-addr", "", "Address to serve the read-only store inspector on, e.g. :7425.")
	var help = pflag.Bool("help", false, "Display help text.")

	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s - host-side endpoint for the calculator serial link protocol.\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nUsage: %s [OPTIONS]\n\n", os.Args[0])
		pflag.PrintDefaults()
	}

	pflag.Parse()

	if *help {
		pflag.Usage()
		os.Exit(0)
	}

	var fileCfg, err = config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "cfxlinkd: %s\n", err)
		os.Exit(1)
	}

	var overrides = config.Config{
		SerialDevice: *port,
		Baud:         *baud,
		LogLevel:     *logLevel,
		TraceDir:     *logFile,
		GPIODTRLine:  *gpioDTR,
		GPIORTSLine:  *gpioRTS,
		UseGPIOFlow:  *gpioDTR != 0 || *gpioRTS != 0,
		UdevWatch:    *udevWatch,
		InspectAddr:  *inspectAddr,
	}
	var cfg = fileCfg.ApplyFlags(overrides)

	var logger = cfxlog.New(parseLevel(cfg.LogLevel))

	var transport cfxlink.Transport
	if cfg.UseGPIOFlow {
		transport, err = openGPIOFlowTransport(cfg, logger)
	} else {
		transport, err = serial.Open(cfg.SerialDevice)
	}
	if err != nil {
		logger.Fatal("open transport", "err", err)
	}

	var store = cfxlink.NewStore()
	var machine = cfxlink.NewMachine(store)
	var session = cfxlink.NewSession(transport, machine, cfg.QueueDepth)

	if cfg.TraceDir != "" {
		var trace, traceErr = cfxlog.NewPacketTrace(cfg.TraceDir, cfg.TracePattern)
		if traceErr != nil {
			logger.Fatal("open packet trace", "err", traceErr)
		}
		defer trace.Close()
		session.SetTrace(trace)
	}

	var ctx, cancel = context.WithCancel(context.Background())
	defer cancel()

	if cfg.InspectAddr != "" {
		startInspector(ctx, cfg, store, logger)
	}

	if cfg.UdevWatch {
		startDevwatch(ctx, logger)
	}

	go logErrors(session, logger)

	go func() {
		session.Run(ctx)
	}()

	waitForShutdown(session, logger)
}

func openGPIOFlowTransport(cfg config.Config, logger *cfxlog.Logger) (*serial.Transport, error) {
	var lines, err = gpioflow.Request(cfg.GPIOChip, cfg.GPIODTRLine, cfg.GPIORTSLine)
	if err != nil {
		return nil, fmt.Errorf("cfxlinkd: request gpio flow control lines: %w", err)
	}
	if err := lines.SetDTR(true); err != nil {
		return nil, fmt.Errorf("cfxlinkd: assert DTR: %w", err)
	}
	if err := lines.SetRTS(false); err != nil {
		return nil, fmt.Errorf("cfxlinkd: deassert RTS: %w", err)
	}
	logger.Info("GPIO flow control lines asserted", "chip", cfg.GPIOChip, "dtr", cfg.GPIODTRLine, "rts", cfg.GPIORTSLine)
	return serial.Open(cfg.SerialDevice)
}

func startInspector(ctx context.Context, cfg config.Config, store *cfxlink.Store, logger *cfxlog.Logger) {
	var srv, err = inspector.Listen(cfg.InspectAddr, store)
	if err != nil {
		logger.Error("inspector listen failed", "err", err)
		return
	}

	go func() {
		if serveErr := srv.Serve(ctx); serveErr != nil {
			logger.Error("inspector serve", "err", serveErr)
		}
	}()

	go func() {
		var announceErr = inspector.Announce(ctx, "cfxlinkd", addrPort(srv))
		if announceErr != nil && ctx.Err() == nil {
			logger.Warn("inspector mDNS announce failed", "err", announceErr)
		}
	}()

	logger.Info("inspector listening", "addr", srv.Addr().String())
}

func addrPort(srv *inspector.Server) int {
	if tcpAddr, ok := srv.Addr().(*net.TCPAddr); ok {
		return tcpAddr.Port
	}
	return 0
}

func startDevwatch(ctx context.Context, logger *cfxlog.Logger) {
	var watcher, err = devwatch.NewWatcher()
	if err != nil {
		logger.Error("devwatch init failed", "err", err)
		return
	}

	var events, watchErr = watcher.Watch(ctx)
	if watchErr != nil {
		logger.Error("devwatch start failed", "err", watchErr)
		return
	}

	go func() {
		for ev := range events {
			logger.Info("device event", "action", ev.Action, "devnode", ev.DevNode)
		}
	}()
}

func logErrors(session *cfxlink.Session, logger *cfxlog.Logger) {
	for err := range session.Errs() {
		var guard *cfxlink.GuardViolationError
		if errors.As(err, &guard) {
			logger.Debug("guard violation", "err", err)
			continue
		}
		logger.Warn("session error", "err", err)
	}
}

func waitForShutdown(session *cfxlink.Session, logger *cfxlog.Logger) {
	var sigCh = make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown requested, draining")
		session.Stop()
	case <-session.Done():
		return
	}

	select {
	case <-session.Done():
		return
	case <-time.After(5 * time.Second):
		logger.Warn("graceful stop timed out, hard stopping")
		session.HardStop()
		<-session.Done()
	case <-sigCh:
		logger.Warn("second signal received, hard stopping")
		session.HardStop()
		<-session.Done()
	}
}

func parseLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
