// bodytrackd is the tracking extension process. The capture host
// spawns it and feeds commands on stdin, one per line:
//
//	:COMMAND:|arg1|arg2|...
//
// Results and errors are written to stdout; everything else goes to
// the log file. The process exits cleanly on stdin EOF or SIGINT.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/viper"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"github.com/kinetrack/extension/internal/channel"
	"github.com/kinetrack/extension/internal/config"
	"github.com/kinetrack/extension/internal/coordinator"
	"github.com/kinetrack/extension/internal/dispatcher"
	"github.com/kinetrack/extension/internal/handlers"
	"github.com/kinetrack/extension/internal/influx"
	"github.com/kinetrack/extension/internal/logging"
	"github.com/kinetrack/extension/internal/monitor"
	intOtel "github.com/kinetrack/extension/internal/otel"
	"github.com/kinetrack/extension/internal/sink"
	"github.com/kinetrack/extension/pkg/core"
)

// Version info, overridable at build time via ldflags.
var (
	ExtensionVersion string = "0.1.0"
	BuildDate        string = "unknown"

	ExtensionName string = "bodytrackd"
)

// defaultTickRate is recorded in session metadata; ticks themselves
// are host-driven.
const defaultTickRate = 30.0

var (
	SessionStartTime = time.Now()

	SlogManager *logging.SlogManager
	Logger      *slog.Logger

	OTelProvider *intOtel.Provider

	logFile *os.File
)

func main() {
	configDir := flag.String("config", ".", "directory containing "+config.ConfigFileName)
	flag.Parse()

	SlogManager = logging.NewSlogManager()
	Logger = SlogManager.Logger()

	if err := config.Load(*configDir); err != nil {
		Logger.Warn("Failed to load config, using defaults", "error", err)
	}

	sessionCtx := handlers.NewSessionContext()
	setupLogging(sessionCtx)
	Logger.Info("Starting up",
		"name", ExtensionName, "version", ExtensionVersion, "build", BuildDate)

	trackingCfg := config.GetTrackingConfig()
	if err := config.ValidateJointClaims(trackingCfg); err != nil {
		Logger.Error("Invalid joint configuration", "error", err)
		os.Exit(1)
	}

	records := channel.NewBuffered[core.OutputRecord](1024)
	steps := channel.NewBuffered[core.StepEvent](256)
	balances := channel.NewBuffered[core.BalanceEvent](256)

	coord := coordinator.New(trackingCfg, coordinator.Outputs{
		Records:       records,
		StepEvents:    steps,
		BalanceEvents: balances,
	}, Logger)

	backend, err := sink.NewBackend(config.GetStorageConfig())
	if err != nil {
		Logger.Error("Failed to create storage backend", "error", err)
		os.Exit(1)
	}
	if err := backend.Init(); err != nil {
		Logger.Error("Failed to initialize storage backend", "error", err)
		os.Exit(1)
	}

	influxManager := setupInflux()

	handlerService := handlers.NewService(handlers.Dependencies{
		Coordinator:      coord,
		LogManager:       SlogManager,
		ConfigDir:        *configDir,
		ExtensionName:    ExtensionName,
		ExtensionVersion: ExtensionVersion,
		TickRate:         defaultTickRate,
	}, sessionCtx)
	handlerService.SetBackend(backend)

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	eventDispatcher, err := dispatcher.New(logging.NewDispatcherLogger(zlog))
	if err != nil {
		Logger.Error("Failed to create dispatcher", "error", err)
		os.Exit(1)
	}
	registerHandlers(eventDispatcher, handlerService, backend)

	var monitorService *monitor.Service
	if viper.GetBool("monitor.enabled") {
		monitorService = monitor.NewService(monitor.Dependencies{
			LogManager: SlogManager,
			Tracker:    coord,
			Session:    sessionCtx.Get,
			StatusDir:  viper.GetString("monitor.statusDir"),
		})
		if err := monitorService.Start(); err != nil {
			Logger.Error("Failed to start status monitor", "error", err)
		}
	}

	var pumpWG sync.WaitGroup
	startPumps(&pumpWG, backend, influxManager, records, steps, balances)

	fmt.Println(":EXT:READY:")
	fmt.Println(":VERSION:|" + ExtensionVersion)

	runInputLoop(eventDispatcher)

	// Shutdown: stop producing, drain the pumps, then close the sinks.
	Logger.Info("Shutting down")
	if monitorService != nil {
		monitorService.Stop()
	}
	coord.Close()
	records.Close()
	steps.Close()
	balances.Close()
	pumpWG.Wait()

	if err := backend.Close(); err != nil {
		Logger.Error("Error closing storage backend", "error", err)
	}
	if influxManager != nil {
		if influxManager.BackupWriter != nil {
			influxManager.BackupWriter.Close()
		}
		influxManager.Client.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := SlogManager.Flush(ctx); err != nil {
		Logger.Error("Error flushing logs", "error", err)
	}
	if OTelProvider != nil {
		if err := OTelProvider.Shutdown(ctx); err != nil {
			Logger.Error("Error shutting down OTel provider", "error", err)
		}
	}
	if logFile != nil {
		logFile.Close()
	}
}

// setupLogging opens the session log file and wires the optional
// Graylog and OTel destinations, then reinitializes the SlogManager.
func setupLogging(sessionCtx *handlers.SessionContext) {
	logsDir := viper.GetString("logsDir")
	if _, err := os.Stat(logsDir); os.IsNotExist(err) {
		os.MkdirAll(logsDir, 0755)
	}

	logFilePath := logging.LogFilePath(logsDir, ExtensionName, SessionStartTime)
	var err error
	logFile, err = os.OpenFile(logFilePath, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		Logger.Error("Failed to open log file, logging to console", "error", err, "path", logFilePath)
		logFile = nil
	}

	var graylog = setupGraylog()

	var otelLogProvider *sdklog.LoggerProvider
	if viper.GetBool("otel.enabled") {
		otelCfg := intOtel.Config{
			Enabled:      true,
			ServiceName:  viper.GetString("otel.serviceName"),
			BatchTimeout: viper.GetDuration("otel.batchTimeout"),
			Endpoint:     viper.GetString("otel.endpoint"),
			Insecure:     viper.GetBool("otel.insecure"),
		}
		if logFile != nil {
			otelCfg.LogWriter = logFile
		}
		OTelProvider, err = intOtel.New(otelCfg)
		if err != nil {
			Logger.Error("Failed to initialize OTel provider", "error", err)
			OTelProvider = nil
		} else {
			otelLogProvider = OTelProvider.LoggerProvider()
		}
	}

	opts := logging.Options{
		Level:   viper.GetString("logLevel"),
		Graylog: graylog,
		OTel:    otelLogProvider,
		Context: func() []slog.Attr {
			if sess := sessionCtx.Get(); sess != nil {
				return []slog.Attr{slog.String("session", sess.ID)}
			}
			return nil
		},
	}
	if logFile != nil {
		opts.File = logFile
	}
	SlogManager.Setup(opts)
	Logger = SlogManager.Logger()
	if logFile != nil {
		Logger.Info("Logging to file", "path", logFilePath)
	}
}

func setupGraylog() io.Writer {
	if !viper.GetBool("graylog.enabled") {
		return nil
	}
	gw, err := logging.DialGraylog(viper.GetString("graylog.address"))
	if err != nil {
		Logger.Error("Failed to connect to Graylog", "error", err,
			"address", viper.GetString("graylog.address"))
		return nil
	}
	return gw
}

// setupInflux connects the time-series exporter when enabled. A failed
// connection still returns a manager; it spools to the gzip backup.
func setupInflux() *influx.Manager {
	if !viper.GetBool("influx.enabled") {
		return nil
	}

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()
	backupPath := filepath.Join(viper.GetString("logsDir"), "influx_backup.log.gz")
	m := influx.NewManager(zlog, backupPath)
	if err := m.Connect(); err != nil {
		Logger.Error("Failed to set up InfluxDB export", "error", err)
		return nil
	}
	return m
}

// registerHandlers binds the host command surface to the dispatcher.
// Joint frames are buffered so a burst never stalls the input loop;
// the coordinator only reads the latest snapshot at tick time.
func registerHandlers(d *dispatcher.Dispatcher, svc *handlers.Service, backend sink.Backend) {
	wrap := func(h func([]string) error) dispatcher.HandlerFunc {
		return func(e dispatcher.Event) (any, error) {
			if err := h(e.Args); err != nil {
				return nil, err
			}
			return "ok", nil
		}
	}

	d.Register(":NEW:BODY:", wrap(svc.HandleNewBody), dispatcher.Logged())
	d.Register(":LOST:BODY:", wrap(svc.HandleLostBody), dispatcher.Logged())
	d.Register(":JOINT:FRAME:", wrap(svc.HandleJointFrame), dispatcher.Buffered(8192))
	d.Register(":TICK:", wrap(svc.HandleTick))
	d.Register(":CALIBRATE:", wrap(svc.HandleCalibrate), dispatcher.Logged())
	d.Register(":CALIBRATE:BODY:", wrap(svc.HandleCalibrateBody), dispatcher.Logged())
	d.Register(":CONFIG:RELOAD:", wrap(svc.HandleConfigReload), dispatcher.Logged())
	d.Register(":SESSION:START:", wrap(svc.HandleSessionStart), dispatcher.Logged())
	d.Register(":SESSION:END:", func(e dispatcher.Event) (any, error) {
		if err := svc.HandleSessionEnd(e.Args); err != nil {
			return nil, err
		}
		if exp, ok := backend.(sink.Exportable); ok {
			Logger.Info("Session exported", "path", exp.ExportedFilePath())
		}
		return "ok", nil
	}, dispatcher.Logged())
	d.Register(":STATUS:", func(e dispatcher.Event) (any, error) {
		return svc.HandleStatus(e.Args)
	})
}

// startPumps drains the coordinator output channels into the sink and,
// when configured, the Influx exporter. The pumps exit when the
// channels close.
func startPumps(
	wg *sync.WaitGroup,
	backend sink.Backend,
	influxManager *influx.Manager,
	records *channel.Buffered[core.OutputRecord],
	steps *channel.Buffered[core.StepEvent],
	balances *channel.Buffered[core.BalanceEvent],
) {
	ctx := context.Background()

	wg.Add(3)
	go func() {
		defer wg.Done()
		for r := range records.Receive() {
			rec := r
			if err := backend.RecordOutput(&rec); err != nil {
				Logger.Error("Error recording output", "error", err, "bodyID", rec.BodyID)
			}
			if influxManager != nil {
				if err := influxManager.WriteOutputRecord(ctx, &rec); err != nil {
					Logger.Error("Error exporting output to InfluxDB", "error", err)
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		for e := range steps.Receive() {
			ev := e
			if err := backend.RecordStepEvent(&ev); err != nil {
				Logger.Error("Error recording step event", "error", err, "bodyID", ev.BodyID)
			}
			if influxManager != nil {
				if err := influxManager.WriteStepEvent(ctx, &ev); err != nil {
					Logger.Error("Error exporting step event to InfluxDB", "error", err)
				}
			}
		}
	}()
	go func() {
		defer wg.Done()
		for e := range balances.Receive() {
			ev := e
			if err := backend.RecordBalanceEvent(&ev); err != nil {
				Logger.Error("Error recording balance event", "error", err, "bodyID", ev.BodyID)
			}
			if influxManager != nil {
				if err := influxManager.WriteBalanceEvent(ctx, &ev); err != nil {
					Logger.Error("Error exporting balance event to InfluxDB", "error", err)
				}
			}
		}
	}()
}

// runInputLoop reads commands from stdin until EOF or SIGINT.
func runInputLoop(d *dispatcher.Dispatcher) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		// Joint frames for a full skeleton run long.
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case sig := <-sigCh:
			Logger.Info("Received signal", "signal", sig.String())
			return
		case line, ok := <-lines:
			if !ok {
				Logger.Info("Input closed")
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			handleLine(d, line)
		}
	}
}

// handleLine parses ":COMMAND:|arg|arg" and dispatches it.
func handleLine(d *dispatcher.Dispatcher, line string) {
	parts := strings.Split(line, "|")
	e := dispatcher.Event{
		Command:   parts[0],
		Args:      parts[1:],
		Timestamp: time.Now(),
	}

	result, err := d.Dispatch(e)
	if err != nil {
		Logger.Error("Command failed", "command", e.Command, "error", err)
		fmt.Printf(":ERROR:|%s|%s\n", e.Command, err.Error())
		return
	}
	if s, ok := result.(string); ok && s != "" && s != "ok" && s != "queued" {
		fmt.Println(s)
	}
}
