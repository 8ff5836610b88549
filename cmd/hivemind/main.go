package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/hivemind/internal/api"
	"github.com/banshee-data/hivemind/internal/audio"
	"github.com/banshee-data/hivemind/internal/collector"
	"github.com/banshee-data/hivemind/internal/config"
	"github.com/banshee-data/hivemind/internal/db"
	"github.com/banshee-data/hivemind/internal/fsutil"
	"github.com/banshee-data/hivemind/internal/monitoring"
	"github.com/banshee-data/hivemind/internal/report"
	"github.com/banshee-data/hivemind/internal/scheduler"
	"github.com/banshee-data/hivemind/internal/serialmux"
	"github.com/banshee-data/hivemind/internal/timeutil"
	"github.com/banshee-data/hivemind/internal/version"
)

var (
	configPath    = flag.String("config", "", "Path to a JSON collector config (defaults are used when empty)")
	listen        = flag.String("listen", ":8080", "Listen address for the dashboard; empty disables it")
	port          = flag.String("port", "", "Serial port override (ignored in dev mode)")
	devMode       = flag.Bool("dev", false, "Run with a simulated sensor line and a synthetic tone")
	disableSerial = flag.Bool("disable-serial", false, "Do not read the sensor link; sensor fields are zero-filled")
	disableAudio  = flag.Bool("disable-audio", false, "Do not capture audio; frequency and amplitude are zero")
	debug         = flag.Bool("debug", false, "Enable debug logging")
	noColor       = flag.Bool("no-color", false, "Disable colored log output")
	showVersion   = flag.Bool("version", false, "Print version and exit")
)

// devFixtureLine is replayed by the simulated microcontroller in dev mode.
const devFixtureLine = `{"internal_temperature": 34.6, "external_temperature": 18.2, "internal_humidity": 61.5, "external_humidity": 48.0}`

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	monitoring.UseSlog(monitoring.NewLogger(os.Stderr, level, !*noColor && isTerminal(os.Stderr)))
	monitoring.Logf("starting %s", version.String())

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *port != "" {
		cfg.SerialPort = port
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, runOptions{
		Listen:        *listen,
		Dev:           *devMode,
		DisableSerial: *disableSerial,
		DisableAudio:  *disableAudio,
	}); err != nil {
		log.Fatalf("hivemind: %v", err)
	}
	monitoring.Logf("graceful shutdown complete")
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// loadConfig reads path, or returns the built-in defaults when path is empty.
func loadConfig(path string) (*config.CollectorConfig, error) {
	if path == "" {
		return config.EmptyCollectorConfig(), nil
	}
	cfg, err := config.LoadCollectorConfig(path)
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

type runOptions struct {
	Listen        string
	Dev           bool
	DisableSerial bool
	DisableAudio  bool
	Clock         timeutil.Clock
	// FixtureInterval is how often the dev serial fixture emits a line.
	// Zero means once a second.
	FixtureInterval time.Duration
	// ReadyHook, when set, receives the assembled collector before the
	// scheduler starts.
	ReadyHook func(*app)
}

// app holds every resource the process owns.
type app struct {
	store     *db.Store
	lines     *serialmux.SerialMux
	source    audio.Source
	update    *collector.UpdateTask
	exporter  *report.Exporter
	scheduler *scheduler.Scheduler
}

func (a *app) Close() {
	if a.lines != nil {
		if err := a.lines.Close(); err != nil {
			monitoring.Logf("warning: closing serial port: %v", err)
		}
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			monitoring.Logf("warning: closing audio source: %v", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			monitoring.Logf("warning: closing record store: %v", err)
		}
	}
}

// newLineReader opens the sensor link. A link that cannot be opened yet is
// logged and retried by every update cycle.
func newLineReader(cfg *config.CollectorConfig, opts runOptions) (*serialmux.SerialMux, error) {
	if opts.DisableSerial {
		monitoring.Logf("serial disabled; sensor fields will be zero-filled")
		return nil, nil
	}
	portOpts := serialmux.PortOptions{BaudRate: cfg.GetBaudRate()}
	if _, err := portOpts.Normalise(); err != nil {
		return nil, err
	}

	var factory serialmux.SerialPortFactory = serialmux.NewRealSerialPortFactory()
	if opts.Dev {
		every := opts.FixtureInterval
		if every <= 0 {
			every = time.Second
		}
		factory = serialmux.NewFixtureSerialPortFactory([]byte(devFixtureLine), every)
	}
	mux := serialmux.NewSerialMux(cfg.GetSerialPort(), portOpts, cfg.GetSerialTimeout(), factory)
	if err := mux.Open(); err != nil {
		monitoring.Logf("warning: serial port %s unavailable, will retry each cycle: %v", cfg.GetSerialPort(), err)
	} else {
		monitoring.Logf("opened serial port %s at %d baud", cfg.GetSerialPort(), cfg.GetBaudRate())
	}
	return mux, nil
}

func newAudioSource(cfg *config.CollectorConfig, opts runOptions) (audio.Source, error) {
	if opts.DisableAudio {
		monitoring.Logf("audio disabled; frequency and amplitude will be zero")
		return nil, nil
	}
	if opts.Dev {
		return audio.SineSource{Frequency: 250, Amplitude: 8000, SampleRate: cfg.GetSampleRate()}, nil
	}
	src, err := audio.NewArecordSource(cfg.GetAudioDevice(), audio.Format{
		SampleRate: cfg.GetSampleRate(),
		Channels:   cfg.GetChannels(),
		BlockSize:  cfg.GetBlockSize(),
	})
	if err != nil {
		return nil, err
	}
	return src, nil
}

// assemble builds every resource. On error, whatever was opened is closed.
// A record store that cannot be opened yet is logged and retried by every
// cycle that touches it.
func assemble(cfg *config.CollectorConfig, opts runOptions) (*app, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	clock := opts.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	a := &app{}
	if err := a.build(cfg, opts, clock); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) build(cfg *config.CollectorConfig, opts runOptions, clock timeutil.Clock) error {
	var err error
	if a.store, err = db.NewStore(cfg.GetDatabaseDir(), cfg.GetDatabaseName()); err != nil {
		return fmt.Errorf("record store: %w", err)
	}
	if err := a.store.Open(); err != nil {
		monitoring.Logf("warning: %v; will retry each cycle", err)
	}
	if a.lines, err = newLineReader(cfg, opts); err != nil {
		return err
	}
	if a.source, err = newAudioSource(cfg, opts); err != nil {
		return err
	}

	analyzer, err := audio.NewAnalyzer(cfg.GetSampleRate(), cfg.GetDominantRank())
	if err != nil {
		return err
	}

	var lines collector.LineReader
	if a.lines != nil {
		lines = a.lines
	}
	a.update, err = collector.NewUpdateTask(clock, lines, a.source, analyzer, a.store, collector.Options{
		ExpectedMetrics: cfg.GetExpectedMetrics(),
		ClampMax:        cfg.GetClampMax(),
		BlockSize:       cfg.GetBlockSize(),
		SerialTimeout:   cfg.GetSerialTimeout(),
		TimeFormat:      cfg.GetTimeFormat(),
		Location:        cfg.GetLocation(),
	})
	if err != nil {
		return err
	}

	a.exporter, err = report.NewExporter(a.store, fsutil.OSFileSystem{}, clock, report.Config{
		Dir:      cfg.GetReportDir(),
		Window:   cfg.GetReportWindow(),
		Channels: report.DefaultChannels(cfg.GetTemperatureMetrics(), cfg.GetHumidityMetrics()),
		Chart:    true,
		PNG:      cfg.GetPlotPNG(),
	})
	if err != nil {
		return err
	}

	a.scheduler = scheduler.New(clock)
	update := cfg.GetUpdateInterval()
	if err := a.scheduler.Add("update", update, a.update.Task,
		scheduler.WithRunOnStart(), scheduler.WithTimeout(update+cfg.GetSerialTimeout())); err != nil {
		return err
	}
	if err := a.scheduler.Add("export", cfg.GetQueryInterval(), a.exporter.Task,
		scheduler.WithRunOnStart()); err != nil {
		return err
	}
	return nil
}

// run owns the collector for the life of ctx: it starts the scheduler and the
// dashboard, and on cancellation waits for in-flight cycles before closing
// every resource.
func run(ctx context.Context, cfg *config.CollectorConfig, opts runOptions) error {
	a, err := assemble(cfg, opts)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.ReadyHook != nil {
		opts.ReadyHook(a)
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := a.scheduler.Run(ctx); err != nil {
			monitoring.Logf("error: scheduler: %v", err)
		}
		monitoring.Logf("scheduler routine terminated")
	}()

	if opts.Listen != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serveHTTP(ctx, a, cfg, opts)
		}()
	}

	wg.Wait()
	return nil
}

func serveHTTP(ctx context.Context, a *app, cfg *config.CollectorConfig, opts runOptions) {
	srv := &api.Server{
		Store:     a.store,
		Scheduler: a.scheduler,
		Updates:   a.update,
		Exports:   a.exporter,
		ReportDir: cfg.GetReportDir(),
		Window:    cfg.GetReportWindow(),
		Started:   time.Now(),
	}
	mux := srv.ServeMux()
	if a.lines != nil {
		a.lines.AttachAdminRoutes(mux)
	}
	if err := a.store.AttachAdminRoutes(mux); err != nil {
		monitoring.Logf("warning: admin routes unavailable: %v", err)
	}

	server := &http.Server{
		Addr:              opts.Listen,
		Handler:           api.LoggingMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		monitoring.Logf("dashboard listening on %s", opts.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		// the collector keeps running without its dashboard
		monitoring.Logf("error: dashboard stopped: %v", err)
		<-ctx.Done()
		return
	}
	monitoring.Logf("shutting down HTTP server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		monitoring.Logf("warning: HTTP server shutdown error: %v", err)
		if err := server.Close(); err != nil {
			monitoring.Logf("warning: HTTP server force close error: %v", err)
		}
	}
	monitoring.Logf("HTTP server routine stopped")
}
