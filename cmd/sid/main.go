package main

import (
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	systemd "github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"github.com/urfave/cli"

	"github.com/nestybox/sid/bridge"
	"github.com/nestybox/sid/command"
	"github.com/nestybox/sid/config"
	"github.com/nestybox/sid/domain"
	"github.com/nestybox/sid/keycodec"
	"github.com/nestybox/sid/kv"
	"github.com/nestybox/sid/logging"
	"github.com/nestybox/sid/metrics"
	"github.com/nestybox/sid/module"
	"github.com/nestybox/sid/module/builtin"
	"github.com/nestybox/sid/scan"
	"github.com/nestybox/sid/sysio"
	"github.com/nestybox/sid/uevent"
	"github.com/nestybox/sid/worker"
)

// Globals populated at build time by the Makefile, following the
// teacher's own edition/version/commitId/builtAt/builtBy convention.
var (
	version  string
	commitId string
	builtAt  string
	builtBy  string
)

const usage = `sid: Storage Instantiation Daemon

sid watches kernel block-device uevents, drives each device through a
fixed scan-phase pipeline of pluggable modules, and maintains a shared
key-value database of device identity, readiness, reservation, and
relational hierarchy. Administrative clients query it over a local
socket (sidctl).
`

func main() {
	app := cli.NewApp()
	app.Name = "sid"
	app.Usage = usage
	app.Version = version

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "config",
			Value: "",
			Usage: "path to a YAML config file (default: built-in defaults)",
		},
		cli.StringFlag{
			Name:  "socket",
			Usage: "override the bridge listening socket path",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "log file path or empty string for stderr output",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "log categories to include (debug, info, warning, error, fatal)",
		},
		cli.StringFlag{
			Name:  "log-format",
			Usage: "log format; must be json or text",
		},
		cli.BoolFlag{
			Name:  "monitor-uevents",
			Usage: "open the kernel uevent netlink socket and synthesize SCAN requests for block events",
		},
		cli.BoolFlag{
			Name:  "reload-snapshot",
			Usage: "restore the KV store from RunDir/sid.db at startup, if present",
		},
		cli.StringFlag{
			Name:  "metrics-addr",
			Usage: "serve Prometheus metrics on this address (e.g. :9100); empty disables metrics",
		},
	}

	cli.VersionPrinter = func(c *cli.Context) {
		fmt.Printf("sid\n\tversion: \t%s\n\tcommit: \t%s\n\tbuilt at: \t%s\n\tbuilt by: \t%s\n",
			c.App.Version, commitId, builtAt, builtBy)
	}

	// sid-worker is the hidden re-exec target worker.Spawn launches; its
	// only job is to drive RunLoop over its inherited channel (fd 3),
	// mirroring the teacher's own "nsenter" re-exec subcommand in
	// cmd/sysbox-fs/main.go.
	app.Commands = []cli.Command{
		{
			Name:   worker.ReExecArg,
			Hidden: true,
			Action: func(c *cli.Context) error {
				return runWorker()
			},
		},
	}

	app.Before = func(ctx *cli.Context) error {
		rand.Seed(time.Now().UnixNano())
		return nil
	}

	app.Action = func(ctx *cli.Context) error {
		return runDaemon(ctx)
	}

	if err := app.Run(os.Args); err != nil {
		logrus.Fatal(err)
	}
}

func runDaemon(ctx *cli.Context) error {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if s := ctx.String("socket"); s != "" {
		cfg.SocketPath = s
	}
	if s := ctx.String("log"); s != "" {
		cfg.LogPath = s
	}
	if s := ctx.String("log-level"); s != "" {
		cfg.LogLevel = s
	}
	if s := ctx.String("log-format"); s != "" {
		cfg.LogFormat = s
	}
	if ctx.Bool("reload-snapshot") {
		cfg.ReloadSnapshot = true
	}
	if s := ctx.String("metrics-addr"); s != "" {
		cfg.MetricsAddr = s
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if err := logging.Setup(logging.Options{Path: cfg.LogPath, Level: cfg.LogLevel, Format: cfg.LogFormat}); err != nil {
		return fmt.Errorf("configuring logging: %w", err)
	}

	logrus.Info("Initiating sid ...")

	if err := os.MkdirAll(cfg.RunDir, 0700); err != nil {
		return fmt.Errorf("creating run dir %s: %w", cfg.RunDir, err)
	}

	pidPath := cfg.RunDir + "/sid.pid"
	if err := checkPidFile(pidPath); err != nil {
		return err
	}

	store := kv.New(1)

	var metricsCollector *metrics.Metrics
	var metricsSrv *http.Server
	if cfg.MetricsAddr != "" {
		metricsCollector = metrics.NewMetrics(prometheus.DefaultRegisterer)
		store.Metrics = metricsCollector
		metricsSrv = metrics.Serve(cfg.MetricsAddr)
		logrus.Infof("sid: serving metrics on %s", cfg.MetricsAddr)
	}

	if cfg.ReloadSnapshot {
		path := snapshotPath(cfg)
		if err := store.Restore(afero.NewOsFs(), path); err != nil {
			logrus.Warnf("sid: no snapshot reloaded from %s: %v", path, err)
		} else {
			logrus.Infof("sid: restored KV store from %s", path)
		}
	}

	ln, err := bridge.Listen(cfg.SocketPath)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.SocketPath, err)
	}

	pool := worker.NewPool(cfg.WorkerPoolMin, cfg.WorkerPoolMax, cfg.WorkerIdleTimeout, cfg.WorkerExecTimeout)
	reaper := worker.NewReaper()
	defer reaper.Stop()

	reapStop := make(chan struct{})
	go reapLoop(pool, reapInterval(cfg.WorkerExecTimeout), reapStop)
	defer close(reapStop)

	server := bridge.NewServer(ln, store, pool, version)
	server.SnapshotPath = snapshotPath(cfg)
	if metricsCollector != nil {
		server.Metrics = metricsCollector
	}

	var mon *uevent.Monitor
	if ctx.Bool("monitor-uevents") {
		mon, err = uevent.Open()
		if err != nil {
			logrus.Warnf("sid: could not open uevent monitor: %v", err)
		} else {
			go monitorUevents(mon, server)
		}
	}

	exitChan := make(chan os.Signal, 1)
	signal.Notify(exitChan, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGSEGV, syscall.SIGQUIT)
	go exitHandler(exitChan, pidPath, mon, metricsSrv)

	if err := systemd.SdNotify(false, systemd.SdNotifyReady); err != nil {
		logrus.Debugf("sid: SdNotify ready failed (not under systemd?): %v", err)
	}

	if err := writePidFile(pidPath); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}

	logrus.Info("Ready ...")

	if err := server.Serve(); err != nil {
		logrus.Errorf("sid: bridge server exited: %v", err)
	}

	_ = os.Remove(pidPath)
	logrus.Info("Done.")
	return nil
}

// monitorUevents feeds kernel block-subsystem events into the bridge as
// synthesized SCAN requests, the daemon-side counterpart to a client
// explicitly issuing SCAN over the socket (spec section 4.3's uevent
// listener responsibility).
func monitorUevents(mon *uevent.Monitor, server *bridge.Server) {
	defer mon.Close()
	for {
		ev, err := mon.Read()
		if err != nil {
			logrus.Warnf("sid: uevent monitor read failed: %v", err)
			return
		}
		if !uevent.IsBlockEvent(ev) {
			continue
		}
		if _, err := server.DispatchScanRequest(domain.ScanRequest{DevNo: ev.DevNo, Env: ev.Env}); err != nil {
			logrus.Warnf("sid: scan dispatch for %v failed: %v", ev.DevNo, err)
		}
	}
}

func exitHandler(signalChan chan os.Signal, pidPath string, mon *uevent.Monitor, metricsSrv *http.Server) {
	var printStack bool

	s := <-signalChan
	logrus.Warnf("sid caught signal: %s", s)
	logrus.Info("Stopping (gracefully) ...")

	_ = systemd.SdNotify(false, systemd.SdNotifyStopping)

	switch s {
	case syscall.SIGABRT, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGSEGV:
		printStack = true
	}
	if printStack {
		stacktrace := make([]byte, 32768)
		length := runtime.Stack(stacktrace, true)
		logrus.Warnf("\n\n%s\n", string(stacktrace[:length]))
	}

	if mon != nil {
		mon.Close()
	}
	metrics.Shutdown(metricsSrv)

	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("failed to remove sid pid file: %v", err)
	}

	logrus.Info("Exiting ...")
	os.Exit(0)
}

// checkPidFile refuses to start if a live process already owns pidPath,
// mirroring the teacher's libutils.CheckPidFile without depending on the
// nestybox-internal sysbox-libs/utils module (not fetchable outside the
// teacher's own org).
func checkPidFile(pidPath string) error {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading pid file %s: %w", pidPath, err)
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return nil // stale/corrupt pid file; overwrite it
	}
	if proc, err := os.FindProcess(pid); err == nil {
		if err := proc.Signal(syscall.Signal(0)); err == nil {
			return fmt.Errorf("sid is already running with pid %d", pid)
		}
	}
	return nil
}

func writePidFile(pidPath string) error {
	return os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0644)
}

// reapInterval derives how often the pool's stale-assignment/idle-excess
// sweep runs from the configured exec timeout, so a stuck worker is
// noticed well within one timeout window instead of waiting out a
// separately-tuned knob (spec section 8 scenario 6: a worker that
// exceeds its exec timeout must actually be reaped for the daemon to
// exhibit the documented SIGKILL/EXITED behavior).
func reapInterval(execTimeout time.Duration) time.Duration {
	if execTimeout <= 0 {
		return 5 * time.Second
	}
	interval := execTimeout / 4
	if interval < time.Second {
		interval = time.Second
	}
	return interval
}

// reapLoop periodically reclaims workers stuck past their exec timeout
// (SIGKILL, per Pool.ReapTimedOut) and trims idle workers back to the
// pool's configured Min floor, until stop is closed.
func reapLoop(pool *worker.Pool, interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if reclaimed := pool.ReapTimedOut(); len(reclaimed) > 0 {
				logrus.Warnf("sid: reaped %d timed-out worker(s): %v", len(reclaimed), reclaimed)
			}
			pool.TrimIdle()
		}
	}
}

// snapshotPath is where CHECKPOINT writes the KV store and where
// --reload-snapshot looks for it on startup (spec section 1's C13).
func snapshotPath(cfg config.Config) string {
	return cfg.RunDir + "/sid.db"
}

// runWorker is the sid-worker re-exec entrypoint: it drives RunLoop over
// fd 3, the channel half worker.Spawn hands the child process, against a
// fresh worker-local store and the reference scan pipeline (spec
// sections 4.6, 4.7).
func runWorker() error {
	worker.CheckParentOrExit()

	conn := os.NewFile(3, "sid-worker-conn")
	if conn == nil {
		return fmt.Errorf("sid-worker: fd 3 not available")
	}
	defer conn.Close()

	spec, _, err := worker.ReadHandshake(conn)
	if err != nil {
		return fmt.Errorf("sid-worker: reading handshake: %w", err)
	}
	if spec.Kind != domain.ChannelSocketpair || spec.Dir != domain.DirToWorker {
		return fmt.Errorf("sid-worker: unexpected channel spec %+v", spec)
	}
	logrus.Debugf("sid-worker: handshake confirmed channel %q", spec.Name)

	registry := module.New()
	if err := registry.RegisterBlock(builtin.NewBlkidModule()); err != nil {
		return fmt.Errorf("sid-worker: registering blkid module: %w", err)
	}
	if err := registry.RegisterType(builtin.NewDiskModule()); err != nil {
		return fmt.Errorf("sid-worker: registering disk module: %w", err)
	}
	if err := registry.RegisterType(builtin.NewPartitionModule()); err != nil {
		return fmt.Errorf("sid-worker: registering partition module: %w", err)
	}

	io := sysio.NewIOService(domain.IOOsFileService)

	scanFn := func(req domain.ScanRequest) ([]sysio.ExportEntry, error) {
		store := kv.New(1)
		pipeline := scan.New(store, registry, io)

		ctx := command.New(store, domain.CmdScan, req.DevNo)
		ctx.RequestEnv = req.Env

		if err := pipeline.Run(ctx, req.DevNo, ""); err != nil {
			logrus.Warnf("sid-worker: scan of %+v returned an error: %v", req.DevNo, err)
		}

		return exportSyncedRecords(store), nil
	}

	return worker.RunLoop(conn, scanFn)
}

// exportSyncedRecords walks the store's SYNC-alias index (every key
// whose leading byte marks it a SYNC-flagged record's alias) and returns
// one export entry per record, for the proxy's MergeSyncBuffer to apply
// against the main store (spec section 4.7).
func exportSyncedRecords(store domain.Store) []sysio.ExportEntry {
	var entries []sysio.ExportEntry
	store.Iter(">", "?", func(key string, rec domain.Record) bool {
		entries = append(entries, sysio.ExportEntry{Key: keycodec.ToPrimary(key), Record: rec})
		return true
	})
	return entries
}
