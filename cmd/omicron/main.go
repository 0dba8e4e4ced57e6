package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/CBrophy/omicron/internal/alert"
	"github.com/CBrophy/omicron/internal/job"
	"github.com/CBrophy/omicron/internal/observability/pprof"
	"github.com/CBrophy/omicron/internal/runtime/supervisor"
	"github.com/CBrophy/omicron/internal/scheduler"
	logx "github.com/CBrophy/omicron/pkg/logx"
)

const defaultConfigPath = "/etc/omicron/omicron.conf"

const usage = `omicron [<config-path>]

Runs the crontab-driven job scheduler. <config-path> defaults to
` + defaultConfigPath + `. Pass any argument containing '?' to print this
message.

Set OMICRON_PPROF_ADDR (e.g. 127.0.0.1:6060) to expose a diagnostic
net/http/pprof endpoint for -watch-signals style live debugging.
`

func main() {
	configPath := defaultConfigPath
	if len(os.Args) > 1 {
		if strings.Contains(os.Args[1], "?") {
			fmt.Print(usage)
			os.Exit(0)
		}
		configPath = os.Args[1]
	}

	svc, log := logx.New(logx.Config{
		Level:   "info",
		Console: true,
	})
	defer func() { _ = svc.Close() }()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, configPath, log); err != nil {
		log.Error("fatal", logx.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, log logx.Logger) error {
	sup := supervisor.NewSupervisor(ctx, supervisor.WithLogger(log), supervisor.WithCancelOnError(true))

	alerts := alert.NewManager(sup, log, hostname())
	manager := job.NewManager(sup, log, alerts)
	sched := scheduler.New(configPath, manager, log)

	sup.Go("scheduler", sched.Run)

	startDiagnostics(ctx, log)

	notifyReady(log)
	stopWatchdog := startWatchdog(sup.Context(), log)
	defer stopWatchdog()

	<-sup.Context().Done()

	log.Info("shutting down", logx.String("reason", fmt.Sprint(sup.Context().Err())))
	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()

	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	return sup.Stop(stopCtx)
}

// notifyReady tells systemd (when running as a Type=notify unit) that
// startup is complete. It's a no-op outside systemd: SdNotify reports
// ok=false and a nil error when NOTIFY_SOCKET isn't set.
func notifyReady(log logx.Logger) {
	ok, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		log.Warn("sd_notify READY failed", logx.Err(err))
		return
	}
	if ok {
		log.Debug("sd_notify READY sent")
	}
}

// startWatchdog pings systemd's watchdog at half the configured interval,
// as long as the scheduler context remains alive. Returns a no-op stop
// func when no watchdog interval is configured.
func startWatchdog(ctx context.Context, log logx.Logger) func() {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval == 0 {
		return func() {}
	}

	ping := interval / 2
	done := make(chan struct{})

	go func() {
		ticker := time.NewTicker(ping)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if _, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog); err != nil {
					log.Warn("sd_notify WATCHDOG failed", logx.Err(err))
				}
			}
		}
	}()

	return func() { close(done) }
}

// startDiagnostics exposes a net/http/pprof endpoint when OMICRON_PPROF_ADDR
// is set. Off by default: it only ever binds to an address an operator
// explicitly opted into, for live debugging a stuck scheduler.
func startDiagnostics(ctx context.Context, log logx.Logger) {
	addr := strings.TrimSpace(os.Getenv("OMICRON_PPROF_ADDR"))
	if addr == "" {
		return
	}

	svc := pprof.New(pprof.Config{Enabled: true, Addr: addr}, log.With(logx.String("comp", "pprof")))
	svc.Start(ctx)
}

// hostname resolves the HOSTNAME environment variable, falling back to the
// OS hostname (replaced by the first name net.LookupAddr returns for it,
// when that lookup succeeds) and finally a sentinel value.
func hostname() string {
	if h := strings.TrimSpace(os.Getenv("HOSTNAME")); h != "" {
		return h
	}
	if h, err := os.Hostname(); err == nil && h != "" {
		if names, err := net.LookupAddr(h); err == nil && len(names) > 0 {
			return strings.TrimSuffix(names[0], ".")
		}
		return h
	}
	return "UNKNOWN_HOST"
}
