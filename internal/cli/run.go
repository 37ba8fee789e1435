package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"driftwatch/internal/engine"
	"driftwatch/internal/notify"
)

func init() {
	rootCmd.AddCommand(runCmd)
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the monitoring engine in the foreground",
	Long: "Starts the observer, the reconciler, and the threat detector, and\n" +
		"runs until interrupted. SIGINT/SIGTERM stop the engine cleanly,\n" +
		"letting an in-flight reconciliation cycle finish.",
	RunE: runRun,
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, slogger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer logger.Close()

	e, err := engine.New(cfg, slogger)
	if err != nil {
		return err
	}

	if cfg.Notify.Desktop {
		if desktop, derr := notify.NewDesktopNotifier(); derr != nil {
			slogger.Warn("desktop notifications unavailable", "error", derr)
		} else {
			defer desktop.Close()
			e.Broadcaster().Subscribe(desktop)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if addr := cfg.Metrics.ListenAddr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", e.Metrics().Registry.Handler())
		srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				slogger.Warn("metrics endpoint failed", "addr", addr, "error", err)
			}
		}()
		defer srv.Close()
		slogger.Info("metrics endpoint listening", "addr", addr)
	}

	slogger.Info("driftwatch starting",
		"watch_paths", cfg.Watch.Paths,
		"registry", cfg.Registry.Path)
	return e.Run(ctx)
}
