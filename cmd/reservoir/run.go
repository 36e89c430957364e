package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"syscall"
	"time"

	gojson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ajitpratap0/reservoir/internal/workload"
)

func newRunCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run synthetic workload rounds until the duration elapses or a signal arrives",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings(v, "run")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if d := v.GetDuration("run.duration"); d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			stopProfiling, err := startProfiling(v.GetString("run.cpuprofile"))
			if err != nil {
				return err
			}
			defer stopProfiling()

			a, err := setup(ctx, s)
			if err != nil {
				return err
			}

			rounds := 0
			for ctx.Err() == nil {
				r, err := workload.NewRunner(a.o, s.Workload, a.log)
				if err != nil {
					_ = a.shutdown(context.Background())
					return err
				}
				if _, err := r.Run(ctx); err != nil && ctx.Err() == nil {
					a.log.Warn("workload round failed", zap.Error(err))
				}
				rounds++
			}
			a.log.Info("run finished", zap.Int("rounds", rounds))

			report := a.o.Report()
			if err := writeMemProfile(v.GetString("run.memprofile")); err != nil {
				a.log.Warn("memory profile failed", zap.Error(err))
			}
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := a.shutdown(shutdownCtx); err != nil {
				a.log.Warn("shutdown incomplete", zap.Error(err))
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	addWorkloadFlags(cmd, v, "run")
	f := cmd.Flags()
	f.Duration("duration", 30*time.Second, "How long to run, 0 runs until interrupted")
	f.String("cpuprofile", "", "Write a CPU profile to this file")
	f.String("memprofile", "", "Write a heap profile to this file on exit")
	_ = v.BindPFlag("run.duration", f.Lookup("duration"))
	_ = v.BindPFlag("run.cpuprofile", f.Lookup("cpuprofile"))
	_ = v.BindPFlag("run.memprofile", f.Lookup("memprofile"))
	return cmd
}

func newReportCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Run one workload round and print the status report as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			s := loadSettings(v, "report")
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a, err := setup(ctx, s)
			if err != nil {
				return err
			}
			r, err := workload.NewRunner(a.o, s.Workload, a.log)
			if err != nil {
				_ = a.shutdown(ctx)
				return err
			}
			if _, err := r.Run(ctx); err != nil {
				_ = a.shutdown(ctx)
				return err
			}
			a.o.Tick(ctx)
			report := a.o.Report()
			if err := a.shutdown(ctx); err != nil {
				a.log.Warn("shutdown incomplete", zap.Error(err))
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	addWorkloadFlags(cmd, v, "report")
	return cmd
}

func writeJSON(w io.Writer, v any) error {
	data, err := gojson.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

func startProfiling(path string) (func(), error) {
	if path == "" {
		return func() {}, nil
	}
	f, err := os.Create(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("failed to create CPU profile: %w", err)
	}
	if err := pprof.StartCPUProfile(f); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to start CPU profile: %w", err)
	}
	return func() {
		pprof.StopCPUProfile()
		_ = f.Close()
	}, nil
}

func writeMemProfile(path string) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path) //nolint:gosec // operator supplied path
	if err != nil {
		return fmt.Errorf("failed to create memory profile: %w", err)
	}
	defer f.Close()
	runtime.GC()
	return pprof.WriteHeapProfile(f)
}
