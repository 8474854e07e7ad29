package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	rowbatch "github.com/vivaneiona/genkit-rowbatch"
	"github.com/vivaneiona/genkit-rowbatch/sqlite"
)

func newRunCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Process every row and export the success and error tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd.Context(), v)
		},
	}
	cmd.Flags().String("out-dir", ".", "directory for success.csv and errors.csv")
	cmd.Flags().String("sqlite", "", "also write both tables to this SQLite file")
	return cmd
}

func runBatch(ctx context.Context, v *viper.Viper) error {
	if ctx == nil {
		ctx = context.Background()
	}
	job, err := buildJob(v)
	if err != nil {
		return err
	}
	inv, err := newInvoker(ctx, v)
	if err != nil {
		return err
	}
	p := rowbatch.NewWithLogger(inv, slog.Default())

	opts := append(runOptions(v, job),
		rowbatch.WithProgress(func(completed, total int) {
			slog.Info("Progress", "completed", completed, "total", total)
		}),
		rowbatch.WithRowEvents(func(ev rowbatch.RowEvent) {
			if ev.Status == rowbatch.StatusError {
				slog.Warn("Row failed", "index", ev.Index, "error", ev.Error)
			}
		}),
	)

	run, err := p.Start(ctx, job, opts...)
	if err != nil {
		return err
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	go func() {
		select {
		case <-sig:
			slog.Warn("Interrupted, waiting for calls in flight")
			p.Abort()
		case <-run.Done():
		}
	}()

	res := run.Wait()
	summary := res.Summary()
	slog.Info("Run finished",
		"state", res.State.String(),
		"success", summary.SuccessCount,
		"errors", summary.ErrorCount,
		"completed", res.Completed,
		"total", res.Total)

	return exportResult(ctx, v, res)
}

func exportResult(ctx context.Context, v *viper.Viper, res *rowbatch.Result) error {
	success, failed := rowbatch.Export(res)

	dir := v.GetString("out-dir")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	for _, t := range []*rowbatch.Table{success, failed} {
		path := filepath.Join(dir, t.Name+".csv")
		if err := writeCSVFile(path, t); err != nil {
			return err
		}
		slog.Info("Wrote table", "path", path, "rows", len(t.Rows))
	}

	if path := v.GetString("sqlite"); path != "" {
		store, err := sqlite.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()
		for _, t := range []*rowbatch.Table{success, failed} {
			if len(t.Columns) == 0 {
				continue
			}
			if err := store.WriteTable(ctx, t); err != nil {
				return err
			}
		}
		slog.Info("Wrote SQLite tables", "path", path)
	}
	return nil
}

func writeCSVFile(path string, t *rowbatch.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := rowbatch.WriteCSV(f, t); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
