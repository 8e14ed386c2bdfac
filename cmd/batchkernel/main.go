// Command batchkernel is the batch orchestrator's single binary: it
// serves the dashboard API, and re-execs itself under "supervise" as a
// detached Job Executor process for each running job, grounded on the
// teacher's cmd/aule-kernel/main.go errgroup lifecycle.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aulebatch/kernel/internal/adapters/llm"
	"github.com/aulebatch/kernel/internal/config"
	"github.com/aulebatch/kernel/internal/domain"
	"github.com/aulebatch/kernel/internal/httpapi"
	"github.com/aulebatch/kernel/internal/orchestrator"
	"github.com/aulebatch/kernel/internal/pool"
	"github.com/aulebatch/kernel/internal/promptsynth"
	"github.com/aulebatch/kernel/internal/runner"
	"github.com/aulebatch/kernel/internal/store"
	"github.com/aulebatch/kernel/internal/supervisor"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: batchkernel <serve|supervise|reset> [flags]")
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "serve", "dashboard":
		err = runServe(logger, os.Args[2:])
	case "supervise":
		err = runSupervise(logger, os.Args[2:])
	case "reset":
		err = runReset(logger, os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown subcommand %q\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		logger.Error("batchkernel exited with error", "error", err)
		if _, ok := err.(storeCorruptionError); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

// storeCorruptionError marks a failure as store-level corruption rather
// than ordinary startup misconfiguration, so main can pick exit code 2.
type storeCorruptionError struct{ error }

func runServe(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	port := fs.Int("port", 0, "override DASHBOARD_PORT")
	dbPath := fs.String("db", "", "override STORAGE_PATH")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *port != 0 {
		cfg.DashboardPort = *port
	}
	if *dbPath != "" {
		cfg.StoragePath = *dbPath
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Info("shutting down")
		cancel()
	}()

	st, err := store.Open(ctx, cfg.StoragePath, logger)
	if err != nil {
		return storeCorruptionError{fmt.Errorf("open store: %w", err)}
	}
	defer st.Close()

	rnr := runner.New(cfg.AgentCLIPath, logger)
	orch := orchestrator.New(st, rnr, buildSynthesizer(cfg), cfg, cfg.StoragePath)

	srv := httpapi.New(st, orch, logger, cfg)
	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.DashboardPort),
		Handler: srv.Handler(),
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("dashboard listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("dashboard server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down dashboard server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	g.Go(func() error {
		return staleWorkerSweep(gCtx, st, logger)
	})

	return g.Wait()
}

// buildSynthesizer picks the prompt synthesizer CreateJob uses. The
// fixed template shape is the default; PROMPT_SYNTHESIZER=llm asks a
// model instead, via whichever adapter PROMPT_SYNTHESIZER_PROVIDER
// names.
func buildSynthesizer(cfg *config.Config) promptsynth.Synthesizer {
	if cfg.PromptSynthesizer != "llm" {
		return promptsynth.TemplateSynthesizer{}
	}

	var provider domain.LLMProvider
	switch cfg.PromptSynthesizerProvider {
	case "openai":
		provider = llm.NewOpenAIProvider(cfg.PromptSynthesizerBaseURL, cfg.PromptSynthesizerAPIKey, cfg.PromptSynthesizerModel)
	default:
		provider = llm.NewOllamaProvider(cfg.PromptSynthesizerBaseURL)
	}
	return promptsynth.LLMSynthesizer{Provider: provider}
}

// staleWorkerSweep periodically reconciles worker rows against actual
// OS process liveness, the same cleanup the original runs at executor
// startup but here run continuously from the long-lived serve process
// since workers can go stale between job runs, not just at boot.
func staleWorkerSweep(ctx context.Context, st store.Store, logger *slog.Logger) error {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			jobs, err := st.ListJobs(ctx)
			if err != nil {
				logger.Warn("stale worker sweep failed", "error", err)
				continue
			}
			for _, j := range jobs {
				if _, err := st.CleanupStaleWorkers(ctx, j.ID, supervisor.IsAlive); err != nil {
					logger.Warn("stale worker sweep failed", "job_id", j.ID, "error", err)
				}
			}
		}
	}
}

// runSupervise is the detached Job Executor entrypoint: SpawnDetached
// re-execs the binary under this subcommand so the Job Executor process
// fully outlives the dashboard request that started it.
func runSupervise(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("supervise", flag.ExitOnError)
	jobID := fs.String("job", "", "job ID to supervise")
	dbPath := fs.String("db", "", "storage path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *jobID == "" || *dbPath == "" {
		return fmt.Errorf("supervise requires --job and --db")
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	cfg.StoragePath = *dbPath

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st, err := store.Open(ctx, cfg.StoragePath, logger)
	if err != nil {
		return storeCorruptionError{fmt.Errorf("open store: %w", err)}
	}
	defer st.Close()

	rnr := runner.New(cfg.AgentCLIPath, logger)
	p := pool.New(cfg.MaxWorkers, st, rnr, logger)

	sv := supervisor.New(st, p, rnr, logger, supervisor.Options{
		AgentModel:    cfg.AgentModel,
		AgentMaxTurns: cfg.AgentMaxTurns,
	})

	return sv.Run(ctx, domain.JobID(*jobID))
}

func runReset(logger *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ExitOnError)
	dbPath := fs.String("db", "", "override STORAGE_PATH")
	jobID := fs.String("job", "", "reset only this job's stuck units instead of the whole store")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *dbPath != "" {
		cfg.StoragePath = *dbPath
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.StoragePath, logger)
	if err != nil {
		return storeCorruptionError{fmt.Errorf("open store: %w", err)}
	}
	defer st.Close()

	if *jobID != "" {
		id := domain.JobID(*jobID)
		if _, err := st.CleanupStaleWorkers(ctx, id, supervisor.IsAlive); err != nil {
			return fmt.Errorf("cleanup stale workers for job %s: %w", id, err)
		}
		n, err := st.ResetStuckUnits(ctx, id)
		if err != nil {
			return fmt.Errorf("reset stuck units for job %s: %w", id, err)
		}
		logger.Info("reset stuck units", "job_id", id, "count", n)
		return nil
	}

	jobs, err := st.ListJobs(ctx)
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}
	for _, j := range jobs {
		if j.Status != domain.JobRunning {
			continue
		}
		if _, err := st.CleanupStaleWorkers(ctx, j.ID, supervisor.IsAlive); err != nil {
			return fmt.Errorf("cleanup stale workers for job %s: %w", j.ID, err)
		}
		if _, err := st.ResetStuckUnits(ctx, j.ID); err != nil {
			return fmt.Errorf("reset stuck units for job %s: %w", j.ID, err)
		}
	}
	logger.Info("reset complete", "jobs_checked", len(jobs))
	return nil
}
