package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/genomeforge/engine/internal/batch"
	"github.com/genomeforge/engine/internal/config"
	"github.com/genomeforge/engine/internal/genome"
	"github.com/genomeforge/engine/internal/match"
)

func newBatchCmd() *cobra.Command {
	var (
		concurrency     int
		maxRetries      int
		timeout         time.Duration
		continueOnError bool
		priority        string
		dbDir           string
	)

	cmd := &cobra.Command{
		Use:   "batch <file>...",
		Short: "Analyze multiple genotype files concurrently",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			// Flags win over ~/.genomeforge.yaml, which wins over the
			// environment-derived config.
			if concurrency == 0 {
				concurrency = configuredInt("batch.concurrency", 0)
			}
			if concurrency > 0 {
				cfg.Concurrency = concurrency
			}
			if cmd.Flags().Changed("retries") {
				cfg.MaxRetries = maxRetries
			} else {
				cfg.MaxRetries = configuredInt("batch.retries", cfg.MaxRetries)
			}
			if timeout == 0 {
				timeout = configuredDuration("batch.timeout", 0)
			}
			if timeout > 0 {
				cfg.JobTimeout = timeout
			}

			lookup, cleanup, err := buildLookup(cfg, dbDir)
			if err != nil {
				return err
			}
			defer cleanup()

			matcher := match.NewMatcher(lookup)
			matcher.SetLogger(logger)

			return runBatch(cmd.Context(), cfg, matcher, args, continueOnError, batch.Priority(priority))
		},
	}

	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "concurrent jobs (default from config)")
	cmd.Flags().IntVar(&maxRetries, "retries", 2, "retries per failed job")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "per-job timeout (default from config)")
	cmd.Flags().BoolVar(&continueOnError, "continue-on-error", true, "keep the batch going when a job fails")
	cmd.Flags().StringVar(&priority, "priority", string(batch.PriorityNormal), "job priority: low, normal, high or urgent")
	cmd.Flags().StringVar(&dbDir, "db-dir", "", "DuckDB file with custom annotation databases")

	return cmd
}

func runBatch(ctx context.Context, cfg *config.Config, matcher *match.Matcher, files []string, continueOnError bool, priority batch.Priority) error {
	process := func(ctx context.Context, job batch.Job, progress func(int)) (*batch.Result, error) {
		opts := genome.DefaultParseOptions()
		opts.Progress = func(u genome.ProgressUpdate) {
			// Parsing maps to the first half of the job's progress range.
			if u.Phase == genome.PhaseComplete {
				progress(50)
			}
		}
		g, err := genome.ParseFile(job.FileRef, opts)
		if err != nil {
			return nil, err
		}
		progress(60)

		res, err := matcher.Match(ctx, g)
		if err != nil {
			return nil, err
		}
		progress(100)

		return &batch.Result{
			Variants: g.Stats.ParsedVariants,
			Findings: len(res.Variants),
			Duration: res.Duration,
			Detail:   res,
		}, nil
	}

	p, err := batch.New(batch.Config{
		Process:         process,
		Concurrency:     cfg.Concurrency,
		JobTimeout:      cfg.JobTimeout,
		MaxRetries:      cfg.MaxRetries,
		RetryDelay:      cfg.RetryDelay,
		ContinueOnError: continueOnError,
	})
	if err != nil {
		return err
	}
	defer p.Close()
	p.SetLogger(logger)

	p.Subscribe(func(e batch.Event) {
		switch e.Type {
		case batch.EventJobStarted:
			if job, ok := p.Job(e.JobID); ok {
				fmt.Fprintf(os.Stderr, "started  %s\n", job.FileRef)
			}
		case batch.EventJobCompleted:
			if job, ok := p.Job(e.JobID); ok && job.Result != nil {
				fmt.Fprintf(os.Stderr, "done     %s: %d variants, %d findings\n",
					job.FileRef, job.Result.Variants, job.Result.Findings)
			}
		case batch.EventJobRetrying:
			fmt.Fprintf(os.Stderr, "retrying %s: %v\n", e.JobID, e.Err)
		case batch.EventJobFailed:
			if job, ok := p.Job(e.JobID); ok {
				fmt.Fprintf(os.Stderr, "failed   %s: %v\n", job.FileRef, e.Err)
			}
		}
	})

	batchID, err := p.CreateBatch(files, priority)
	if err != nil {
		return err
	}

	// Cancel the batch if the command context ends first.
	watchDone := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = p.CancelBatch(batchID)
		case <-watchDone:
		}
	}()

	status, err := p.Wait(batchID)
	close(watchDone)
	if err != nil {
		return err
	}

	if summary, ok := p.Summary(batchID); ok {
		fmt.Printf("\nBatch %s: %s\n", batchID, status)
		fmt.Printf("  jobs:      %d (%d complete, %d failed, %d cancelled)\n",
			summary.Total,
			summary.Counts[batch.StatusComplete],
			summary.Counts[batch.StatusFailed],
			summary.Counts[batch.StatusCancelled])
		fmt.Printf("  variants:  %d\n", summary.TotalVariants)
		fmt.Printf("  findings:  %d\n", summary.TotalFindings)
		fmt.Printf("  elapsed:   %s\n", summary.Elapsed.Round(time.Millisecond))
	}

	if status != batch.BatchComplete {
		return fmt.Errorf("batch finished with status %s", status)
	}
	return nil
}
