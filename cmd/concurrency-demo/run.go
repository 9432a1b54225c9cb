package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/concurrentstore/ccmanager/concurrency"
	"github.com/concurrentstore/ccmanager/concurrency/commit"
	"github.com/concurrentstore/ccmanager/concurrency/journal"
	"github.com/concurrentstore/ccmanager/concurrency/store"
	"github.com/concurrentstore/ccmanager/concurrency/txmgr"
	"github.com/concurrentstore/ccmanager/logger"
	"github.com/concurrentstore/ccmanager/stats"
)

type runOptions struct {
	journalPath   string
	writers       int
	writesPerTask int
	verbose       bool
}

func newRunCommand(stdout, stderr io.Writer) *cobra.Command {
	opts := &runOptions{}
	cc := &cobra.Command{
		Use:   "run",
		Short: "Submit a batch of unisolated writes through the manager and report counters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(cmd.Context(), stdout, stderr, opts)
		},
	}
	flags := cc.Flags()
	flags.StringVar(&opts.journalPath, "journal-path", "concurrency-demo.db", "Path to the bbolt journal file.")
	flags.IntVar(&opts.writers, "writers", 20, "Number of concurrent unisolated write tasks to submit.")
	flags.IntVar(&opts.writesPerTask, "writes-per-task", 4, "Number of bitmap entries each write task adds.")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log manager activity to stderr.")
	return cc
}

func runDemo(ctx context.Context, stdout, stderr io.Writer, opts *runOptions) error {
	log := logger.NopLogger
	if opts.verbose {
		log = logger.NewVerboseLogger(stderr)
	}

	st := store.New()
	st.CreateIndex("index/events")

	j, err := journal.Open(journal.Options{
		Path:    opts.journalPath,
		Timeout: 2 * time.Second,
		OnCommit: func(members []commit.Member) {
			touched := map[concurrency.NamedResource]struct{}{}
			for _, m := range members {
				for _, r := range m.Resources {
					touched[concurrency.NamedResource(r)] = struct{}{}
				}
			}
			names := make([]concurrency.NamedResource, 0, len(touched))
			for r := range touched {
				names = append(names, r)
			}
			st.Snapshot(names)
		},
	})
	if err != nil {
		return fmt.Errorf("opening journal: %w", err)
	}
	defer j.Close()

	txm := txmgr.New(st)

	cfg := concurrency.DefaultConfig()
	mgr, err := concurrency.New(cfg, log, stats.NopStatsClient, st, txm, j)
	if err != nil {
		return fmt.Errorf("constructing manager: %w", err)
	}
	defer mgr.Shutdown()

	futures := make([]*concurrency.Future, 0, opts.writers)
	for i := 0; i < opts.writers; i++ {
		i := i
		task := &concurrency.Task{
			Classification: concurrency.UnisolatedWrite,
			Timestamp:      concurrency.CurrentRevision,
			Resources:      []concurrency.NamedResource{"index/events"},
			Run: func(ctx context.Context) (interface{}, error) {
				ids := make([]uint64, opts.writesPerTask)
				for k := range ids {
					ids[k] = uint64(i*opts.writesPerTask + k)
				}
				return st.ApplyWrite("index/events", ids, nil)
			},
		}
		future, err := mgr.Submit(ctx, task)
		if err != nil {
			return fmt.Errorf("submitting task %d: %w", i, err)
		}
		futures = append(futures, future)
	}

	var ok, failed int
	for _, f := range futures {
		if _, err := f.Wait(); err != nil {
			failed++
		} else {
			ok++
		}
	}

	counters := mgr.Counters()
	fmt.Fprintf(stdout, "writes: ok=%d failed=%d\n", ok, failed)
	fmt.Fprintf(stdout, "write pool: submitted=%d completed=%d errors=%d p50=%s p99=%s\n",
		counters.Write.SubmitCount, counters.Write.CompleteCount, counters.Write.ErrorCount,
		counters.Write.P50, counters.Write.P99)
	fmt.Fprintf(stdout, "index/events cardinality: %d\n", cardinalityOf(st, "index/events"))
	return nil
}

func cardinalityOf(st *store.Store, name concurrency.NamedResource) uint64 {
	bm, err := st.ReadAt(name, concurrency.CurrentRevision)
	if err != nil {
		return 0
	}
	return bm.Count()
}
