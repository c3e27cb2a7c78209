package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"slices"
	"strings"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-research/internal/docstore"
	"github.com/sells-group/pharma-research/internal/retrieval"
)

var (
	kbSearchLimit    int
	kbSearchCategory string
	kbWatchDebounce  time.Duration
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Manage the knowledge base",
}

// openKB opens and migrates the configured store. Callers must Close it.
func openKB(ctx context.Context) (docstore.Store, error) {
	if err := cfg.Validate("kb"); err != nil {
		return nil, err
	}
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, eris.New("knowledge base is disabled (store.driver=none)")
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// withKB runs fn against an open store.
func withKB(fn func(ctx context.Context, cmd *cobra.Command, st docstore.Store, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := openKB(ctx)
		if err != nil {
			return err
		}
		defer st.Close()
		return fn(ctx, cmd, st, args)
	}
}

var kbSeedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Load the built-in corpus into an empty knowledge base",
	RunE: withKB(func(ctx context.Context, cmd *cobra.Command, st docstore.Store, _ []string) error {
		n, err := docstore.Seed(ctx, st)
		if err != nil {
			return err
		}
		if n == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "Knowledge base already populated, nothing to do")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Seeded %d passages\n", n)
		return nil
	}),
}

var kbRebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Clear the knowledge base and reseed it",
	RunE: withKB(func(ctx context.Context, cmd *cobra.Command, st docstore.Store, _ []string) error {
		n, err := docstore.Rebuild(ctx, st)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt knowledge base with %d passages\n", n)
		return nil
	}),
}

var kbAddCmd = &cobra.Command{
	Use:   "add <file>...",
	Short: "Chunk and add text or markdown files",
	Args:  cobra.MinimumNArgs(1),
	RunE: withKB(func(ctx context.Context, cmd *cobra.Command, st docstore.Store, args []string) error {
		total := 0
		for _, path := range args {
			if !docstore.Ingestable(path) {
				zap.L().Warn("skipping unsupported file", zap.String("path", path))
				continue
			}
			n, err := docstore.IngestFile(ctx, st, path)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d chunks\n", path, n)
			total += n
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Added %d chunks\n", total)
		return nil
	}),
}

var kbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show document counts by category",
	RunE: withKB(func(ctx context.Context, cmd *cobra.Command, st docstore.Store, _ []string) error {
		return printStats(ctx, cmd.OutOrStdout(), st)
	}),
}

func printStats(ctx context.Context, w io.Writer, st docstore.Store) error {
	n, err := st.Count(ctx)
	if err != nil {
		return err
	}
	cats, err := st.Categories(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Documents: %d\n", n)
	names := make([]string, 0, len(cats))
	for c := range cats {
		names = append(names, c)
	}
	slices.Sort(names)
	for _, c := range names {
		fmt.Fprintf(w, "  %-20s %d\n", c, cats[c])
	}
	return nil
}

var kbSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank knowledge base passages for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: withKB(func(ctx context.Context, cmd *cobra.Command, st docstore.Store, args []string) error {
		r := retrieval.New(st, retrieval.Config{
			UsageThreshold: cfg.Retrieval.UsageThreshold,
			Timeout:        time.Duration(cfg.Retrieval.TimeoutSecs) * time.Second,
		})
		printEvidence(ctx, cmd.OutOrStdout(), r, strings.Join(args, " "), kbSearchLimit, kbSearchCategory)
		return nil
	}),
}

func printEvidence(ctx context.Context, w io.Writer, r *retrieval.Ranker, query string, limit int, category string) {
	for i, e := range r.Search(ctx, query, limit, category) {
		marker := ""
		if e.Synthetic {
			marker = " (fallback)"
		}
		fmt.Fprintf(w, "%d. [%.2f] %s/%s%s\n   %s\n", i+1, e.Score, e.Category, e.Source, marker, e.Snippet(160))
	}
}

var kbWatchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Ingest .txt and .md files as they appear in a directory",
	Args:  cobra.ExactArgs(1),
	RunE: withKB(func(ctx context.Context, cmd *cobra.Command, st docstore.Store, args []string) error {
		w, err := docstore.NewWatcher(st, args[0], kbWatchDebounce)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		w.OnIngest = func(path string, n int, err error) {
			if err != nil {
				fmt.Fprintf(out, "%s: %v\n", path, err)
				return
			}
			fmt.Fprintf(out, "%s: %d chunks\n", path, n)
		}
		return w.Run(ctx)
	}),
}

func init() {
	kbSearchCmd.Flags().IntVarP(&kbSearchLimit, "limit", "n", 5, "maximum results")
	kbSearchCmd.Flags().StringVar(&kbSearchCategory, "category", "", "restrict to one category")
	kbWatchCmd.Flags().DurationVar(&kbWatchDebounce, "debounce", 250*time.Millisecond, "quiet period before a changed file is ingested")

	kbCmd.AddCommand(kbSeedCmd, kbRebuildCmd, kbAddCmd, kbStatsCmd, kbSearchCmd, kbWatchCmd)
	rootCmd.AddCommand(kbCmd)
}
