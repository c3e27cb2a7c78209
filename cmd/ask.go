package main

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-research/internal/llm"
	"github.com/sells-group/pharma-research/internal/retrieval"
)

const askSystem = "You are a pharmaceutical research assistant. Answer using only the provided sources. Cite them as [Source N]. Say so when the sources do not cover the question."

var askSources int

var askCmd = &cobra.Command{
	Use:   "ask <question>",
	Short: "Answer a question grounded in the knowledge base",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "ask")
		if err != nil {
			return err
		}
		defer env.Close()

		return answer(ctx, cmd.OutOrStdout(), env.Ranker, env.LLM, strings.Join(args, " "), askSources)
	},
}

// answer streams a grounded answer to w. Without a completer, or when the
// stream fails before producing text, it prints the retrieved sources.
func answer(ctx context.Context, w io.Writer, r *retrieval.Ranker, c llm.Completer, question string, sources int) error {
	sourceText := r.ContextFor(ctx, question, sources)

	if !c.Available() {
		return digest(w, sourceText)
	}

	prompt := fmt.Sprintf("Sources:\n%s\n\nQuestion: %s", cmp.Or(sourceText, "(no relevant sources found)"), question)
	wrote := false
	for chunk, err := range c.Stream(ctx, llm.Request{System: askSystem, Prompt: prompt, Step: "ask"}) {
		if err != nil {
			if !wrote {
				zap.L().Warn("ask: stream failed, showing sources", zap.Error(err))
				return digest(w, sourceText)
			}
			fmt.Fprintln(w)
			return eris.Wrap(err, "ask: stream")
		}
		if _, err := io.WriteString(w, chunk); err != nil {
			return eris.Wrap(err, "ask: write")
		}
		wrote = wrote || chunk != ""
	}
	fmt.Fprintln(w)
	return nil
}

func digest(w io.Writer, sourceText string) error {
	if sourceText == "" {
		_, err := fmt.Fprintln(w, "No relevant passages found in the knowledge base.")
		return err
	}
	_, err := fmt.Fprintf(w, "Generative answers are unavailable. Most relevant passages:\n\n%s\n", sourceText)
	return err
}

func init() {
	askCmd.Flags().IntVarP(&askSources, "sources", "n", 5, "number of knowledge base passages to ground on")
	rootCmd.AddCommand(askCmd)
}
