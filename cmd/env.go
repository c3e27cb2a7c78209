package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/pharma-research/internal/config"
	"github.com/sells-group/pharma-research/internal/content"
	"github.com/sells-group/pharma-research/internal/docstore"
	"github.com/sells-group/pharma-research/internal/extract"
	"github.com/sells-group/pharma-research/internal/llm"
	"github.com/sells-group/pharma-research/internal/pipeline"
	"github.com/sells-group/pharma-research/internal/progress"
	"github.com/sells-group/pharma-research/internal/retrieval"
	"github.com/sells-group/pharma-research/internal/step"
	"github.com/sells-group/pharma-research/pkg/gemini"
)

// appEnv holds everything the analyze, serve, kb and ask commands share.
type appEnv struct {
	Store     docstore.Store // nil when the knowledge base is disabled
	Ranker    *retrieval.Ranker
	LLM       llm.Completer
	Catalog   *content.Catalog
	Progress  *progress.Broadcaster
	Scheduler *pipeline.Scheduler
}

// Close stops running jobs and releases the store.
func (e *appEnv) Close() {
	e.Scheduler.Close()
	e.Progress.Close()
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens the knowledge base, seeds it when configured, builds the
// completer and wires the scheduler. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}

	if st != nil {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		if cfg.Store.SeedOnStart {
			if _, err := docstore.Seed(ctx, st); err != nil {
				zap.L().Warn("knowledge base seed failed, continuing", zap.Error(err))
			}
		}
	} else {
		zap.L().Warn("knowledge base disabled, retrieval will use fallback evidence")
	}

	completer, err := llm.FromConfig(ctx, cfg)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, eris.Wrap(err, "init completer")
	}

	return newAppEnv(cfg, st, completer), nil
}

// newAppEnv assembles the pipeline around an opened store and completer.
func newAppEnv(c *config.Config, st docstore.Store, completer llm.Completer) *appEnv {
	ranker := retrieval.New(st, retrieval.Config{
		UsageThreshold:   c.Retrieval.UsageThreshold,
		SubjectThreshold: c.Retrieval.SubjectThreshold,
		SubjectLimit:     c.Retrieval.SubjectLimit,
		Timeout:          time.Duration(c.Retrieval.TimeoutSecs) * time.Second,
	})
	catalog := content.MustLoad()
	b := progress.New()

	tasks := step.Standard(step.Deps{
		Ranker:    ranker,
		Extractor: extract.New(completer, time.Duration(c.LLM.TimeoutSecs)*time.Second),
		Catalog:   catalog,
		LLM:       completer,
	})
	sched := pipeline.New(tasks, b, catalog, pipeline.Config{
		JobTimeout:  time.Duration(c.Pipeline.JobTimeoutSecs) * time.Second,
		MaxParallel: c.Pipeline.MaxParallelSteps,
	})

	zap.L().Info("pipeline ready",
		zap.Bool("knowledge_base", ranker.Available()),
		zap.Bool("generative", completer.Available()),
	)

	return &appEnv{
		Store:     st,
		Ranker:    ranker,
		LLM:       completer,
		Catalog:   catalog,
		Progress:  b,
		Scheduler: sched,
	}
}

// initStore opens the configured document store. The "none" driver
// returns a nil store.
func initStore(ctx context.Context) (docstore.Store, error) {
	if cfg.Store.Driver == "none" {
		return nil, nil
	}

	embed, err := initEmbedder(ctx)
	if err != nil {
		return nil, err
	}

	switch cfg.Store.Driver {
	case "sqlite":
		return docstore.NewSQLite(cfg.Store.DatabaseURL, embed)
	case "postgres":
		return docstore.NewPostgres(ctx, cfg.Store.DatabaseURL, nil, embed)
	case "memory":
		return docstore.NewMemory(embed), nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initEmbedder(ctx context.Context) (docstore.Embedder, error) {
	switch cfg.Embedding.Provider {
	case "gemini":
		client, err := gemini.NewClient(ctx, cfg.Gemini.Key)
		if err != nil {
			return nil, eris.Wrap(err, "init gemini embeddings")
		}
		return docstore.NewGeminiEmbedder(client, cfg.Gemini.EmbeddingModel, cfg.Embedding.Dimensions), nil
	default:
		return docstore.NewHashEmbedder(cfg.Embedding.Dimensions), nil
	}
}
