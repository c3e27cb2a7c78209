package docstore

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Ingestable reports whether a file is plain text the store accepts.
func Ingestable(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md":
		return true
	}
	return false
}

// IngestFile chunks a text file and stores the pieces as user uploads,
// replacing any chunks an earlier version of the file left behind.
func IngestFile(ctx context.Context, s Store, path string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, eris.Wrapf(err, "docstore: read %s", path)
	}
	return ReplaceFile(ctx, s, path, string(raw))
}

// ReplaceFile drops the stored chunks of filename and adds text in their
// place. Empty text leaves the file removed.
func ReplaceFile(ctx context.Context, s Store, filename, text string) (int, error) {
	docs := ChunkDocuments(filename, text, DefaultChunkSize, DefaultChunkOverlap)
	removed, err := s.DeleteFile(ctx, filepath.Base(filename))
	if err != nil {
		return 0, eris.Wrapf(err, "docstore: replace %s", filename)
	}
	if removed > 0 {
		zap.L().Debug("docstore: dropped previous chunks", zap.String("file", filename), zap.Int("chunks", removed))
	}
	if len(docs) == 0 {
		return 0, nil
	}
	if err := s.Add(ctx, docs); err != nil {
		return 0, eris.Wrapf(err, "docstore: ingest %s", filename)
	}
	return len(docs), nil
}

// Watcher ingests text files as they are created or rewritten in a
// directory.
type Watcher struct {
	store    Store
	dir      string
	fs       *fsnotify.Watcher
	debounce time.Duration

	// OnIngest, when set, is called after each ingest attempt.
	OnIngest func(path string, n int, err error)
}

// NewWatcher returns a Watcher for dir. Call Run to start it.
func NewWatcher(s Store, dir string, debounce time.Duration) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "docstore: create watcher")
	}
	if debounce <= 0 {
		debounce = 250 * time.Millisecond
	}
	return &Watcher{store: s, dir: dir, fs: fsw, debounce: debounce}, nil
}

// Run watches until ctx is done. It closes the underlying watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fs.Close()

	if err := w.fs.Add(w.dir); err != nil {
		return eris.Wrapf(err, "docstore: watch %s", w.dir)
	}
	zap.L().Info("docstore: watching directory", zap.String("dir", w.dir))

	// Editors emit several events per save; wait for a quiet period.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !Ingestable(ev.Name) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				pending[ev.Name] = time.Now()
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			zap.L().Warn("docstore: watcher error", zap.Error(err))

		case <-ticker.C:
			now := time.Now()
			for path, at := range pending {
				if now.Sub(at) < w.debounce {
					continue
				}
				delete(pending, path)
				w.ingest(ctx, path)
			}
		}
	}
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	n, err := IngestFile(ctx, w.store, path)
	if err != nil {
		zap.L().Error("docstore: ingest failed", zap.String("path", path), zap.Error(err))
	} else {
		zap.L().Info("docstore: ingested file", zap.String("path", path), zap.Int("chunks", n))
	}
	if w.OnIngest != nil {
		w.OnIngest(path, n, err)
	}
}
