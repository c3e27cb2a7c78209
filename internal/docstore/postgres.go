package docstore

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// Pool is the subset of pgxpool.Pool used by PostgresStore.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// PostgresStore implements Store using pgxpool. Vectors are stored as
// real[] and ranked in process.
type PostgresStore struct {
	pool    Pool
	embed   Embedder
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig, embed Embedder) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, embed: embed, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	source     TEXT NOT NULL,
	category   TEXT NOT NULL,
	doc_type   TEXT NOT NULL DEFAULT 'reference',
	filename   TEXT NOT NULL DEFAULT '',
	chunk      INTEGER NOT NULL DEFAULT 0,
	embedding  REAL[] NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	vecs, err := embedDocs(ctx, s.embed, docs)
	if err != nil {
		return eris.Wrap(err, "postgres: embed documents")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		m := d.Metadata
		_, err := tx.Exec(ctx,
			`INSERT INTO documents (id, content, source, category, doc_type, filename, chunk, embedding)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (id) DO UPDATE SET content = EXCLUDED.content, source = EXCLUDED.source,
				category = EXCLUDED.category, doc_type = EXCLUDED.doc_type, filename = EXCLUDED.filename,
				chunk = EXCLUDED.chunk, embedding = EXCLUDED.embedding`,
			d.ID, d.Content, m.Source, m.Category, m.Type, m.Filename, m.Chunk, vecs[i],
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert document %s", d.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit")
}

func (s *PostgresStore) Query(ctx context.Context, text string, k int, filter *Filter) ([]Match, error) {
	qv, err := embedOne(ctx, s.embed, text)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: embed query")
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, source, category, doc_type, filename, chunk, embedding
		FROM documents WHERE ($1 = '' OR category = $1)`,
		category(filter),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query documents")
	}
	defer rows.Close()

	var cands []candidate
	for rows.Next() {
		var c candidate
		m := &c.doc.Metadata
		if err := rows.Scan(&c.doc.ID, &c.doc.Content, &m.Source, &m.Category, &m.Type, &m.Filename, &m.Chunk, &c.vec); err != nil {
			return nil, eris.Wrap(err, "postgres: scan document")
		}
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate documents")
	}
	return rank(qv, cands, k), nil
}

func (s *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM documents`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count documents")
}

func (s *PostgresStore) Categories(ctx context.Context) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT category, count(*) FROM documents GROUP BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: categories")
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			cat string
			n   int
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan category")
		}
		out[cat] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate categories")
}

func (s *PostgresStore) DeleteFile(ctx context.Context, filename string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE source = $1 AND filename = $2`, UploadSource, filename)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres: delete file %s", filename)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE documents`)
	return eris.Wrap(err, "postgres: reset")
}
