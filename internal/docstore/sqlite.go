package docstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"math"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store using modernc.org/sqlite. Vectors are stored
// as little-endian float32 blobs and ranked in process.
type SQLiteStore struct {
	db    *sql.DB
	embed Embedder
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string, embed Embedder) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db, embed: embed}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS documents (
	id         TEXT PRIMARY KEY,
	content    TEXT NOT NULL,
	source     TEXT NOT NULL,
	category   TEXT NOT NULL,
	doc_type   TEXT NOT NULL DEFAULT 'reference',
	filename   TEXT NOT NULL DEFAULT '',
	chunk      INTEGER NOT NULL DEFAULT 0,
	embedding  BLOB NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Add(ctx context.Context, docs []Document) error {
	if len(docs) == 0 {
		return nil
	}
	vecs, err := embedDocs(ctx, s.embed, docs)
	if err != nil {
		return eris.Wrap(err, "sqlite: embed documents")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO documents
		(id, content, source, category, doc_type, filename, chunk, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert")
	}
	defer stmt.Close()

	for i, d := range docs {
		if d.ID == "" {
			d.ID = uuid.New().String()
		}
		m := d.Metadata
		if _, err := stmt.ExecContext(ctx, d.ID, d.Content, m.Source, m.Category, m.Type, m.Filename, m.Chunk, encodeVector(vecs[i])); err != nil {
			return eris.Wrapf(err, "sqlite: insert document %s", d.ID)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) Query(ctx context.Context, text string, k int, filter *Filter) ([]Match, error) {
	qv, err := embedOne(ctx, s.embed, text)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: embed query")
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, source, category, doc_type, filename, chunk, embedding
		FROM documents WHERE (? = '' OR category = ?)`,
		category(filter), category(filter),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query documents")
	}
	defer rows.Close()

	var cands []candidate
	for rows.Next() {
		var (
			c    candidate
			blob []byte
		)
		m := &c.doc.Metadata
		if err := rows.Scan(&c.doc.ID, &c.doc.Content, &m.Source, &m.Category, &m.Type, &m.Filename, &m.Chunk, &blob); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan document")
		}
		c.vec = decodeVector(blob)
		cands = append(cands, c)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate documents")
	}
	return rank(qv, cands, k), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count documents")
}

func (s *SQLiteStore) Categories(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT category, count(*) FROM documents GROUP BY category`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: categories")
	}
	defer rows.Close()

	out := map[string]int{}
	for rows.Next() {
		var (
			cat string
			n   int
		)
		if err := rows.Scan(&cat, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan category")
		}
		out[cat] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate categories")
}

func (s *SQLiteStore) DeleteFile(ctx context.Context, filename string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE source = ? AND filename = ?`, UploadSource, filename)
	if err != nil {
		return 0, eris.Wrapf(err, "sqlite: delete file %s", filename)
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) Reset(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents`)
	return eris.Wrap(err, "sqlite: reset")
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(b []byte) []float32 {
	out := make([]float32, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out
}
