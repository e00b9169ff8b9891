// Package journal keeps an append-only SQLite history of client sessions:
// the rendered expression, its outcome and timing. The received message,
// tables included, is stored only when the journal is opened with
// KeepPayloads.
package journal

import (
	"context"
	"database/sql"
	"time"

	"github.com/cockroachdb/errors"

	_ "github.com/mattn/go-sqlite3"
)

const codecJSONV1 = "json-v1"

// Outcome of a session.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailure   Outcome = "failure"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeError     Outcome = "error"
)

type Entry struct {
	Seq        int64
	SessionID  string
	Expression string
	Outcome    Outcome
	// ResultName and ResultRows describe a successful result.
	ResultName string
	ResultRows int
	Problem    string
	Tasks      int
	StartedAt  time.Time
	Duration   time.Duration
	// Payload is the expression message as received. Record drops it
	// unless the journal keeps payloads.
	Payload []byte
}

var (
	ErrNotFound  = errors.New("journal entry not found")
	ErrNoPayload = errors.New("journal entry has no stored payload")
)

type Journal struct {
	db           *sql.DB
	insertStmt   *sql.Stmt
	keepPayloads bool
}

type Option func(*Journal)

// KeepPayloads stores the full expression message, argument tables
// included, with every entry.
func KeepPayloads() Option {
	return func(j *Journal) { j.keepPayloads = true }
}

func Open(path string, opts ...Option) (*Journal, error) {
	if path == "" {
		return nil, errors.New("journal sqlite path is empty")
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite journal")
	}

	j := &Journal{db: db}
	for _, o := range opts {
		o(j)
	}
	if err := j.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	stmt, err := db.Prepare(`INSERT INTO sessions(
	session_id, expression, outcome, result_name, result_rows, problem, tasks,
	started_at_unix_ms, duration_ms, codec, payload
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "prepare journal insert")
	}
	j.insertStmt = stmt
	return j, nil
}

func (j *Journal) init() error {
	pragmas := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA temp_store=MEMORY;`,
	}
	for _, p := range pragmas {
		if _, err := j.db.Exec(p); err != nil {
			return errors.Wrapf(err, "sqlite pragma failed (%s)", p)
		}
	}

	_, err := j.db.Exec(`
CREATE TABLE IF NOT EXISTS sessions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	expression TEXT NOT NULL,
	outcome TEXT NOT NULL,
	result_name TEXT NOT NULL,
	result_rows INTEGER NOT NULL,
	problem TEXT NOT NULL,
	tasks INTEGER NOT NULL,
	started_at_unix_ms INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL,
	codec TEXT NOT NULL,
	payload BLOB
);
CREATE INDEX IF NOT EXISTS idx_sessions_started_at ON sessions(started_at_unix_ms);
`)
	if err != nil {
		return errors.Wrap(err, "create journal schema")
	}
	return nil
}

// Record appends one entry.
func (j *Journal) Record(ctx context.Context, e Entry) error {
	if j == nil || j.db == nil {
		return errors.New("journal is nil")
	}
	var payload []byte
	if j.keepPayloads {
		payload = e.Payload
	}
	_, err := j.insertStmt.ExecContext(ctx,
		e.SessionID, e.Expression, string(e.Outcome), e.ResultName, e.ResultRows, e.Problem, e.Tasks,
		e.StartedAt.UnixMilli(), e.Duration.Milliseconds(), codecJSONV1, payload,
	)
	return errors.Wrap(err, "append journal entry")
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("journal is nil")
	}
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx, `
SELECT seq, session_id, expression, outcome, result_name, result_rows, problem, tasks,
	started_at_unix_ms, duration_ms
FROM sessions ORDER BY seq DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query journal")
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		var startedMS, durationMS int64
		if err := rows.Scan(&e.Seq, &e.SessionID, &e.Expression, &outcome, &e.ResultName, &e.ResultRows,
			&e.Problem, &e.Tasks, &startedMS, &durationMS); err != nil {
			return nil, errors.Wrap(err, "scan journal row")
		}
		e.Outcome = Outcome(outcome)
		e.StartedAt = time.UnixMilli(startedMS)
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate journal rows")
	}
	return out, nil
}

// Payload returns the stored expression message of entry seq. It returns
// ErrNotFound for an unknown seq and ErrNoPayload if none was kept.
func (j *Journal) Payload(ctx context.Context, seq int64) ([]byte, error) {
	if j == nil || j.db == nil {
		return nil, errors.New("journal is nil")
	}
	var codec string
	var payload []byte
	err := j.db.QueryRowContext(ctx, `SELECT codec, payload FROM sessions WHERE seq = ?`, seq).Scan(&codec, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "seq %d", seq)
	}
	if err != nil {
		return nil, errors.Wrap(err, "load journal payload")
	}
	if codec != codecJSONV1 {
		return nil, errors.Newf("unknown journal codec: %s", codec)
	}
	if payload == nil {
		return nil, errors.Wrapf(ErrNoPayload, "seq %d", seq)
	}
	return payload, nil
}

func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	if j.insertStmt != nil {
		_ = j.insertStmt.Close()
	}
	if j.db != nil {
		return j.db.Close()
	}
	return nil
}
