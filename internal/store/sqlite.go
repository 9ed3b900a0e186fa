package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/quorumlabs/quorum/internal/fault"
)

// SQLiteStore implements Store using modernc.org/sqlite (pure-Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens or creates a SQLite database at the given DSN.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// WAL for read concurrency, busy timeout for writer contention, and
	// foreign keys so cascade deletes actually cascade.
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000; PRAGMA foreign_keys=ON;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite pragmas: %w", err)
	}
	// SQLite only supports one writer at a time. Limit connections to avoid
	// contention and keep a small idle pool for read concurrency.
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)
	return &SQLiteStore{db: db}, nil
}

// DB returns the underlying sql.DB handle.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'active',
			protocol TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_threads_status_created ON threads(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			round INTEGER NOT NULL,
			state TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL,
			UNIQUE(thread_id, round)
		)`,
		`CREATE TABLE IF NOT EXISTS contributions (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL REFERENCES turns(id) ON DELETE CASCADE,
			model_ref TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			latency_ms REAL NOT NULL DEFAULT 0,
			framing TEXT NOT NULL DEFAULT '',
			sycophantic INTEGER NOT NULL DEFAULT 0,
			truncated INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contributions_turn ON contributions(turn_id)`,
		`CREATE TABLE IF NOT EXISTS decisions (
			turn_id TEXT PRIMARY KEY REFERENCES turns(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			rigor REAL NOT NULL,
			confidence REAL NOT NULL,
			dissent TEXT NOT NULL DEFAULT '',
			intent TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT '',
			genus TEXT NOT NULL DEFAULT '',
			complexity TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		// Outcomes are append-only and detach (thread_id set NULL) rather
		// than cascading when a thread is deleted.
		`CREATE TABLE IF NOT EXISTS outcomes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			thread_id TEXT REFERENCES threads(id) ON DELETE SET NULL,
			result TEXT NOT NULL,
			notes TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS votes (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			model_ref TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			input_tokens INTEGER NOT NULL DEFAULT 0,
			output_tokens INTEGER NOT NULL DEFAULT 0,
			cost_usd REAL NOT NULL DEFAULT 0,
			selected INTEGER NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS subtasks (
			id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
			label TEXT NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			depends_on TEXT NOT NULL DEFAULT '[]',
			result TEXT NOT NULL DEFAULT '',
			cost_usd REAL NOT NULL DEFAULT 0,
			created_at TEXT NOT NULL,
			UNIQUE(thread_id, label)
		)`,
		`CREATE TABLE IF NOT EXISTS turn_summaries (
			turn_id TEXT PRIMARY KEY REFERENCES turns(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			model_ref TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thread_summaries (
			thread_id TEXT PRIMARY KEY REFERENCES threads(id) ON DELETE CASCADE,
			content TEXT NOT NULL,
			model_ref TEXT NOT NULL DEFAULT '',
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vault_blob (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			salt BLOB NOT NULL,
			data TEXT NOT NULL DEFAULT '{}'
		)`,
	}
	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return fault.Wrap(fault.KindStorage, fmt.Errorf("migrate: %w", err))
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func ts(t time.Time) string {
	if t.IsZero() {
		t = time.Now().UTC()
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTS(v string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, v)
	return t
}

func storageErr(err error) error {
	if err == nil {
		return nil
	}
	return fault.Wrap(fault.KindStorage, err)
}

// Threads

func (s *SQLiteStore) CreateThread(ctx context.Context, t ThreadRecord) error {
	if t.Status == "" {
		t.Status = ThreadActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO threads (id, question, status, protocol, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.Question, t.Status, t.Protocol, ts(t.CreatedAt))
	return storageErr(err)
}

func (s *SQLiteStore) SetThreadStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE threads SET status = ? WHERE id = ?`, status, id)
	return storageErr(err)
}

func (s *SQLiteStore) SetThreadProtocol(ctx context.Context, id, protocol string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE threads SET protocol = ? WHERE id = ?`, protocol, id)
	return storageErr(err)
}

func (s *SQLiteStore) GetThread(ctx context.Context, id string) (*ThreadRecord, error) {
	var t ThreadRecord
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, question, status, protocol, created_at FROM threads WHERE id = ?`, id).
		Scan(&t.ID, &t.Question, &t.Status, &t.Protocol, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	t.CreatedAt = parseTS(created)
	return &t, nil
}

// Turns

func (s *SQLiteStore) CreateTurn(ctx context.Context, t TurnRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turns (id, thread_id, round, state, created_at) VALUES (?, ?, ?, ?, ?)`,
		t.ID, t.ThreadID, t.Round, t.State, ts(t.CreatedAt))
	return storageErr(err)
}

func (s *SQLiteStore) SetTurnState(ctx context.Context, id, state string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE turns SET state = ? WHERE id = ?`, state, id)
	return storageErr(err)
}

// Contributions / decisions / outcomes / votes / subtasks

func (s *SQLiteStore) AddContribution(ctx context.Context, c ContributionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO contributions (id, turn_id, model_ref, role, content, input_tokens, output_tokens,
		 cost_usd, latency_ms, framing, sycophantic, truncated, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TurnID, c.ModelRef, c.Role, c.Content, c.InputTokens, c.OutputTokens,
		c.CostUSD, c.LatencyMs, c.Framing, boolInt(c.Sycophantic), boolInt(c.Truncated), ts(c.CreatedAt))
	return storageErr(err)
}

func (s *SQLiteStore) SaveDecision(ctx context.Context, d DecisionRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions (turn_id, content, rigor, confidence, dissent, intent, category, genus, complexity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.TurnID, d.Content, d.Rigor, d.Confidence, d.Dissent, d.Intent, d.Category, d.Genus, d.Complexity, ts(d.CreatedAt))
	return storageErr(err)
}

func (s *SQLiteStore) SaveOutcome(ctx context.Context, o OutcomeRecord) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (thread_id, result, notes, created_at) VALUES (?, ?, ?, ?)`,
		o.ThreadID, o.Result, o.Notes, ts(o.CreatedAt))
	if err != nil {
		return 0, storageErr(err)
	}
	id, err := res.LastInsertId()
	return id, storageErr(err)
}

func (s *SQLiteStore) SaveVote(ctx context.Context, v VoteRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO votes (id, thread_id, model_ref, content, input_tokens, output_tokens, cost_usd, selected, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		v.ID, v.ThreadID, v.ModelRef, v.Content, v.InputTokens, v.OutputTokens, v.CostUSD, boolInt(v.Selected), ts(v.CreatedAt))
	return storageErr(err)
}

// MarkVoteSelected flips one persisted ballot to selected once the judge has
// picked a winner.
func (s *SQLiteStore) MarkVoteSelected(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE votes SET selected = 1 WHERE id = ?`, id)
	return storageErr(err)
}

func (s *SQLiteStore) SaveSubtask(ctx context.Context, st SubtaskRecord) error {
	deps, err := json.Marshal(st.DependsOn)
	if err != nil {
		return storageErr(err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO subtasks (id, thread_id, label, description, depends_on, result, cost_usd, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		st.ID, st.ThreadID, st.Label, st.Description, string(deps), st.Result, st.CostUSD, ts(st.CreatedAt))
	return storageErr(err)
}

// Summaries (regenerated, not appended)

func (s *SQLiteStore) UpsertTurnSummary(ctx context.Context, sum SummaryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO turn_summaries (turn_id, content, model_ref, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(turn_id) DO UPDATE SET content=excluded.content, model_ref=excluded.model_ref, updated_at=excluded.updated_at`,
		sum.OwnerID, sum.Content, sum.ModelRef, ts(sum.UpdatedAt))
	return storageErr(err)
}

func (s *SQLiteStore) UpsertThreadSummary(ctx context.Context, sum SummaryRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO thread_summaries (thread_id, content, model_ref, updated_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(thread_id) DO UPDATE SET content=excluded.content, model_ref=excluded.model_ref, updated_at=excluded.updated_at`,
		sum.OwnerID, sum.Content, sum.ModelRef, ts(sum.UpdatedAt))
	return storageErr(err)
}

// Reads

func (s *SQLiteStore) GetThreadWithHistory(ctx context.Context, id string) (*ThreadHistory, error) {
	thread, err := s.GetThread(ctx, id)
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, nil
	}
	h := &ThreadHistory{Thread: *thread}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, round, state, created_at FROM turns WHERE thread_id = ? ORDER BY round`, id)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var t TurnRecord
		var created string
		if err := rows.Scan(&t.ID, &t.ThreadID, &t.Round, &t.State, &created); err != nil {
			return nil, storageErr(err)
		}
		t.CreatedAt = parseTS(created)
		h.Turns = append(h.Turns, TurnHistory{Turn: t})
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr(err)
	}

	for i := range h.Turns {
		th := &h.Turns[i]
		if th.Contributions, err = s.listContributions(ctx, th.Turn.ID); err != nil {
			return nil, err
		}
		if th.Decision, err = s.getDecision(ctx, th.Turn.ID); err != nil {
			return nil, err
		}
		if th.Summary, err = s.getSummary(ctx, `SELECT turn_id, content, model_ref, updated_at FROM turn_summaries WHERE turn_id = ?`, th.Turn.ID); err != nil {
			return nil, err
		}
	}

	if h.Summary, err = s.getSummary(ctx, `SELECT thread_id, content, model_ref, updated_at FROM thread_summaries WHERE thread_id = ?`, id); err != nil {
		return nil, err
	}
	if h.Votes, err = s.listVotes(ctx, id); err != nil {
		return nil, err
	}
	if h.Subtasks, err = s.listSubtasks(ctx, id); err != nil {
		return nil, err
	}
	if h.Outcomes, err = s.listOutcomes(ctx, id); err != nil {
		return nil, err
	}
	return h, nil
}

func (s *SQLiteStore) listContributions(ctx context.Context, turnID string) ([]ContributionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, model_ref, role, content, input_tokens, output_tokens, cost_usd, latency_ms,
		 framing, sycophantic, truncated, created_at
		 FROM contributions WHERE turn_id = ? ORDER BY created_at`, turnID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()

	var out []ContributionRecord
	for rows.Next() {
		var c ContributionRecord
		var created string
		var syco, trunc int
		if err := rows.Scan(&c.ID, &c.TurnID, &c.ModelRef, &c.Role, &c.Content, &c.InputTokens, &c.OutputTokens,
			&c.CostUSD, &c.LatencyMs, &c.Framing, &syco, &trunc, &created); err != nil {
			return nil, storageErr(err)
		}
		c.Sycophantic = syco != 0
		c.Truncated = trunc != 0
		c.CreatedAt = parseTS(created)
		out = append(out, c)
	}
	return out, storageErr(rows.Err())
}

func (s *SQLiteStore) getDecision(ctx context.Context, turnID string) (*DecisionRecord, error) {
	var d DecisionRecord
	var created string
	err := s.db.QueryRowContext(ctx,
		`SELECT turn_id, content, rigor, confidence, dissent, intent, category, genus, complexity, created_at
		 FROM decisions WHERE turn_id = ?`, turnID).
		Scan(&d.TurnID, &d.Content, &d.Rigor, &d.Confidence, &d.Dissent, &d.Intent, &d.Category, &d.Genus, &d.Complexity, &created)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	d.CreatedAt = parseTS(created)
	return &d, nil
}

func (s *SQLiteStore) getSummary(ctx context.Context, query, ownerID string) (*SummaryRecord, error) {
	var sum SummaryRecord
	var updated string
	err := s.db.QueryRowContext(ctx, query, ownerID).Scan(&sum.OwnerID, &sum.Content, &sum.ModelRef, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr(err)
	}
	sum.UpdatedAt = parseTS(updated)
	return &sum, nil
}

func (s *SQLiteStore) listVotes(ctx context.Context, threadID string) ([]VoteRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, model_ref, content, input_tokens, output_tokens, cost_usd, selected, created_at
		 FROM votes WHERE thread_id = ? ORDER BY created_at`, threadID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()

	var out []VoteRecord
	for rows.Next() {
		var v VoteRecord
		var created string
		var selected int
		if err := rows.Scan(&v.ID, &v.ThreadID, &v.ModelRef, &v.Content, &v.InputTokens, &v.OutputTokens,
			&v.CostUSD, &selected, &created); err != nil {
			return nil, storageErr(err)
		}
		v.Selected = selected != 0
		v.CreatedAt = parseTS(created)
		out = append(out, v)
	}
	return out, storageErr(rows.Err())
}

func (s *SQLiteStore) listSubtasks(ctx context.Context, threadID string) ([]SubtaskRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, label, description, depends_on, result, cost_usd, created_at
		 FROM subtasks WHERE thread_id = ? ORDER BY created_at`, threadID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()

	var out []SubtaskRecord
	for rows.Next() {
		var st SubtaskRecord
		var created, deps string
		if err := rows.Scan(&st.ID, &st.ThreadID, &st.Label, &st.Description, &deps, &st.Result, &st.CostUSD, &created); err != nil {
			return nil, storageErr(err)
		}
		if err := json.Unmarshal([]byte(deps), &st.DependsOn); err != nil {
			return nil, storageErr(err)
		}
		st.CreatedAt = parseTS(created)
		out = append(out, st)
	}
	return out, storageErr(rows.Err())
}

func (s *SQLiteStore) listOutcomes(ctx context.Context, threadID string) ([]OutcomeRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, result, notes, created_at FROM outcomes WHERE thread_id = ? ORDER BY created_at`, threadID)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	return scanOutcomes(rows)
}

func scanOutcomes(rows *sql.Rows) ([]OutcomeRecord, error) {
	var out []OutcomeRecord
	for rows.Next() {
		var o OutcomeRecord
		var created string
		var threadID sql.NullString
		if err := rows.Scan(&o.ID, &threadID, &o.Result, &o.Notes, &created); err != nil {
			return nil, storageErr(err)
		}
		o.ThreadID = threadID.String
		o.CreatedAt = parseTS(created)
		out = append(out, o)
	}
	return out, storageErr(rows.Err())
}

// ThreadCost sums the cost of every contribution and vote in a thread.
func (s *SQLiteStore) ThreadCost(ctx context.Context, id string) (float64, error) {
	var contribCost, voteCost float64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(c.cost_usd), 0) FROM contributions c
		 JOIN turns t ON c.turn_id = t.id WHERE t.thread_id = ?`, id).Scan(&contribCost)
	if err != nil {
		return 0, storageErr(err)
	}
	err = s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(cost_usd), 0) FROM votes WHERE thread_id = ?`, id).Scan(&voteCost)
	if err != nil {
		return 0, storageErr(err)
	}
	return contribCost + voteCost, nil
}

// ListRecentDecisions returns the newest decisions from completed threads,
// newest first, for context building.
func (s *SQLiteStore) ListRecentDecisions(ctx context.Context, limit int) ([]RecalledDecision, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT th.id, th.question, d.content, d.confidence, d.dissent, d.created_at
		 FROM decisions d
		 JOIN turns t ON d.turn_id = t.id
		 JOIN threads th ON t.thread_id = th.id
		 WHERE th.status = 'complete'
		 ORDER BY d.created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()

	var out []RecalledDecision
	for rows.Next() {
		var r RecalledDecision
		var created string
		if err := rows.Scan(&r.ThreadID, &r.Question, &r.Content, &r.Confidence, &r.Dissent, &created); err != nil {
			return nil, storageErr(err)
		}
		r.CreatedAt = parseTS(created)
		out = append(out, r)
	}
	return out, storageErr(rows.Err())
}

func (s *SQLiteStore) ListRecentOutcomes(ctx context.Context, limit int) ([]OutcomeRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, thread_id, result, notes, created_at FROM outcomes ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()
	return scanOutcomes(rows)
}

// Search finds threads whose question or committed decisions mention the
// keyword, newest first.
func (s *SQLiteStore) Search(ctx context.Context, keyword string, limit int) ([]ThreadRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	pattern := "%" + keyword + "%"
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT th.id, th.question, th.status, th.protocol, th.created_at
		 FROM threads th
		 LEFT JOIN turns t ON t.thread_id = th.id
		 LEFT JOIN decisions d ON d.turn_id = t.id
		 WHERE th.question LIKE ? OR d.content LIKE ?
		 ORDER BY th.created_at DESC LIMIT ?`, pattern, pattern, limit)
	if err != nil {
		return nil, storageErr(err)
	}
	defer func() { _ = rows.Close() }()

	var out []ThreadRecord
	for rows.Next() {
		var t ThreadRecord
		var created string
		if err := rows.Scan(&t.ID, &t.Question, &t.Status, &t.Protocol, &created); err != nil {
			return nil, storageErr(err)
		}
		t.CreatedAt = parseTS(created)
		out = append(out, t)
	}
	return out, storageErr(rows.Err())
}

// Vault blob persistence (used by the credential vault).

func (s *SQLiteStore) SaveVaultBlob(ctx context.Context, salt []byte, data map[string]string) error {
	j, err := json.Marshal(data)
	if err != nil {
		return storageErr(fmt.Errorf("marshal vault data: %w", err))
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO vault_blob (id, salt, data) VALUES (1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET salt=excluded.salt, data=excluded.data`,
		salt, string(j))
	return storageErr(err)
}

func (s *SQLiteStore) LoadVaultBlob(ctx context.Context) ([]byte, map[string]string, error) {
	var salt []byte
	var dataStr string
	err := s.db.QueryRowContext(ctx, `SELECT salt, data FROM vault_blob WHERE id = 1`).Scan(&salt, &dataStr)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, storageErr(err)
	}
	var data map[string]string
	if err := json.Unmarshal([]byte(dataStr), &data); err != nil {
		return nil, nil, storageErr(fmt.Errorf("unmarshal vault data: %w", err))
	}
	return salt, data, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
