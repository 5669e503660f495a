package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
	"github.com/sells-group/benefit-engine/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and configures WAL mode. A
// single connection is used so ledger transactions never see SQLITE_BUSY.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS member_coverages (
	member_id      TEXT NOT NULL,
	plan_id        TEXT NOT NULL,
	coverage_start TEXT NOT NULL,
	coverage_end   TEXT,
	status         TEXT NOT NULL,
	network_status TEXT NOT NULL DEFAULT '',
	categories     TEXT NOT NULL DEFAULT '[]',
	PRIMARY KEY (member_id, plan_id, coverage_start)
);

CREATE TABLE IF NOT EXISTS plan_benefit_rules (
	plan_id        TEXT NOT NULL,
	benefit_code   TEXT NOT NULL,
	effective_date TEXT NOT NULL,
	definition     TEXT NOT NULL,
	PRIMARY KEY (plan_id, benefit_code, effective_date)
);

CREATE TABLE IF NOT EXISTS accumulators (
	member_id    TEXT NOT NULL,
	benefit_code TEXT NOT NULL,
	period       TEXT NOT NULL,
	amount_used  INTEGER NOT NULL DEFAULT 0,
	days_used    INTEGER NOT NULL DEFAULT 0,
	visits_used  INTEGER NOT NULL DEFAULT 0,
	version      INTEGER NOT NULL DEFAULT 0,
	last_updated TEXT NOT NULL,
	PRIMARY KEY (member_id, benefit_code, period)
);

CREATE TABLE IF NOT EXISTS accumulator_entries (
	id            TEXT PRIMARY KEY,
	claim_line_id TEXT NOT NULL,
	claim_id      TEXT NOT NULL,
	kind          TEXT NOT NULL,
	member_id     TEXT NOT NULL,
	benefit_code  TEXT NOT NULL,
	period        TEXT NOT NULL,
	amount        INTEGER NOT NULL,
	days          INTEGER NOT NULL,
	visits        INTEGER NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL,
	UNIQUE (claim_line_id, kind)
);

CREATE TABLE IF NOT EXISTS adjudication_results (
	claim_line_id  TEXT PRIMARY KEY,
	claim_id       TEXT NOT NULL,
	member_id      TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	body           TEXT NOT NULL,
	adjudicated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY,
	topic          TEXT NOT NULL,
	payload        TEXT NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TEXT NOT NULL,
	created_at     TEXT NOT NULL,
	last_failed_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entries_key ON accumulator_entries(member_id, benefit_code, period);
CREATE INDEX IF NOT EXISTS idx_results_claim ON adjudication_results(claim_id);
CREATE INDEX IF NOT EXISTS idx_results_member ON adjudication_results(member_id);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

// Timestamps are stored as fixed-width UTC text so they compare correctly
// as strings.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func ts(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	return t, eris.Wrapf(err, "parse timestamp %q", s)
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Reference data

func (s *SQLiteStore) PutCoverages(ctx context.Context, covs []model.MemberCoverage) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin put coverages")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range covs {
		cats, err := json.Marshal(c.Categories)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal categories")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO member_coverages (member_id, plan_id, coverage_start, coverage_end, status, network_status, categories)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (member_id, plan_id, coverage_start) DO UPDATE SET
			   coverage_end = excluded.coverage_end, status = excluded.status,
			   network_status = excluded.network_status, categories = excluded.categories`,
			c.MemberID, c.PlanID, c.CoverageStart.String(), nullDate(c.CoverageEnd),
			string(c.Status), string(c.NetworkStatus), string(cats),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert coverage %s/%s", c.MemberID, c.PlanID)
		}
	}
	return int64(len(covs)), eris.Wrap(tx.Commit(), "sqlite: commit put coverages")
}

func (s *SQLiteStore) MemberCoverages(ctx context.Context, memberID string) ([]model.MemberCoverage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT member_id, plan_id, coverage_start, coverage_end, status, network_status, categories
		 FROM member_coverages WHERE member_id = ? ORDER BY coverage_start`,
		memberID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query coverages")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.MemberCoverage
	for rows.Next() {
		var c model.MemberCoverage
		var start, status, network, cats string
		var end sql.NullString
		if err := rows.Scan(&c.MemberID, &c.PlanID, &start, &end, &status, &network, &cats); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan coverage")
		}
		if c.CoverageStart, err = model.ParseDate(start); err != nil {
			return nil, err
		}
		if end.Valid && end.String != "" {
			if c.CoverageEnd, err = model.ParseDate(end.String); err != nil {
				return nil, err
			}
		}
		c.Status = model.CoverageStatus(status)
		c.NetworkStatus = model.NetworkStatus(network)
		if err := json.Unmarshal([]byte(cats), &c.Categories); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal categories")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate coverages")
}

func (s *SQLiteStore) PutRules(ctx context.Context, rules []plan.Rule) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin put rules")
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range rules {
		def, err := json.Marshal(r)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal rule")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO plan_benefit_rules (plan_id, benefit_code, effective_date, definition)
			 VALUES (?, ?, ?, ?)
			 ON CONFLICT (plan_id, benefit_code, effective_date) DO UPDATE SET definition = excluded.definition`,
			r.PlanID, r.BenefitCode, r.EffectiveDate.String(), string(def),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert rule %s/%s", r.PlanID, r.BenefitCode)
		}
	}
	return int64(len(rules)), eris.Wrap(tx.Commit(), "sqlite: commit put rules")
}

func (s *SQLiteStore) BenefitRules(ctx context.Context, planID, code string) ([]plan.Rule, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT definition FROM plan_benefit_rules
		 WHERE plan_id = ? AND benefit_code = ? ORDER BY effective_date`,
		planID, code,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query rules")
	}
	defer rows.Close() //nolint:errcheck

	var out []plan.Rule
	for rows.Next() {
		var def string
		if err := rows.Scan(&def); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan rule")
		}
		var r plan.Rule
		if err := json.Unmarshal([]byte(def), &r); err != nil {
			return nil, eris.Wrapf(err, "sqlite: unmarshal rule %s/%s", planID, code)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate rules")
}

// Accumulators and ledger

func (s *SQLiteStore) GetAccumulator(ctx context.Context, key model.AccumulatorKey) (model.AccumulatorRecord, error) {
	rec := model.AccumulatorRecord{Key: key}
	var updated string
	err := s.db.QueryRowContext(ctx,
		`SELECT amount_used, days_used, visits_used, version, last_updated
		 FROM accumulators WHERE member_id = ? AND benefit_code = ? AND period = ?`,
		key.MemberID, key.BenefitCode, string(key.Period),
	).Scan(&rec.AmountUsed, &rec.DaysUsed, &rec.VisitsUsed, &rec.Version, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, eris.Wrapf(err, "sqlite: get accumulator %s", key)
	}
	rec.LastUpdated, err = parseTS(updated)
	return rec, err
}

func (s *SQLiteStore) ApplyEntry(ctx context.Context, entry accumulator.Entry, expectedVersion int64) (accumulator.CommitStatus, *accumulator.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", nil, eris.Wrap(err, "sqlite: begin apply entry")
	}
	defer tx.Rollback() //nolint:errcheck

	existing, err := scanEntry(tx.QueryRowContext(ctx, selectEntrySQLite, entry.ClaimLineID, string(entry.Kind)))
	if err != nil {
		return "", nil, err
	}
	if existing != nil {
		return accumulator.AlreadyCommitted, existing, nil
	}

	now := ts(entry.CreatedAt)
	k := entry.Key
	var res sql.Result
	if expectedVersion == 0 {
		res, err = tx.ExecContext(ctx,
			`INSERT INTO accumulators (member_id, benefit_code, period, amount_used, days_used, visits_used, version, last_updated)
			 VALUES (?, ?, ?, ?, ?, ?, 1, ?)
			 ON CONFLICT (member_id, benefit_code, period) DO NOTHING`,
			k.MemberID, k.BenefitCode, string(k.Period),
			int64(entry.Delta.Amount), entry.Delta.Days, entry.Delta.Visits, now,
		)
	} else {
		res, err = tx.ExecContext(ctx,
			`UPDATE accumulators
			 SET amount_used = amount_used + ?, days_used = days_used + ?, visits_used = visits_used + ?,
			     version = version + 1, last_updated = ?
			 WHERE member_id = ? AND benefit_code = ? AND period = ? AND version = ?`,
			int64(entry.Delta.Amount), entry.Delta.Days, entry.Delta.Visits, now,
			k.MemberID, k.BenefitCode, string(k.Period), expectedVersion,
		)
	}
	if err != nil {
		return "", nil, eris.Wrapf(err, "sqlite: apply delta to %s", k)
	}
	if n, err := res.RowsAffected(); err != nil {
		return "", nil, eris.Wrap(err, "sqlite: rows affected")
	} else if n == 0 {
		return accumulator.Conflict, nil, nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO accumulator_entries
		 (id, claim_line_id, claim_id, kind, member_id, benefit_code, period, amount, days, visits, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.ClaimLineID, entry.ClaimID, string(entry.Kind),
		k.MemberID, k.BenefitCode, string(k.Period),
		int64(entry.Delta.Amount), entry.Delta.Days, entry.Delta.Visits, entry.Reason, now,
	)
	if err != nil {
		return "", nil, eris.Wrapf(err, "sqlite: insert entry for %s", entry.ClaimLineID)
	}

	if entry.Result != nil {
		if err := upsertResultSQLite(ctx, tx, *entry.Result); err != nil {
			return "", nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", nil, eris.Wrap(err, "sqlite: commit apply entry")
	}
	return accumulator.Committed, &entry, nil
}

const selectEntrySQLite = `SELECT id, claim_line_id, claim_id, kind, member_id, benefit_code, period,
	amount, days, visits, reason, created_at
	FROM accumulator_entries WHERE claim_line_id = ? AND kind = ?`

func (s *SQLiteStore) GetEntry(ctx context.Context, claimLineID string, kind accumulator.EntryKind) (*accumulator.Entry, error) {
	return scanEntry(s.db.QueryRowContext(ctx, selectEntrySQLite, claimLineID, string(kind)))
}

// Results

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertResultSQLite(ctx context.Context, ex execer, r model.AdjudicationResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal result")
	}
	_, err = ex.ExecContext(ctx,
		`INSERT INTO adjudication_results (claim_line_id, claim_id, member_id, outcome, body, adjudicated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (claim_line_id) DO UPDATE SET
		   claim_id = excluded.claim_id, member_id = excluded.member_id, outcome = excluded.outcome,
		   body = excluded.body, adjudicated_at = excluded.adjudicated_at
		 WHERE adjudication_results.outcome IN ('pending_authorization', 'manual_review')`,
		r.ClaimLineID, r.ClaimID, r.MemberID, string(r.Outcome), string(body), ts(r.AdjudicatedAt),
	)
	return eris.Wrapf(err, "sqlite: upsert result %s", r.ClaimLineID)
}

func (s *SQLiteStore) SaveResult(ctx context.Context, r model.AdjudicationResult) error {
	if r.ClaimLineID == "" {
		return eris.New("sqlite: result has no claim_line_id")
	}
	return upsertResultSQLite(ctx, s.db, r)
}

func (s *SQLiteStore) GetResult(ctx context.Context, claimLineID string) (*model.AdjudicationResult, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM adjudication_results WHERE claim_line_id = ?`, claimLineID,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get result %s", claimLineID)
	}
	var r model.AdjudicationResult
	if err := json.Unmarshal([]byte(body), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal result")
	}
	return &r, nil
}

func (s *SQLiteStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.AdjudicationResult, error) {
	query := `SELECT body FROM adjudication_results WHERE 1=1`
	var args []any
	if filter.ClaimID != "" {
		query += ` AND claim_id = ?`
		args = append(args, filter.ClaimID)
	}
	if filter.MemberID != "" {
		query += ` AND member_id = ?`
		args = append(args, filter.MemberID)
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	query += ` ORDER BY adjudicated_at DESC, claim_line_id LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list results")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.AdjudicationResult
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan result")
		}
		var r model.AdjudicationResult
		if err := json.Unmarshal([]byte(body), &r); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate results")
}

// Dead letter queue

func (s *SQLiteStore) EnqueueDLQ(ctx context.Context, e resilience.DLQEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO dead_letter_queue
		 (id, topic, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   error = excluded.error, error_type = excluded.error_type, retry_count = excluded.retry_count,
		   next_retry_at = excluded.next_retry_at, last_failed_at = excluded.last_failed_at`,
		e.ID, e.Topic, string(e.Payload), e.Error, e.ErrorType, e.RetryCount, e.MaxRetries,
		ts(e.NextRetryAt), ts(e.CreatedAt), ts(e.LastFailedAt),
	)
	return eris.Wrap(err, "sqlite: enqueue dlq")
}

func (s *SQLiteStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, topic, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue WHERE next_retry_at <= ? AND retry_count < max_retries`
	args := []any{ts(time.Now())}
	if filter.Topic != "" {
		query += ` AND topic = ?`
		args = append(args, filter.Topic)
	}
	if filter.ErrorType != "" {
		query += ` AND error_type = ?`
		args = append(args, filter.ErrorType)
	}
	query += ` ORDER BY next_retry_at LIMIT ?`
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: dequeue dlq")
	}
	defer rows.Close() //nolint:errcheck

	var out []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var payload, next, created, failed string
		if err := rows.Scan(&e.ID, &e.Topic, &payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &next, &created, &failed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan dlq entry")
		}
		e.Payload = json.RawMessage(payload)
		if e.NextRetryAt, err = parseTS(next); err != nil {
			return nil, err
		}
		if e.CreatedAt, err = parseTS(created); err != nil {
			return nil, err
		}
		if e.LastFailedAt, err = parseTS(failed); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate dlq")
}

func (s *SQLiteStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = ?, error = ?, last_failed_at = ?
		 WHERE id = ?`,
		ts(nextRetryAt), lastErr, ts(time.Now()), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: increment dlq retry %s", id)
	}
	return checkRowsAffected(res, "dlq_entry", id)
}

func (s *SQLiteStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM dead_letter_queue WHERE id = ?`, id)
	return eris.Wrap(err, "sqlite: remove dlq")
}

func (s *SQLiteStore) CountDLQ(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count dlq")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

func nullDate(d model.Date) any {
	if d.IsZero() {
		return nil
	}
	return d.String()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEntry(row scannable) (*accumulator.Entry, error) {
	var e accumulator.Entry
	var kind, period, created string
	var amount int64
	err := row.Scan(&e.ID, &e.ClaimLineID, &e.ClaimID, &kind,
		&e.Key.MemberID, &e.Key.BenefitCode, &period,
		&amount, &e.Delta.Days, &e.Delta.Visits, &e.Reason, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan entry")
	}
	e.Kind = accumulator.EntryKind(kind)
	e.Key.Period = model.PeriodKey(period)
	e.Delta.Amount = model.Money(amount)
	if e.CreatedAt, err = parseTS(created); err != nil {
		return nil, err
	}
	return &e, nil
}
