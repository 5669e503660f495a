package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/benefit-engine/internal/accumulator"
	"github.com/sells-group/benefit-engine/internal/db"
	"github.com/sells-group/benefit-engine/internal/model"
	"github.com/sells-group/benefit-engine/internal/plan"
	"github.com/sells-group/benefit-engine/internal/resilience"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	selectAccumulatorSQL = `SELECT amount_used, days_used, visits_used, version, last_updated
		FROM accumulators WHERE member_id = $1 AND benefit_code = $2 AND period = $3`
	selectEntrySQL = `SELECT id, claim_line_id, claim_id, kind, member_id, benefit_code, period,
		amount, days, visits, reason, created_at
		FROM accumulator_entries WHERE claim_line_id = $1 AND kind = $2`
	insertAccumulatorSQL = `INSERT INTO accumulators
		(member_id, benefit_code, period, amount_used, days_used, visits_used, version, last_updated)
		VALUES ($1, $2, $3, $4, $5, $6, 1, $7)
		ON CONFLICT (member_id, benefit_code, period) DO NOTHING`
	casAccumulatorSQL = `UPDATE accumulators
		SET amount_used = amount_used + $1, days_used = days_used + $2, visits_used = visits_used + $3,
		    version = version + 1, last_updated = $4
		WHERE member_id = $5 AND benefit_code = $6 AND period = $7 AND version = $8`
	insertEntrySQL = `INSERT INTO accumulator_entries
		(id, claim_line_id, claim_id, kind, member_id, benefit_code, period, amount, days, visits, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	upsertResultSQL = `INSERT INTO adjudication_results
		(claim_line_id, claim_id, member_id, outcome, body, adjudicated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (claim_line_id) DO UPDATE SET
		  claim_id = EXCLUDED.claim_id, member_id = EXCLUDED.member_id, outcome = EXCLUDED.outcome,
		  body = EXCLUDED.body, adjudicated_at = EXCLUDED.adjudicated_at
		WHERE adjudication_results.outcome IN ('pending_authorization', 'manual_review')`
	selectCoveragesSQL = `SELECT member_id, plan_id, coverage_start, coverage_end, status, network_status, categories
		FROM member_coverages WHERE member_id = $1 ORDER BY coverage_start`
	selectRulesSQL = `SELECT definition FROM plan_benefit_rules
		WHERE plan_id = $1 AND benefit_code = $2 ORDER BY effective_date`
)

// preparedStatements are prepared on each new connection; they cover the
// per-line adjudication path.
var preparedStatements = map[string]string{
	"select_accumulator": selectAccumulatorSQL,
	"select_entry":       selectEntrySQL,
	"cas_accumulator":    casAccumulatorSQL,
	"insert_entry":       insertEntrySQL,
	"upsert_result":      upsertResultSQL,
	"select_coverages":   selectCoveragesSQL,
	"select_rules":       selectRulesSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
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

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS member_coverages (
	member_id      TEXT NOT NULL,
	plan_id        TEXT NOT NULL,
	coverage_start DATE NOT NULL,
	coverage_end   DATE,
	status         TEXT NOT NULL,
	network_status TEXT NOT NULL DEFAULT '',
	categories     TEXT[] NOT NULL DEFAULT '{}',
	PRIMARY KEY (member_id, plan_id, coverage_start)
);

CREATE TABLE IF NOT EXISTS plan_benefit_rules (
	plan_id        TEXT NOT NULL,
	benefit_code   TEXT NOT NULL,
	effective_date DATE NOT NULL,
	definition     JSONB NOT NULL,
	PRIMARY KEY (plan_id, benefit_code, effective_date)
);

CREATE TABLE IF NOT EXISTS accumulators (
	member_id    TEXT NOT NULL,
	benefit_code TEXT NOT NULL,
	period       TEXT NOT NULL,
	amount_used  BIGINT NOT NULL DEFAULT 0,
	days_used    INTEGER NOT NULL DEFAULT 0,
	visits_used  INTEGER NOT NULL DEFAULT 0,
	version      BIGINT NOT NULL DEFAULT 0,
	last_updated TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (member_id, benefit_code, period)
);

CREATE TABLE IF NOT EXISTS accumulator_entries (
	id            TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	claim_line_id TEXT NOT NULL,
	claim_id      TEXT NOT NULL,
	kind          TEXT NOT NULL,
	member_id     TEXT NOT NULL,
	benefit_code  TEXT NOT NULL,
	period        TEXT NOT NULL,
	amount        BIGINT NOT NULL,
	days          INTEGER NOT NULL,
	visits        INTEGER NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (claim_line_id, kind)
);

CREATE TABLE IF NOT EXISTS adjudication_results (
	claim_line_id  TEXT PRIMARY KEY,
	claim_id       TEXT NOT NULL,
	member_id      TEXT NOT NULL,
	outcome        TEXT NOT NULL,
	body           JSONB NOT NULL,
	adjudicated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS dead_letter_queue (
	id             TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	topic          TEXT NOT NULL,
	payload        JSONB NOT NULL,
	error          TEXT NOT NULL,
	error_type     TEXT NOT NULL DEFAULT 'transient',
	retry_count    INTEGER NOT NULL DEFAULT 0,
	max_retries    INTEGER NOT NULL DEFAULT 3,
	next_retry_at  TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_failed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_entries_key ON accumulator_entries(member_id, benefit_code, period);
CREATE INDEX IF NOT EXISTS idx_results_claim ON adjudication_results(claim_id);
CREATE INDEX IF NOT EXISTS idx_results_member ON adjudication_results(member_id);
CREATE INDEX IF NOT EXISTS idx_dlq_error_type ON dead_letter_queue(error_type);
CREATE INDEX IF NOT EXISTS idx_dlq_next_retry ON dead_letter_queue(next_retry_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

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

// Reference data

var (
	coverageUpsert = db.UpsertConfig{
		Table:        "member_coverages",
		Columns:      []string{"member_id", "plan_id", "coverage_start", "coverage_end", "status", "network_status", "categories"},
		ConflictKeys: []string{"member_id", "plan_id", "coverage_start"},
	}
	ruleUpsert = db.UpsertConfig{
		Table:        "plan_benefit_rules",
		Columns:      []string{"plan_id", "benefit_code", "effective_date", "definition"},
		ConflictKeys: []string{"plan_id", "benefit_code", "effective_date"},
	}
)

func (s *PostgresStore) PutCoverages(ctx context.Context, covs []model.MemberCoverage) (int64, error) {
	rows := make([][]any, 0, len(covs))
	for _, c := range covs {
		cats := make([]string, len(c.Categories))
		for i, cat := range c.Categories {
			cats[i] = string(cat)
		}
		var end any
		if !c.CoverageEnd.IsZero() {
			end = c.CoverageEnd.Time
		}
		rows = append(rows, []any{
			c.MemberID, c.PlanID, c.CoverageStart.Time, end,
			string(c.Status), string(c.NetworkStatus), cats,
		})
	}
	n, err := db.BulkUpsert(ctx, s.pool, coverageUpsert, rows)
	return n, eris.Wrap(err, "postgres: put coverages")
}

func (s *PostgresStore) MemberCoverages(ctx context.Context, memberID string) ([]model.MemberCoverage, error) {
	rows, err := s.pool.Query(ctx, selectCoveragesSQL, memberID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query coverages")
	}
	defer rows.Close()

	var out []model.MemberCoverage
	for rows.Next() {
		var c model.MemberCoverage
		var start time.Time
		var end *time.Time
		var status, network string
		var cats []string
		if err := rows.Scan(&c.MemberID, &c.PlanID, &start, &end, &status, &network, &cats); err != nil {
			return nil, eris.Wrap(err, "postgres: scan coverage")
		}
		c.CoverageStart = model.DateOf(start)
		if end != nil {
			c.CoverageEnd = model.DateOf(*end)
		}
		c.Status = model.CoverageStatus(status)
		c.NetworkStatus = model.NetworkStatus(network)
		for _, cat := range cats {
			c.Categories = append(c.Categories, model.BenefitCategory(cat))
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate coverages")
}

func (s *PostgresStore) PutRules(ctx context.Context, rules []plan.Rule) (int64, error) {
	rows := make([][]any, 0, len(rules))
	for _, r := range rules {
		def, err := json.Marshal(r)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal rule")
		}
		rows = append(rows, []any{r.PlanID, r.BenefitCode, r.EffectiveDate.Time, def})
	}
	n, err := db.BulkUpsert(ctx, s.pool, ruleUpsert, rows)
	return n, eris.Wrap(err, "postgres: put rules")
}

func (s *PostgresStore) BenefitRules(ctx context.Context, planID, code string) ([]plan.Rule, error) {
	rows, err := s.pool.Query(ctx, selectRulesSQL, planID, code)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query rules")
	}
	defer rows.Close()

	var out []plan.Rule
	for rows.Next() {
		var def []byte
		if err := rows.Scan(&def); err != nil {
			return nil, eris.Wrap(err, "postgres: scan rule")
		}
		var r plan.Rule
		if err := json.Unmarshal(def, &r); err != nil {
			return nil, eris.Wrapf(err, "postgres: unmarshal rule %s/%s", planID, code)
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate rules")
}

// Accumulators and ledger

func (s *PostgresStore) GetAccumulator(ctx context.Context, key model.AccumulatorKey) (model.AccumulatorRecord, error) {
	rec := model.AccumulatorRecord{Key: key}
	var amount int64
	err := s.pool.QueryRow(ctx, selectAccumulatorSQL, key.MemberID, key.BenefitCode, string(key.Period)).
		Scan(&amount, &rec.DaysUsed, &rec.VisitsUsed, &rec.Version, &rec.LastUpdated)
	if errors.Is(err, pgx.ErrNoRows) {
		return rec, nil
	}
	if err != nil {
		return rec, eris.Wrapf(err, "postgres: get accumulator %s", key)
	}
	rec.AmountUsed = model.Money(amount)
	return rec, nil
}

// ApplyEntry runs the ledger check, compare-and-set and entry insert in one
// transaction. A unique violation on the ledger means another engine
// instance committed the line first.
func (s *PostgresStore) ApplyEntry(ctx context.Context, entry accumulator.Entry, expectedVersion int64) (accumulator.CommitStatus, *accumulator.Entry, error) {
	status, applied, err := s.applyEntryTx(ctx, entry, expectedVersion)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		existing, getErr := s.GetEntry(ctx, entry.ClaimLineID, entry.Kind)
		if getErr != nil {
			return "", nil, getErr
		}
		if existing != nil {
			return accumulator.AlreadyCommitted, existing, nil
		}
		return accumulator.Conflict, nil, nil
	}
	return status, applied, err
}

func (s *PostgresStore) applyEntryTx(ctx context.Context, entry accumulator.Entry, expectedVersion int64) (accumulator.CommitStatus, *accumulator.Entry, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", nil, eris.Wrap(err, "postgres: begin apply entry")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	existing, err := scanPgEntry(tx.QueryRow(ctx, selectEntrySQL, entry.ClaimLineID, string(entry.Kind)))
	if err != nil {
		return "", nil, err
	}
	if existing != nil {
		return accumulator.AlreadyCommitted, existing, nil
	}

	k, d := entry.Key, entry.Delta
	var tag pgconn.CommandTag
	if expectedVersion == 0 {
		tag, err = tx.Exec(ctx, insertAccumulatorSQL,
			k.MemberID, k.BenefitCode, string(k.Period), int64(d.Amount), d.Days, d.Visits, entry.CreatedAt)
	} else {
		tag, err = tx.Exec(ctx, casAccumulatorSQL,
			int64(d.Amount), d.Days, d.Visits, entry.CreatedAt,
			k.MemberID, k.BenefitCode, string(k.Period), expectedVersion)
	}
	if err != nil {
		return "", nil, eris.Wrapf(err, "postgres: apply delta to %s", k)
	}
	if tag.RowsAffected() == 0 {
		return accumulator.Conflict, nil, nil
	}

	if _, err := tx.Exec(ctx, insertEntrySQL,
		entry.ID, entry.ClaimLineID, entry.ClaimID, string(entry.Kind),
		k.MemberID, k.BenefitCode, string(k.Period),
		int64(d.Amount), d.Days, d.Visits, entry.Reason, entry.CreatedAt,
	); err != nil {
		return "", nil, eris.Wrapf(err, "postgres: insert entry for %s", entry.ClaimLineID)
	}

	if entry.Result != nil {
		if err := upsertResultPg(ctx, tx, *entry.Result); err != nil {
			return "", nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return "", nil, eris.Wrap(err, "postgres: commit apply entry")
	}
	return accumulator.Committed, &entry, nil
}

func (s *PostgresStore) GetEntry(ctx context.Context, claimLineID string, kind accumulator.EntryKind) (*accumulator.Entry, error) {
	return scanPgEntry(s.pool.QueryRow(ctx, selectEntrySQL, claimLineID, string(kind)))
}

func scanPgEntry(row pgx.Row) (*accumulator.Entry, error) {
	var e accumulator.Entry
	var kind, period string
	var amount int64
	err := row.Scan(&e.ID, &e.ClaimLineID, &e.ClaimID, &kind,
		&e.Key.MemberID, &e.Key.BenefitCode, &period,
		&amount, &e.Delta.Days, &e.Delta.Visits, &e.Reason, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan entry")
	}
	e.Kind = accumulator.EntryKind(kind)
	e.Key.Period = model.PeriodKey(period)
	e.Delta.Amount = model.Money(amount)
	return &e, nil
}

// Results

type pgExecer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func upsertResultPg(ctx context.Context, ex pgExecer, r model.AdjudicationResult) error {
	body, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal result")
	}
	_, err = ex.Exec(ctx, upsertResultSQL,
		r.ClaimLineID, r.ClaimID, r.MemberID, string(r.Outcome), body, r.AdjudicatedAt)
	return eris.Wrapf(err, "postgres: upsert result %s", r.ClaimLineID)
}

func (s *PostgresStore) SaveResult(ctx context.Context, r model.AdjudicationResult) error {
	if r.ClaimLineID == "" {
		return eris.New("postgres: result has no claim_line_id")
	}
	return upsertResultPg(ctx, s.pool, r)
}

func (s *PostgresStore) GetResult(ctx context.Context, claimLineID string) (*model.AdjudicationResult, error) {
	var body []byte
	err := s.pool.QueryRow(ctx,
		`SELECT body FROM adjudication_results WHERE claim_line_id = $1`, claimLineID,
	).Scan(&body)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get result %s", claimLineID)
	}
	var r model.AdjudicationResult
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal result")
	}
	return &r, nil
}

func (s *PostgresStore) ListResults(ctx context.Context, filter ResultFilter) ([]model.AdjudicationResult, error) {
	query := `SELECT body FROM adjudication_results WHERE 1=1`
	var args []any
	argIdx := 1
	if filter.ClaimID != "" {
		query += fmt.Sprintf(` AND claim_id = $%d`, argIdx)
		args = append(args, filter.ClaimID)
		argIdx++
	}
	if filter.MemberID != "" {
		query += fmt.Sprintf(` AND member_id = $%d`, argIdx)
		args = append(args, filter.MemberID)
		argIdx++
	}
	if filter.Outcome != "" {
		query += fmt.Sprintf(` AND outcome = $%d`, argIdx)
		args = append(args, string(filter.Outcome))
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY adjudicated_at DESC, claim_line_id LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list results")
	}
	defer rows.Close()

	var out []model.AdjudicationResult
	for rows.Next() {
		var body []byte
		if err := rows.Scan(&body); err != nil {
			return nil, eris.Wrap(err, "postgres: scan result")
		}
		var r model.AdjudicationResult
		if err := json.Unmarshal(body, &r); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal result")
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: iterate results")
}

// Dead letter queue

func (s *PostgresStore) EnqueueDLQ(ctx context.Context, e resilience.DLQEntry) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO dead_letter_queue
		 (id, topic, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (id) DO UPDATE SET
		   error = $4, error_type = $5, retry_count = $6, next_retry_at = $8, last_failed_at = $10`,
		e.ID, e.Topic, []byte(e.Payload), e.Error, e.ErrorType,
		e.RetryCount, e.MaxRetries, e.NextRetryAt, e.CreatedAt, e.LastFailedAt,
	)
	return eris.Wrap(err, "postgres: enqueue dlq")
}

func (s *PostgresStore) DequeueDLQ(ctx context.Context, filter resilience.DLQFilter) ([]resilience.DLQEntry, error) {
	query := `SELECT id, topic, payload, error, error_type, retry_count, max_retries, next_retry_at, created_at, last_failed_at
	          FROM dead_letter_queue
	          WHERE next_retry_at <= now() AND retry_count < max_retries`
	var args []any
	argIdx := 1
	if filter.Topic != "" {
		query += fmt.Sprintf(` AND topic = $%d`, argIdx)
		args = append(args, filter.Topic)
		argIdx++
	}
	if filter.ErrorType != "" {
		query += fmt.Sprintf(` AND error_type = $%d`, argIdx)
		args = append(args, filter.ErrorType)
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY next_retry_at ASC LIMIT $%d`, argIdx)
	args = append(args, defaultLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: dequeue dlq")
	}
	defer rows.Close()

	var entries []resilience.DLQEntry
	for rows.Next() {
		var e resilience.DLQEntry
		var payload []byte
		if err := rows.Scan(&e.ID, &e.Topic, &payload, &e.Error, &e.ErrorType,
			&e.RetryCount, &e.MaxRetries, &e.NextRetryAt, &e.CreatedAt, &e.LastFailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan dlq entry")
		}
		e.Payload = json.RawMessage(payload)
		entries = append(entries, e)
	}
	return entries, eris.Wrap(rows.Err(), "postgres: dequeue dlq iterate")
}

func (s *PostgresStore) IncrementDLQRetry(ctx context.Context, id string, nextRetryAt time.Time, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE dead_letter_queue
		 SET retry_count = retry_count + 1, next_retry_at = $1, error = $2, last_failed_at = now()
		 WHERE id = $3`,
		nextRetryAt, lastErr, id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: increment dlq retry %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("dlq_entry not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) RemoveDLQ(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dead_letter_queue WHERE id = $1`, id)
	return eris.Wrap(err, "postgres: remove dlq")
}

func (s *PostgresStore) CountDLQ(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM dead_letter_queue`).Scan(&count)
	return count, eris.Wrap(err, "postgres: count dlq")
}
