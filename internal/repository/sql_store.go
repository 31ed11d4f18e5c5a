package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"entgo.io/ent/dialect"
	entsql "entgo.io/ent/dialect/sql"
	"github.com/google/uuid"

	"github.com/joseph-ayodele/subsidy-pipeline/constants"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/common"
	"github.com/joseph-ayodele/subsidy-pipeline/internal/entity"
)

var jobColumns = []string{
	"id", "document_ref", "kind", "size_bytes", "priority", "status",
	"attempts", "max_attempts", "scheduled_for", "last_error_code", "last_error_message",
	"progress", "result_ref", "cancel_requested", "malformed_responses", "version", "created_at", "updated_at",
}

type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLStore implements Store on postgres, mysql or sqlite. Queries are built
// with the ent SQL builder so placeholders and quoting follow the dialect.
type SQLStore struct {
	conn *Conn
	b    *entsql.DialectBuilder
	log  *slog.Logger
	now  func() time.Time
}

var _ Store = (*SQLStore)(nil)

// OpenStore opens the database, runs migrations and returns the store.
func OpenStore(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*SQLStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := conn.Migrate(ctx); err != nil {
		conn.Close(logger)
		return nil, err
	}
	return NewSQLStore(conn, logger), nil
}

func NewSQLStore(conn *Conn, logger *slog.Logger) *SQLStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQLStore{
		conn: conn,
		b:    entsql.Dialect(conn.Dialect),
		log:  logger,
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Conn exposes the connection for health checks.
func (s *SQLStore) Conn() *Conn { return s.conn }

func (s *SQLStore) Close() error {
	s.conn.Close(s.log)
	return nil
}

// rowLocks reports whether SELECT ... FOR UPDATE is available.
func (s *SQLStore) rowLocks() bool {
	return s.conn.Dialect == dialect.Postgres || s.conn.Dialect == dialect.MySQL
}

func (s *SQLStore) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.conn.DB().BeginTx(ctx, nil)
	if err != nil {
		return storeWrite("begin tx", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			s.log.Warn("repository.rollback_failed", "err", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return storeWrite("commit", err)
	}
	return nil
}

func micros(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMicro()
}

func fromMicros(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMicro(v).UTC()
}

// ---- jobs ----

func (s *SQLStore) CreateJob(ctx context.Context, job *entity.ProcessingJob) error {
	j := job.Clone()
	if j.Version == 0 {
		j.Version = 1
	}
	code, msg := errorColumns(j.LastError)
	q, args := s.b.Insert(tableJobs).
		Columns(append(append([]string{}, jobColumns...), "priority_rank")...).
		Values(
			j.ID.String(), j.DocumentRef, string(j.Kind), j.SizeBytes, string(j.Priority), string(j.Status),
			j.Attempts, j.MaxAttempts, micros(j.ScheduledFor), code, msg,
			j.Progress, j.ResultRef, j.CancelRequested, j.MalformedResponses, j.Version, micros(j.CreatedAt), micros(j.UpdatedAt),
			j.Priority.Rank(),
		).Query()
	if _, err := s.conn.DB().ExecContext(ctx, q, args...); err != nil {
		s.log.Error("repository.job.create_failed", "job_id", j.ID, "err", err)
		return storeWrite("insert job", err)
	}
	return nil
}

func (s *SQLStore) GetJob(ctx context.Context, id uuid.UUID) (*entity.ProcessingJob, error) {
	return s.getJob(ctx, s.conn.DB(), id, false)
}

func (s *SQLStore) getJob(ctx context.Context, q querier, id uuid.UUID, lock bool) (*entity.ProcessingJob, error) {
	sel := s.b.Select(jobColumns...).From(entsql.Table(tableJobs)).Where(entsql.EQ("id", id.String()))
	if lock && s.rowLocks() {
		sel.ForUpdate()
	}
	query, args := sel.Query()
	j, err := scanJob(q.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %s: %w", id, common.ErrNotFound)
	}
	if err != nil {
		return nil, common.NewAppError(common.CodeInternal, "read job", err)
	}
	return j, nil
}

func (s *SQLStore) ListJobs(ctx context.Context, f JobFilter) ([]*entity.ProcessingJob, error) {
	sel := s.b.Select(jobColumns...).From(entsql.Table(tableJobs)).
		OrderBy(entsql.Desc("created_at"), "id")
	if len(f.Statuses) > 0 {
		vals := make([]any, len(f.Statuses))
		for i, st := range f.Statuses {
			vals[i] = string(st)
		}
		sel.Where(entsql.In("status", vals...))
	}
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	query, args := sel.Query()
	return s.queryJobs(ctx, s.conn.DB(), query, args)
}

func (s *SQLStore) queryJobs(ctx context.Context, q querier, query string, args []any) ([]*entity.ProcessingJob, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewAppError(common.CodeInternal, "query jobs", err)
	}
	defer rows.Close()
	var out []*entity.ProcessingJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, common.NewAppError(common.CodeInternal, "scan job", err)
		}
		out = append(out, j)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError(common.CodeInternal, "iterate jobs", err)
	}
	return out, nil
}

func (s *SQLStore) MutateJob(ctx context.Context, id uuid.UUID, fn func(j *entity.ProcessingJob) error) (*entity.ProcessingJob, error) {
	var out *entity.ProcessingJob
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		cur, err := s.getJob(ctx, tx, id, true)
		if err != nil {
			return err
		}
		next := cur.Clone()
		if err := fn(next); err != nil {
			return err
		}
		next.ID = cur.ID
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now()

		code, msg := errorColumns(next.LastError)
		q, args := s.b.Update(tableJobs).
			Set("status", string(next.Status)).
			Set("attempts", next.Attempts).
			Set("max_attempts", next.MaxAttempts).
			Set("priority", string(next.Priority)).
			Set("priority_rank", next.Priority.Rank()).
			Set("scheduled_for", micros(next.ScheduledFor)).
			Set("last_error_code", code).
			Set("last_error_message", msg).
			Set("progress", next.Progress).
			Set("result_ref", next.ResultRef).
			Set("cancel_requested", next.CancelRequested).
			Set("malformed_responses", next.MalformedResponses).
			Set("version", next.Version).
			Set("updated_at", micros(next.UpdatedAt)).
			Where(entsql.And(entsql.EQ("id", id.String()), entsql.EQ("version", cur.Version))).
			Query()
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return storeWrite("update job", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("job %s version %d: %w", id, cur.Version, common.ErrConflict)
		}
		out = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) ClaimDue(ctx context.Context, now time.Time, limit int) ([]*entity.ProcessingJob, error) {
	if limit <= 0 {
		return nil, nil
	}
	var out []*entity.ProcessingJob
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		due := entsql.And(
			entsql.EQ("status", string(constants.JobStatusQueued)),
			entsql.LTE("scheduled_for", micros(now)),
		)
		sel := s.b.Select("id").From(entsql.Table(tableJobs)).Where(due).
			OrderBy(entsql.Desc("priority_rank"), "scheduled_for", "created_at").
			Limit(limit)
		if s.rowLocks() {
			sel.ForUpdate(entsql.WithLockAction(entsql.SkipLocked))
		}
		query, args := sel.Query()
		rows, err := tx.QueryContext(ctx, query, args...)
		if err != nil {
			return storeWrite("select due jobs", err)
		}
		var ids []any
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return storeWrite("scan due job", err)
			}
			ids = append(ids, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return storeWrite("iterate due jobs", err)
		}
		if len(ids) == 0 {
			return nil
		}

		q, args := s.b.Update(tableJobs).
			Set("status", string(constants.JobStatusProcessing)).
			Add("version", 1).
			Set("updated_at", micros(s.now())).
			Where(entsql.In("id", ids...)).
			Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return storeWrite("claim jobs", err)
		}

		query, args = s.b.Select(jobColumns...).From(entsql.Table(tableJobs)).
			Where(entsql.In("id", ids...)).
			OrderBy(entsql.Desc("priority_rank"), "scheduled_for", "created_at").
			Query()
		out, err = s.queryJobs(ctx, tx, query, args)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*entity.ProcessingJob, error) {
	var (
		j                       entity.ProcessingJob
		id, kind, prio, status  string
		sched, created, updated int64
		code, msg               sql.NullString
	)
	err := row.Scan(&id, &j.DocumentRef, &kind, &j.SizeBytes, &prio, &status,
		&j.Attempts, &j.MaxAttempts, &sched, &code, &msg,
		&j.Progress, &j.ResultRef, &j.CancelRequested, &j.MalformedResponses, &j.Version, &created, &updated)
	if err != nil {
		return nil, err
	}
	if j.ID, err = uuid.Parse(id); err != nil {
		return nil, err
	}
	j.Kind = constants.DocumentKind(kind)
	j.Priority = constants.Priority(prio)
	j.Status = constants.JobStatus(status)
	j.ScheduledFor = fromMicros(sched)
	j.CreatedAt = fromMicros(created)
	j.UpdatedAt = fromMicros(updated)
	if code.Valid {
		j.LastError = &entity.JobError{Code: code.String, Message: msg.String}
	}
	return &j, nil
}

func errorColumns(e *entity.JobError) (any, any) {
	if e == nil {
		return nil, nil
	}
	return e.Code, e.Message
}

// ---- extraction results, records, qa ----

func (s *SQLStore) SaveExtraction(ctx context.Context, res *entity.ExtractionResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return storeWrite("encode extraction", err)
	}
	q, args := s.b.Insert(tableExtractions).
		Columns("id", "job_id", "document_ref", "payload", "created_at").
		Values(res.ID.String(), res.JobID.String(), res.DocumentRef, string(payload), micros(res.CreatedAt)).
		OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithIgnore()).
		Query()
	if _, err := s.conn.DB().ExecContext(ctx, q, args...); err != nil {
		s.log.Error("repository.extraction.save_failed", "extraction_id", res.ID, "err", err)
		return storeWrite("insert extraction", err)
	}
	return nil
}

func (s *SQLStore) GetExtraction(ctx context.Context, id uuid.UUID) (*entity.ExtractionResult, error) {
	b, err := s.payload(ctx, tableExtractions, "id", id.String())
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("extraction %s: %w", id, common.ErrNotFound)
	}
	return decodeExtraction(b)
}

func (s *SQLStore) UpsertRecord(ctx context.Context, rec *entity.NormalizedRecord) (*entity.NormalizedRecord, error) {
	var out *entity.NormalizedRecord
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		sel := s.b.Select("version").From(entsql.Table(tableRecords)).Where(entsql.EQ("id", rec.ID.String()))
		if s.rowLocks() {
			sel.ForUpdate()
		}
		query, args := sel.Query()
		var prev int64
		switch err := tx.QueryRowContext(ctx, query, args...).Scan(&prev); {
		case errors.Is(err, sql.ErrNoRows):
		case err != nil:
			return storeWrite("read record version", err)
		}

		c := *rec
		c.Version = prev + 1
		c.UpdatedAt = s.now()
		payload, err := json.Marshal(&c)
		if err != nil {
			return storeWrite("encode record", err)
		}
		q, args := s.b.Insert(tableRecords).
			Columns("id", "job_id", "document_ref", "version", "payload", "updated_at").
			Values(c.ID.String(), c.JobID.String(), c.DocumentRef, c.Version, string(payload), micros(c.UpdatedAt)).
			OnConflict(entsql.ConflictColumns("id"), entsql.ResolveWithNewValues()).
			Query()
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return storeWrite("upsert record", err)
		}
		out, err = decodeRecord(payload)
		return err
	})
	if err != nil {
		s.log.Error("repository.record.upsert_failed", "record_id", rec.ID, "err", err)
		return nil, err
	}
	return out, nil
}

func (s *SQLStore) GetRecord(ctx context.Context, id uuid.UUID) (*entity.NormalizedRecord, error) {
	b, err := s.payload(ctx, tableRecords, "id", id.String())
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("record %s: %w", id, common.ErrNotFound)
	}
	return decodeRecord(b)
}

func (s *SQLStore) ListRecords(ctx context.Context, f RecordFilter) ([]*entity.NormalizedRecord, error) {
	r := entsql.Table(tableRecords).As("r")
	sel := s.b.Select(r.C("payload")).From(r).
		OrderBy(entsql.Desc(r.C("updated_at")), r.C("id"))
	if f.AdminRequired != nil {
		qa := entsql.Table(tableQA).As("q")
		sel.Join(qa).On(r.C("id"), qa.C("record_id")).
			Where(entsql.EQ(qa.C("admin_required"), *f.AdminRequired))
	}
	if f.Limit > 0 {
		sel.Limit(f.Limit)
	}
	query, args := sel.Query()
	rows, err := s.conn.DB().QueryContext(ctx, query, args...)
	if err != nil {
		return nil, common.NewAppError(common.CodeInternal, "query records", err)
	}
	defer rows.Close()
	var out []*entity.NormalizedRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, common.NewAppError(common.CodeInternal, "scan record", err)
		}
		rec, err := decodeRecord([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, common.NewAppError(common.CodeInternal, "iterate records", err)
	}
	return out, nil
}

func (s *SQLStore) UpsertQA(ctx context.Context, qa *entity.QAResult) error {
	payload, err := json.Marshal(qa)
	if err != nil {
		return storeWrite("encode qa result", err)
	}
	q, args := s.b.Insert(tableQA).
		Columns("record_id", "record_version", "admin_required", "payload", "computed_at").
		Values(qa.RecordID.String(), qa.RecordVersion, qa.AdminRequired, string(payload), micros(qa.ComputedAt)).
		OnConflict(entsql.ConflictColumns("record_id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := s.conn.DB().ExecContext(ctx, q, args...); err != nil {
		s.log.Error("repository.qa.upsert_failed", "record_id", qa.RecordID, "err", err)
		return storeWrite("upsert qa result", err)
	}
	return nil
}

func (s *SQLStore) GetQA(ctx context.Context, recordID uuid.UUID) (*entity.QAResult, error) {
	b, err := s.payload(ctx, tableQA, "record_id", recordID.String())
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, fmt.Errorf("qa result for %s: %w", recordID, common.ErrNotFound)
	}
	return decodeQA(b)
}

// ---- eligibility cache ----

func (s *SQLStore) GetScore(ctx context.Context, profileID string, recordID uuid.UUID, version int64) (*entity.EligibilityScore, bool, error) {
	query, args := s.b.Select("payload").From(entsql.Table(tableScores)).
		Where(entsql.And(
			entsql.EQ("profile_id", profileID),
			entsql.EQ("record_id", recordID.String()),
			entsql.EQ("record_version", version),
		)).Query()
	var payload string
	err := s.conn.DB().QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, common.NewAppError(common.CodeInternal, "read score", err)
	}
	sc, err := decodeScore([]byte(payload))
	if err != nil {
		return nil, false, err
	}
	return sc, true, nil
}

func (s *SQLStore) PutScore(ctx context.Context, sc *entity.EligibilityScore) error {
	payload, err := json.Marshal(sc)
	if err != nil {
		return storeWrite("encode score", err)
	}
	q, args := s.b.Insert(tableScores).
		Columns("profile_id", "record_id", "record_version", "payload", "computed_at").
		Values(sc.ProfileID, sc.RecordID.String(), sc.RecordVersion, string(payload), micros(sc.ComputedAt)).
		OnConflict(entsql.ConflictColumns("profile_id", "record_id"), entsql.ResolveWithNewValues()).
		Query()
	if _, err := s.conn.DB().ExecContext(ctx, q, args...); err != nil {
		return storeWrite("upsert score", err)
	}
	return nil
}

// payload reads one JSON payload by key; nil, nil when absent.
func (s *SQLStore) payload(ctx context.Context, table, keyCol, key string) ([]byte, error) {
	query, args := s.b.Select("payload").From(entsql.Table(table)).Where(entsql.EQ(keyCol, key)).Query()
	var payload string
	err := s.conn.DB().QueryRowContext(ctx, query, args...).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, common.NewAppError(common.CodeInternal, "read "+table, err)
	}
	return []byte(payload), nil
}
