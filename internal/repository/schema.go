package repository

import (
	"context"
	"strings"

	"entgo.io/ent/dialect"
)

const (
	tableJobs        = "processing_jobs"
	tableExtractions = "extraction_results"
	tableRecords     = "normalized_records"
	tableQA          = "qa_results"
	tableScores      = "eligibility_scores"
)

// columnTypes maps the few portable column kinds to dialect types. Times are
// stored as BIGINT unix microseconds so claim ordering and comparisons are
// identical across drivers.
type columnTypes struct {
	key, text, json, boolean string
}

func typesFor(d string) columnTypes {
	switch d {
	case dialect.MySQL:
		return columnTypes{key: "VARCHAR(64)", text: "TEXT", json: "LONGTEXT", boolean: "BOOLEAN"}
	case dialect.Postgres:
		return columnTypes{key: "VARCHAR(64)", text: "TEXT", json: "TEXT", boolean: "BOOLEAN"}
	}
	return columnTypes{key: "TEXT", text: "TEXT", json: "TEXT", boolean: "BOOLEAN"}
}

// ddl returns the statements creating every table. MySQL has no
// CREATE INDEX IF NOT EXISTS, so its indexes are declared inline.
func ddl(d string) []string {
	t := typesFor(d)
	r := strings.NewReplacer("{key}", t.key, "{text}", t.text, "{json}", t.json, "{bool}", t.boolean)

	jobs := `CREATE TABLE IF NOT EXISTS ` + tableJobs + ` (
	id {key} NOT NULL PRIMARY KEY,
	document_ref {text} NOT NULL,
	kind {key} NOT NULL,
	size_bytes BIGINT NOT NULL DEFAULT 0,
	priority {key} NOT NULL,
	priority_rank INTEGER NOT NULL,
	status {key} NOT NULL,
	attempts INTEGER NOT NULL DEFAULT 0,
	max_attempts INTEGER NOT NULL,
	scheduled_for BIGINT NOT NULL,
	last_error_code {key} NULL,
	last_error_message {text} NULL,
	progress INTEGER NOT NULL DEFAULT 0,
	result_ref {text} NOT NULL,
	cancel_requested {bool} NOT NULL DEFAULT FALSE,
	malformed_responses INTEGER NOT NULL DEFAULT 0,
	version BIGINT NOT NULL,
	created_at BIGINT NOT NULL,
	updated_at BIGINT NOT NULL`
	if d == dialect.MySQL {
		jobs += `,
	INDEX idx_jobs_due (status, priority_rank, scheduled_for)`
	}
	jobs += "\n)"

	stmts := []string{
		jobs,
		`CREATE TABLE IF NOT EXISTS ` + tableExtractions + ` (
	id {key} NOT NULL PRIMARY KEY,
	job_id {key} NOT NULL,
	document_ref {text} NOT NULL,
	payload {json} NOT NULL,
	created_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + tableRecords + ` (
	id {key} NOT NULL PRIMARY KEY,
	job_id {key} NOT NULL,
	document_ref {text} NOT NULL,
	version BIGINT NOT NULL,
	payload {json} NOT NULL,
	updated_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + tableQA + ` (
	record_id {key} NOT NULL PRIMARY KEY,
	record_version BIGINT NOT NULL,
	admin_required {bool} NOT NULL,
	payload {json} NOT NULL,
	computed_at BIGINT NOT NULL
)`,
		`CREATE TABLE IF NOT EXISTS ` + tableScores + ` (
	profile_id {key} NOT NULL,
	record_id {key} NOT NULL,
	record_version BIGINT NOT NULL,
	payload {json} NOT NULL,
	computed_at BIGINT NOT NULL,
	PRIMARY KEY (profile_id, record_id)
)`,
	}
	if d != dialect.MySQL {
		stmts = append(stmts,
			`CREATE INDEX IF NOT EXISTS idx_jobs_due ON `+tableJobs+` (status, priority_rank, scheduled_for)`)
	}
	for i, s := range stmts {
		stmts[i] = r.Replace(s)
	}
	return stmts
}

// Migrate creates missing tables. It is safe to run on every start.
func (c *Conn) Migrate(ctx context.Context) error {
	for _, stmt := range ddl(c.Dialect) {
		if _, err := c.DB().ExecContext(ctx, stmt); err != nil {
			return storeWrite("migrate", err)
		}
	}
	return nil
}
