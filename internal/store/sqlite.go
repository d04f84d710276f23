package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS credentials (
    commitment TEXT PRIMARY KEY,
    owner_key  TEXT NOT NULL,
    record     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_credentials_owner ON credentials(owner_key);

CREATE TABLE IF NOT EXISTS mood_points (
    user_commitment TEXT NOT NULL,
    at              INTEGER NOT NULL,
    record          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mood_user_at ON mood_points(user_commitment, at);

CREATE TABLE IF NOT EXISTS assessments (
    id              TEXT PRIMARY KEY,
    user_commitment TEXT NOT NULL,
    at              INTEGER NOT NULL,
    record          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_assessments_user_at ON assessments(user_commitment, at);

CREATE TABLE IF NOT EXISTS session_feedback (
    id                   TEXT PRIMARY KEY,
    therapist_commitment TEXT NOT NULL,
    at                   INTEGER NOT NULL,
    record               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_feedback_therapist_at ON session_feedback(therapist_commitment, at);

CREATE TABLE IF NOT EXISTS therapist_outcomes (
    id                   TEXT PRIMARY KEY,
    therapist_commitment TEXT NOT NULL,
    at                   INTEGER NOT NULL,
    record               TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_outcomes_therapist_at ON therapist_outcomes(therapist_commitment, at);

CREATE TABLE IF NOT EXISTS privacy_preferences (
    user_commitment TEXT PRIMARY KEY,
    record          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS disclosures (
    id              TEXT PRIMARY KEY,
    user_commitment TEXT NOT NULL,
    status          TEXT NOT NULL,
    record          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_disclosures_user ON disclosures(user_commitment);
CREATE INDEX IF NOT EXISTS idx_disclosures_status ON disclosures(status);

CREATE TABLE IF NOT EXISTS audit_log (
    user_commitment TEXT NOT NULL,
    seq             INTEGER NOT NULL,
    hash            TEXT NOT NULL,
    record          TEXT NOT NULL,
    PRIMARY KEY (user_commitment, seq)
);

CREATE TABLE IF NOT EXISTS crisis_records (
    id              TEXT PRIMARY KEY,
    user_commitment TEXT NOT NULL,
    at              INTEGER NOT NULL,
    record          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_crisis_user_at ON crisis_records(user_commitment, at);
CREATE INDEX IF NOT EXISTS idx_crisis_at ON crisis_records(at);

CREATE TABLE IF NOT EXISTS crisis_alerts (
    id              TEXT PRIMARY KEY,
    user_commitment TEXT NOT NULL,
    status          TEXT NOT NULL,
    record          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS crisis_interventions (
    id       TEXT PRIMARY KEY,
    alert_id TEXT NOT NULL,
    record   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_interventions_alert ON crisis_interventions(alert_id);

CREATE TABLE IF NOT EXISTS safety_plans (
    id              TEXT PRIMARY KEY,
    user_commitment TEXT NOT NULL,
    active          INTEGER NOT NULL,
    record          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_safety_user_active ON safety_plans(user_commitment, active);

CREATE TABLE IF NOT EXISTS emergency_contacts (
    id              TEXT PRIMARY KEY,
    user_commitment TEXT NOT NULL,
    record          TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_contacts_user ON emergency_contacts(user_commitment);

CREATE TABLE IF NOT EXISTS nullifiers (
    nullifier TEXT PRIMARY KEY,
    seen_at   INTEGER NOT NULL
);
`

// OpenSQLite opens (creating if needed) a SQLite database at path and
// runs the schema bootstrap.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single writer; WAL keeps readers unblocked during writes.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		`PRAGMA foreign_keys = ON`,
		`PRAGMA journal_mode = WAL`,
		`PRAGMA synchronous = NORMAL`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite pragma: %w", err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}
	return newSQLStore(db, false), nil
}
