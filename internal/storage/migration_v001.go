package storage

import "database/sql"

// migrateV001 creates the pages, saves, page views, categories and the
// change log. Every statement uses IF NOT EXISTS for idempotency.
func migrateV001(tx *sql.Tx) error {
	stmts := []string{
		// ── Tables ──────────────────────────────────────────────

		`CREATE TABLE IF NOT EXISTS pages (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			namespace_id INTEGER NOT NULL DEFAULT 0,
			title        TEXT NOT NULL,
			timestamp    TEXT NOT NULL,
			UNIQUE(project_id, namespace_id, title)
		)`,

		`CREATE TABLE IF NOT EXISTS save_infos (
			id         TEXT PRIMARY KEY,
			page_id    TEXT NOT NULL UNIQUE REFERENCES pages(id) ON DELETE CASCADE,
			saved_date TEXT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS categories (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			title      TEXT NOT NULL,
			UNIQUE(project_id, title)
		)`,

		`CREATE TABLE IF NOT EXISTS page_views (
			id                    TEXT PRIMARY KEY,
			page_id               TEXT NOT NULL REFERENCES pages(id) ON DELETE CASCADE,
			timestamp             TEXT NOT NULL,
			number_of_seconds     INTEGER NOT NULL DEFAULT 0,
			previous_page_view_id TEXT REFERENCES page_views(id) ON DELETE SET NULL
		)`,

		`CREATE TABLE IF NOT EXISTS page_view_categories (
			id           TEXT PRIMARY KEY,
			page_view_id TEXT NOT NULL REFERENCES page_views(id) ON DELETE CASCADE,
			category_id  TEXT NOT NULL REFERENCES categories(id) ON DELETE CASCADE,
			UNIQUE(page_view_id, category_id)
		)`,

		`CREATE TABLE IF NOT EXISTS transaction_history (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			transaction_id TEXT NOT NULL,
			context        TEXT NOT NULL DEFAULT '',
			entity         TEXT NOT NULL,
			object_id      TEXT NOT NULL,
			operation      TEXT NOT NULL CHECK (operation IN ('insert', 'update', 'delete')),
			columns        TEXT NOT NULL DEFAULT '',
			committed_at   TEXT NOT NULL
		)`,

		// ── Indexes ────────────────────────────────────────────

		`CREATE INDEX IF NOT EXISTS idx_pages_timestamp          ON pages(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_save_infos_saved_date    ON save_infos(saved_date)`,
		`CREATE INDEX IF NOT EXISTS idx_page_views_timestamp     ON page_views(timestamp)`,
		`CREATE INDEX IF NOT EXISTS idx_page_views_page          ON page_views(page_id)`,
		`CREATE INDEX IF NOT EXISTS idx_page_view_categories_cat ON page_view_categories(category_id)`,
		`CREATE INDEX IF NOT EXISTS idx_transaction_history_ts   ON transaction_history(committed_at)`,
	}

	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}
