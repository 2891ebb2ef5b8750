package store

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Detections table - one row per pipeline run
		`CREATE TABLE IF NOT EXISTS detections (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL CHECK(source IN ('file', 'camera', 'http', 'live', 'telegram')),
			mode TEXT NOT NULL,
			localized INTEGER NOT NULL DEFAULT 0,
			region INTEGER NOT NULL DEFAULT -1,
			box_x_min INTEGER NOT NULL DEFAULT 0,
			box_y_min INTEGER NOT NULL DEFAULT 0,
			box_x_max INTEGER NOT NULL DEFAULT 0,
			box_y_max INTEGER NOT NULL DEFAULT 0,
			outcome TEXT NOT NULL CHECK(outcome IN ('detected', 'none', 'invalid', 'failed')),
			error TEXT NOT NULL DEFAULT '',
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,

		// Detection products table - ranked products of a detection
		`CREATE TABLE IF NOT EXISTS detection_products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			detection_id TEXT NOT NULL REFERENCES detections(id) ON DELETE CASCADE,
			position INTEGER NOT NULL,
			label TEXT NOT NULL,
			confidence REAL NOT NULL
		)`,

		// Settings table - stores application settings as key-value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// Indexes for better query performance
		`CREATE INDEX IF NOT EXISTS idx_detection_products_detection_id ON detection_products(detection_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return err
		}
	}

	return nil
}
