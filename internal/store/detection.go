package store

import (
	"database/sql"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// DefaultListLimit caps List when no positive limit is given.
const DefaultListLimit = 50

// Box is a crop box in region pixel coordinates.
type Box struct {
	XMin int `json:"x_min"`
	YMin int `json:"y_min"`
	XMax int `json:"x_max"`
	YMax int `json:"y_max"`
}

// Product is one ranked product of a detection.
type Product struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
}

// Detection is the stored record of one pipeline run.
type Detection struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	Mode       string    `json:"mode"`
	Localized  bool      `json:"localized"`
	Region     int       `json:"region"`
	Box        Box       `json:"box"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
	Products   []Product `json:"products"`
}

// DetectionRepository provides access to the detection history.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns the detection repository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// Create inserts a detection and its products in one transaction.
// CreatedAt is set when zero.
func (r *DetectionRepository) Create(d *Detection) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO detections (id, source, mode, localized, region,
			box_x_min, box_y_min, box_x_max, box_y_max,
			outcome, error, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Source, d.Mode, d.Localized, d.Region,
		d.Box.XMin, d.Box.YMin, d.Box.XMax, d.Box.YMax,
		d.Outcome, d.Error, d.DurationMs, d.CreatedAt,
	)
	if err != nil {
		return err
	}

	for i, p := range d.Products {
		_, err := tx.Exec(
			`INSERT INTO detection_products (detection_id, position, label, confidence)
			 VALUES (?, ?, ?, ?)`,
			d.ID, i, p.Label, p.Confidence,
		)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

const detectionColumns = `id, source, mode, localized, region,
	box_x_min, box_y_min, box_x_max, box_y_max,
	outcome, error, duration_ms, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanDetection(row scanner) (*Detection, error) {
	d := &Detection{}
	err := row.Scan(
		&d.ID, &d.Source, &d.Mode, &d.Localized, &d.Region,
		&d.Box.XMin, &d.Box.YMin, &d.Box.XMax, &d.Box.YMax,
		&d.Outcome, &d.Error, &d.DurationMs, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}

// GetByID retrieves a detection with its products.
func (r *DetectionRepository) GetByID(id string) (*Detection, error) {
	d, err := scanDetection(r.db.QueryRow(
		`SELECT `+detectionColumns+` FROM detections WHERE id = ?`, id,
	))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if d.Products, err = r.products(d.ID); err != nil {
		return nil, err
	}
	return d, nil
}

// List returns the most recent detections, newest first. A limit <= 0
// means DefaultListLimit.
func (r *DetectionRepository) List(limit int) ([]*Detection, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	rows, err := r.db.Query(
		`SELECT `+detectionColumns+` FROM detections
		 ORDER BY created_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}

	var detections []*Detection
	for rows.Next() {
		d, err := scanDetection(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		detections = append(detections, d)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Products are loaded after the cursor is released; the store keeps a
	// single connection.
	rows.Close()

	for _, d := range detections {
		if d.Products, err = r.products(d.ID); err != nil {
			return nil, err
		}
	}
	return detections, nil
}

// Delete removes a detection and its products.
func (r *DetectionRepository) Delete(id string) error {
	result, err := r.db.Exec(`DELETE FROM detections WHERE id = ?`, id)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (r *DetectionRepository) products(id string) ([]Product, error) {
	rows, err := r.db.Query(
		`SELECT label, confidence FROM detection_products
		 WHERE detection_id = ? ORDER BY position`,
		id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.Label, &p.Confidence); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}
