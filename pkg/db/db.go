// Package db pkg/db/db.go provides SQLite storage for anomaly records and
// the persisted device registry.
package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"time"

	// SQLite driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/mfreeman451/healthradar/pkg/models"
)

const (
	// SQL statements for database initialization.
	createTablesSQL = `
		CREATE TABLE IF NOT EXISTS devices (
			device_id TEXT PRIMARY KEY,
			first_seen TIMESTAMP NOT NULL,
			last_seen TIMESTAMP NOT NULL,
			reading_count INTEGER NOT NULL DEFAULT 0,
			status TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS anomalies (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			device_id TEXT NOT NULL,
			detected_at TIMESTAMP NOT NULL,
			kind TEXT NOT NULL,
			severity TEXT NOT NULL,
			classifier_score REAL,
			reading TEXT,
			UNIQUE(device_id, detected_at, kind)
		);

		CREATE INDEX IF NOT EXISTS idx_anomalies_device_time
			ON anomalies(device_id, detected_at);
		CREATE INDEX IF NOT EXISTS idx_anomalies_time
			ON anomalies(detected_at);
		CREATE INDEX IF NOT EXISTS idx_anomalies_kind
			ON anomalies(kind);
	`

	// Idempotent insert: the natural key (device_id, detected_at, kind)
	// silently drops duplicate writes caused by transport redelivery.
	insertAnomalySQL = `
		INSERT INTO anomalies
			(device_id, detected_at, kind, severity, classifier_score, reading)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(device_id, detected_at, kind) DO NOTHING
	`

	upsertDeviceSQL = `
		INSERT INTO devices (device_id, first_seen, last_seen, reading_count, status)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(device_id) DO UPDATE SET
			last_seen = excluded.last_seen,
			reading_count = excluded.reading_count,
			status = excluded.status
	`
)

// DB represents the database connection and operations.
type DB struct {
	*sql.DB
}

// New creates a new database connection and initializes the schema.
func New(dbPath string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedOpenDB, err)
	}

	// Enable WAL mode for better concurrent access
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToEnableWAL, err)
	}

	db := &DB{sqlDB}
	if err := db.initSchema(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedToInit, err)
	}

	return db, nil
}

// initSchema creates the database tables if they don't exist.
func (db *DB) initSchema() error {
	_, err := db.Exec(createTablesSQL)

	return err
}

// InsertAnomalies writes a batch of anomaly records inside one transaction.
// Records already present under their idempotency key are skipped; the
// return value is the number of rows actually inserted. IDs are assigned on
// the records that were stored.
func (db *DB) InsertAnomalies(records []*models.AnomalyRecord) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToBeginTx, err)
	}

	var committed bool

	defer func() {
		if !committed {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Printf("failed to rollback: %v", rbErr)
			}
		}
	}()

	inserted := 0

	for _, rec := range records {
		var readingJSON interface{}

		if rec.Reading != nil {
			data, err := json.Marshal(rec.Reading)
			if err != nil {
				return inserted, fmt.Errorf("%w reading snapshot: %w", ErrFailedToInsert, err)
			}

			readingJSON = string(data)
		}

		var score interface{}
		if rec.Score != nil {
			score = *rec.Score
		}

		res, err := tx.Exec(insertAnomalySQL,
			rec.DeviceID, rec.DetectedAt, string(rec.Kind), string(rec.Severity),
			score, readingJSON)
		if err != nil {
			return inserted, fmt.Errorf("%w anomaly: %w", ErrFailedToInsert, err)
		}

		affected, err := res.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("%w anomaly: %w", ErrFailedToInsert, err)
		}

		if affected == 0 {
			// Duplicate delivery, already stored.
			continue
		}

		id, err := res.LastInsertId()
		if err != nil {
			return inserted, fmt.Errorf("%w anomaly: %w", ErrFailedToInsert, err)
		}

		rec.ID = id
		inserted++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFailedToInsert, err)
	}

	committed = true

	return inserted, nil
}

// queryBuilder helps construct SQL queries with parameters.
type queryBuilder struct {
	query string
	args  []interface{}
}

func newAnomalyQueryBuilder() *queryBuilder {
	return &queryBuilder{
		query: `
			SELECT id, device_id, detected_at, kind, severity, classifier_score, reading
			FROM anomalies
			WHERE 1=1
		`,
		args: make([]interface{}, 0),
	}
}

func (qb *queryBuilder) addDeviceFilter(deviceID string) {
	if deviceID != "" {
		qb.query += " AND device_id = ?"
		qb.args = append(qb.args, deviceID)
	}
}

func (qb *queryBuilder) addKindFilter(kind models.AnomalyKind) {
	if kind != "" {
		qb.query += " AND kind = ?"
		qb.args = append(qb.args, string(kind))
	}
}

func (qb *queryBuilder) addTimeRangeFilter(startTime, endTime time.Time) {
	if !startTime.IsZero() {
		qb.query += " AND detected_at >= ?"
		qb.args = append(qb.args, startTime)
	}

	if !endTime.IsZero() {
		qb.query += " AND detected_at <= ?"
		qb.args = append(qb.args, endTime)
	}
}

func (qb *queryBuilder) addOrderAndLimit(limit int) {
	qb.query += " ORDER BY detected_at DESC"

	if limit > 0 {
		qb.query += " LIMIT ?"
		qb.args = append(qb.args, limit)
	}
}

// ListAnomalies retrieves stored anomaly records, most recent first.
func (db *DB) ListAnomalies(filter *AnomalyFilter) ([]models.AnomalyRecord, error) {
	if filter == nil {
		filter = &AnomalyFilter{}
	}

	qb := newAnomalyQueryBuilder()
	qb.addDeviceFilter(filter.DeviceID)
	qb.addKindFilter(filter.Kind)
	qb.addTimeRangeFilter(filter.Start, filter.End)
	qb.addOrderAndLimit(filter.Limit)

	rows, err := db.Query(qb.query, qb.args...)
	if err != nil {
		return nil, fmt.Errorf("%w anomalies: %w", ErrFailedToQuery, err)
	}

	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}(rows)

	var records []models.AnomalyRecord

	for rows.Next() {
		rec, err := scanAnomaly(rows)
		if err != nil {
			return nil, err
		}

		records = append(records, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w anomalies: %w", ErrFailedToQuery, err)
	}

	return records, nil
}

func scanAnomaly(rows *sql.Rows) (*models.AnomalyRecord, error) {
	var (
		rec         models.AnomalyRecord
		kind        string
		severity    string
		score       sql.NullFloat64
		readingJSON sql.NullString
	)

	if err := rows.Scan(&rec.ID, &rec.DeviceID, &rec.DetectedAt,
		&kind, &severity, &score, &readingJSON); err != nil {
		return nil, fmt.Errorf("%w anomaly row: %w", ErrFailedToScan, err)
	}

	rec.Kind = models.AnomalyKind(kind)
	rec.Severity = models.Severity(severity)

	if score.Valid {
		s := score.Float64
		rec.Score = &s
	}

	if readingJSON.Valid {
		var reading models.Reading
		if err := json.Unmarshal([]byte(readingJSON.String), &reading); err != nil {
			return nil, fmt.Errorf("%w reading snapshot: %w", ErrFailedToScan, err)
		}

		rec.Reading = &reading
	}

	return &rec, nil
}

// CountAnomalies returns the total number of stored anomaly records.
func (db *DB) CountAnomalies() (int64, error) {
	var count int64

	if err := db.QueryRow("SELECT COUNT(*) FROM anomalies").Scan(&count); err != nil {
		return 0, fmt.Errorf("%w anomaly count: %w", ErrFailedToQuery, err)
	}

	return count, nil
}

// UpsertDevice persists a device registry snapshot.
func (db *DB) UpsertDevice(device *models.Device) error {
	_, err := db.Exec(upsertDeviceSQL,
		device.DeviceID, device.FirstSeen, device.LastSeen,
		device.ReadingCount, string(device.Status))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFailedToUpsert, err)
	}

	return nil
}

// GetDevice retrieves one persisted device by ID.
func (db *DB) GetDevice(deviceID string) (*models.Device, error) {
	const querySQL = `
		SELECT device_id, first_seen, last_seen, reading_count, status
		FROM devices
		WHERE device_id = ?
	`

	var (
		device models.Device
		status string
	)

	err := db.QueryRow(querySQL, deviceID).Scan(
		&device.DeviceID, &device.FirstSeen, &device.LastSeen,
		&device.ReadingCount, &status)
	if err == sql.ErrNoRows {
		return nil, ErrDeviceNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("%w device: %w", ErrFailedToQuery, err)
	}

	device.Status = models.DeviceStatus(status)

	return &device, nil
}

// ListDevices returns all persisted devices ordered by ID.
func (db *DB) ListDevices() ([]models.Device, error) {
	const querySQL = `
		SELECT device_id, first_seen, last_seen, reading_count, status
		FROM devices
		ORDER BY device_id
	`

	rows, err := db.Query(querySQL)
	if err != nil {
		return nil, fmt.Errorf("%w devices: %w", ErrFailedToQuery, err)
	}

	defer func(rows *sql.Rows) {
		if err := rows.Close(); err != nil {
			log.Printf("failed to close rows: %v", err)
		}
	}(rows)

	var devices []models.Device

	for rows.Next() {
		var (
			device models.Device
			status string
		)

		if err := rows.Scan(&device.DeviceID, &device.FirstSeen, &device.LastSeen,
			&device.ReadingCount, &status); err != nil {
			return nil, fmt.Errorf("%w device row: %w", ErrFailedToScan, err)
		}

		device.Status = models.DeviceStatus(status)
		devices = append(devices, device)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w devices: %w", ErrFailedToQuery, err)
	}

	return devices, nil
}

// CleanOldData removes anomaly records older than the retention period.
func (db *DB) CleanOldData(retentionPeriod time.Duration) error {
	cutoff := time.Now().Add(-retentionPeriod)

	if _, err := db.Exec(
		"DELETE FROM anomalies WHERE detected_at < ?",
		cutoff,
	); err != nil {
		return fmt.Errorf("%w anomalies: %w", ErrFailedToClean, err)
	}

	return nil
}
