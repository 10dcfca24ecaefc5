// Package replaylog records drives and estimator runs in SQLite so that a
// session can be replayed offline with different tuning.
package replaylog

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/pose.estimator/internal/geometry"
	"github.com/banshee-data/pose.estimator/internal/monitoring"
	"github.com/banshee-data/pose.estimator/internal/sim"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrSessionNotFound is returned when a session ID is not in the log.
var ErrSessionNotFound = errors.New("session not found")

// Store is a replay log backed by a SQLite file.
type Store struct {
	*sql.DB
}

// Session summarises one recorded drive.
type Session struct {
	ID         string
	Drivetrain sim.Drivetrain
	Note       string
	Ticks      int
	Vision     int
	CreatedAt  time.Time
}

// Run summarises one estimator pass over a session.
type Run struct {
	ID              string
	SessionID       string
	Label           string
	Filter          string
	TranslationRMSE float64
	TranslationMax  float64
	HeadingRMSE     float64
	VisionApplied   int
	CreatedAt       time.Time
}

// pragmas are applied to every pooled connection.
var pragmas = []string{
	"_pragma=busy_timeout(5000)",
	"_pragma=journal_mode(WAL)",
	"_pragma=synchronous(NORMAL)",
	"_pragma=temp_store(MEMORY)",
	"_pragma=foreign_keys(1)",
}

// Open opens or creates the log at path and migrates it to the latest
// schema.
func Open(path string) (*Store, error) {
	dsn := path + "?" + strings.Join(pragmas, "&")
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open replay log: %w", err)
	}
	s := &Store{db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// MigrateUp runs all pending migrations up to the latest version.
// Returns nil if no migrations were needed (already at latest version).
func (s *Store) MigrateUp() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration.
func (s *Store) MigrateDown() error {
	m, err := s.newMigrate()
	if err != nil {
		return err
	}

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration down failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
// Returns 0, false, nil if no migrations have been applied yet.
func (s *Store) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := s.newMigrate()
	if err != nil {
		return 0, false, err
	}

	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

// newMigrate creates a migrate instance reading the embedded migrations.
func (s *Store) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to load embedded migrations: %w", err)
	}

	driver, err := sqlite.WithInstance(s.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	monitoring.Logf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// SaveDrive records drive under a new session ID and returns the ID.
func (s *Store) SaveDrive(ctx context.Context, drive *sim.Drive, note string) (string, error) {
	id := uuid.NewString()

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (session_id, drivetrain, start_x, start_y, start_theta, start_gyro, note)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, string(drive.Drivetrain), drive.Start.X(), drive.Start.Y(), drive.Start.Rotation.Radians(),
		drive.StartGyro, note)
	if err != nil {
		return "", fmt.Errorf("failed to insert session: %w", err)
	}

	tickStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO ticks (session_id, seq, t, gyro, wheel_speeds, wheel_positions, module_angles,
			truth_x, truth_y, truth_theta)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare tick insert: %w", err)
	}
	defer tickStmt.Close()

	for i, tick := range drive.Ticks {
		speeds, err := json.Marshal(tick.WheelSpeeds)
		if err != nil {
			return "", err
		}
		positions, err := json.Marshal(tick.WheelPositions)
		if err != nil {
			return "", err
		}
		var angles sql.NullString
		if tick.ModuleAngles != nil {
			b, err := json.Marshal(tick.ModuleAngles)
			if err != nil {
				return "", err
			}
			angles = sql.NullString{String: string(b), Valid: true}
		}
		if _, err := tickStmt.ExecContext(ctx, id, i, tick.T, tick.Gyro, string(speeds), string(positions), angles,
			tick.Truth.X(), tick.Truth.Y(), tick.Truth.Rotation.Radians()); err != nil {
			return "", fmt.Errorf("failed to insert tick %d: %w", i, err)
		}
	}

	visionStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO vision (session_id, seq, captured_at, arrived_at, x, y, theta)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare vision insert: %w", err)
	}
	defer visionStmt.Close()

	for i, v := range drive.Vision {
		if _, err := visionStmt.ExecContext(ctx, id, i, v.Timestamp, v.ArrivedAt,
			v.Pose.X(), v.Pose.Y(), v.Pose.Rotation.Radians()); err != nil {
			return "", fmt.Errorf("failed to insert vision %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit session: %w", err)
	}
	monitoring.Logf("replaylog: saved session %s (%s, %d ticks, %d vision)",
		id, drive.Drivetrain, len(drive.Ticks), len(drive.Vision))
	return id, nil
}

// LoadDrive reads back the drive recorded under id.
func (s *Store) LoadDrive(ctx context.Context, id string) (*sim.Drive, error) {
	var (
		drivetrain        string
		sx, sy, sth, gyro float64
	)
	err := s.QueryRowContext(ctx, `
		SELECT drivetrain, start_x, start_y, start_theta, start_gyro
		FROM sessions WHERE session_id = ?`, id).Scan(&drivetrain, &sx, &sy, &sth, &gyro)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}
	dt, err := sim.ParseDrivetrain(drivetrain)
	if err != nil {
		return nil, err
	}

	drive := &sim.Drive{
		Drivetrain: dt,
		Start:      geometry.NewPose2d(sx, sy, geometry.FromRadians(sth)),
		StartGyro:  gyro,
	}

	rows, err := s.QueryContext(ctx, `
		SELECT t, gyro, wheel_speeds, wheel_positions, module_angles, truth_x, truth_y, truth_theta
		FROM ticks WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query ticks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tick              sim.Tick
			speeds, positions string
			angles            sql.NullString
			tx, ty, tth       float64
		)
		if err := rows.Scan(&tick.T, &tick.Gyro, &speeds, &positions, &angles, &tx, &ty, &tth); err != nil {
			return nil, fmt.Errorf("failed to scan tick: %w", err)
		}
		if err := json.Unmarshal([]byte(speeds), &tick.WheelSpeeds); err != nil {
			return nil, fmt.Errorf("failed to decode wheel speeds: %w", err)
		}
		if err := json.Unmarshal([]byte(positions), &tick.WheelPositions); err != nil {
			return nil, fmt.Errorf("failed to decode wheel positions: %w", err)
		}
		if angles.Valid {
			if err := json.Unmarshal([]byte(angles.String), &tick.ModuleAngles); err != nil {
				return nil, fmt.Errorf("failed to decode module angles: %w", err)
			}
		}
		tick.Truth = geometry.NewPose2d(tx, ty, geometry.FromRadians(tth))
		drive.Ticks = append(drive.Ticks, tick)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	vrows, err := s.QueryContext(ctx, `
		SELECT captured_at, arrived_at, x, y, theta
		FROM vision WHERE session_id = ? ORDER BY seq`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query vision: %w", err)
	}
	defer vrows.Close()

	for vrows.Next() {
		var (
			v        sim.VisionMeasurement
			x, y, th float64
		)
		if err := vrows.Scan(&v.Timestamp, &v.ArrivedAt, &x, &y, &th); err != nil {
			return nil, fmt.Errorf("failed to scan vision: %w", err)
		}
		v.Pose = geometry.NewPose2d(x, y, geometry.FromRadians(th))
		drive.Vision = append(drive.Vision, v)
	}
	return drive, vrows.Err()
}

// ListSessions returns every recorded session, newest first.
func (s *Store) ListSessions(ctx context.Context) ([]Session, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT s.session_id, s.drivetrain, s.note, s.created_at,
			(SELECT COUNT(*) FROM ticks t WHERE t.session_id = s.session_id),
			(SELECT COUNT(*) FROM vision v WHERE v.session_id = s.session_id)
		FROM sessions s
		ORDER BY s.created_at DESC, s.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var (
			sess       Session
			drivetrain string
		)
		if err := rows.Scan(&sess.ID, &drivetrain, &sess.Note, &sess.CreatedAt, &sess.Ticks, &sess.Vision); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sess.Drivetrain = sim.Drivetrain(drivetrain)
		out = append(out, sess)
	}
	return out, rows.Err()
}

// DeleteSession removes a session together with its ticks, vision and runs.
func (s *Store) DeleteSession(ctx context.Context, id string) error {
	res, err := s.ExecContext(ctx, `DELETE FROM sessions WHERE session_id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return nil
}

// SaveRun records an estimator pass over session sessionID and returns the
// run ID.
func (s *Store) SaveRun(ctx context.Context, sessionID, label, filter string, res *sim.Result) (string, error) {
	id := uuid.NewString()

	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, session_id, label, filter, translation_rmse, translation_max,
			heading_rmse, vision_applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, sessionID, label, filter, res.Summary.TranslationRMSE, res.Summary.TranslationMax,
		res.Summary.HeadingRMSE, res.VisionApplied)
	if err != nil {
		return "", fmt.Errorf("failed to insert run: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO estimates (run_id, seq, t, x, y, theta) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare estimate insert: %w", err)
	}
	defer stmt.Close()

	for i, smp := range res.Samples {
		if _, err := stmt.ExecContext(ctx, id, i, smp.T,
			smp.Estimate.X(), smp.Estimate.Y(), smp.Estimate.Rotation.Radians()); err != nil {
			return "", fmt.Errorf("failed to insert estimate %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit run: %w", err)
	}
	return id, nil
}

// Runs returns the runs recorded for a session, oldest first.
func (s *Store) Runs(ctx context.Context, sessionID string) ([]Run, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT run_id, session_id, label, filter, translation_rmse, translation_max, heading_rmse,
			vision_applied, created_at
		FROM runs WHERE session_id = ?
		ORDER BY created_at, rowid`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Label, &r.Filter, &r.TranslationRMSE, &r.TranslationMax,
			&r.HeadingRMSE, &r.VisionApplied, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Estimates returns the estimated poses of a run in tick order.
func (s *Store) Estimates(ctx context.Context, runID string) ([]geometry.Pose2d, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT x, y, theta FROM estimates WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query estimates: %w", err)
	}
	defer rows.Close()

	var out []geometry.Pose2d
	for rows.Next() {
		var x, y, th float64
		if err := rows.Scan(&x, &y, &th); err != nil {
			return nil, fmt.Errorf("failed to scan estimate: %w", err)
		}
		out = append(out, geometry.NewPose2d(x, y, geometry.FromRadians(th)))
	}
	return out, rows.Err()
}
