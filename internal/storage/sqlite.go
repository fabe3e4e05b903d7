package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound is returned when a requested record doesn't exist or its
	// content hash no longer matches
	ErrNotFound = errors.New("not found")
	// ErrAlreadyExists is returned when trying to create a duplicate record
	ErrAlreadyExists = errors.New("already exists")
	// ErrCorrupt is returned when cached rows do not form a valid entity arena
	ErrCorrupt = errors.New("corrupt cache record")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db *sql.DB
}

// connPragmas are applied once per open; the pool holds a single connection
// so they stay in effect for every statement
var connPragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA foreign_keys=ON",
	"PRAGMA busy_timeout=5000",
}

// openDatabase opens the cache database with a single-writer pool
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range connPragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Project operations

// createProjectWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) createProjectWithQuerier(ctx context.Context, q querier, project *Project) error {
	query := `
		INSERT INTO projects (root_path, index_version, created_at, updated_at)
		VALUES (?, ?, ?, ?)
	`
	now := time.Now()
	result, err := q.ExecContext(ctx, query, project.RootPath, project.IndexVersion, now, now)
	if err != nil {
		return fmt.Errorf("failed to create project: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	project.ID = id
	project.CreatedAt = now
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) CreateProject(ctx context.Context, project *Project) error {
	return s.createProjectWithQuerier(ctx, s.querier(), project)
}

// getProjectWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) getProjectWithQuerier(ctx context.Context, q querier, where string, arg interface{}) (*Project, error) {
	query := `
		SELECT id, root_path, index_version, total_files, last_indexed_at, created_at, updated_at
		FROM projects
		WHERE ` + where
	var project Project
	var lastIndexedAt sql.NullTime
	err := q.QueryRowContext(ctx, query, arg).Scan(
		&project.ID, &project.RootPath, &project.IndexVersion, &project.TotalFiles,
		&lastIndexedAt, &project.CreatedAt, &project.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lastIndexedAt.Valid {
		project.LastIndexedAt = lastIndexedAt.Time
	}
	return &project, nil
}

func (s *SQLiteStorage) GetProject(ctx context.Context, rootPath string) (*Project, error) {
	return s.getProjectWithQuerier(ctx, s.querier(), "root_path = ?", rootPath)
}

// updateProjectWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) updateProjectWithQuerier(ctx context.Context, q querier, project *Project) error {
	query := `
		UPDATE projects
		SET index_version = ?, total_files = ?, last_indexed_at = ?, updated_at = ?
		WHERE id = ?
	`
	now := time.Now()
	_, err := q.ExecContext(ctx, query,
		project.IndexVersion, project.TotalFiles, project.LastIndexedAt, now, project.ID)
	if err != nil {
		return fmt.Errorf("failed to update project: %w", err)
	}
	project.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpdateProject(ctx context.Context, project *Project) error {
	return s.updateProjectWithQuerier(ctx, s.querier(), project)
}

// File operations

const fileColumns = `id, project_id, file_path, content_hash, mod_time, size_bytes,
	unstructured, parse_error, entity_count, last_indexed_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanFile(row rowScanner) (*File, error) {
	var file File
	var hash int64
	var parseError sql.NullString
	err := row.Scan(
		&file.ID, &file.ProjectID, &file.FilePath, &hash, &file.ModTime, &file.SizeBytes,
		&file.Unstructured, &parseError, &file.EntityCount,
		&file.LastIndexedAt, &file.CreatedAt, &file.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	// SQLite integers are signed; the hash round-trips through int64 bit for bit
	file.ContentHash = uint64(hash)
	if parseError.Valid {
		file.ParseError = &parseError.String
	}
	return &file, nil
}

// loadFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) loadFileWithQuerier(ctx context.Context, q querier, projectID int64, filePath string, contentHash uint64) (*CachedFile, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE project_id = ? AND file_path = ?`
	file, err := scanFile(q.QueryRowContext(ctx, query, projectID, filePath))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load file: %w", err)
	}
	if file.ContentHash != contentHash {
		return nil, ErrNotFound
	}

	rows, err := q.QueryContext(ctx, `
		SELECT file_id, ordinal, parent_ordinal, qualified_name, name, kind,
		       start_line, end_line, signature, docstring
		FROM entities
		WHERE file_id = ?
		ORDER BY ordinal
	`, file.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entityRows := make([]Entity, 0, file.EntityCount)
	for rows.Next() {
		var e Entity
		var signature, docstring sql.NullString
		if err := rows.Scan(&e.FileID, &e.Ordinal, &e.ParentOrdinal, &e.QualifiedName, &e.Name,
			&e.Kind, &e.StartLine, &e.EndLine, &signature, &docstring); err != nil {
			return nil, err
		}
		e.Signature = signature.String
		e.Docstring = docstring.String
		entityRows = append(entityRows, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(entityRows) != file.EntityCount {
		return nil, ErrCorrupt
	}

	entities, err := FromEntityRows(filePath, entityRows)
	if err != nil {
		return nil, err
	}
	return &CachedFile{File: *file, Entities: entities}, nil
}

func (s *SQLiteStorage) LoadFile(ctx context.Context, projectID int64, filePath string, contentHash uint64) (*CachedFile, error) {
	return s.loadFileWithQuerier(ctx, s.querier(), projectID, filePath, contentHash)
}

// saveFileWithQuerier upserts the file row and replaces its entity rows
func (s *SQLiteStorage) saveFileWithQuerier(ctx context.Context, q querier, projectID int64, cached *CachedFile) error {
	file := &cached.File
	file.ProjectID = projectID
	file.EntityCount = len(cached.Entities)

	query := `
		INSERT INTO files (project_id, file_path, content_hash, mod_time, size_bytes,
		                   unstructured, parse_error, entity_count, last_indexed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			mod_time = excluded.mod_time,
			size_bytes = excluded.size_bytes,
			unstructured = excluded.unstructured,
			parse_error = excluded.parse_error,
			entity_count = excluded.entity_count,
			last_indexed_at = excluded.last_indexed_at,
			updated_at = excluded.updated_at
		RETURNING id
	`
	now := time.Now()
	err := q.QueryRowContext(ctx, query,
		projectID, file.FilePath, int64(file.ContentHash), file.ModTime, file.SizeBytes,
		file.Unstructured, file.ParseError, file.EntityCount, now, now, now).Scan(&file.ID)
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}

	if _, err := q.ExecContext(ctx, `DELETE FROM entities WHERE file_id = ?`, file.ID); err != nil {
		return fmt.Errorf("failed to clear entities: %w", err)
	}

	for _, e := range ToEntityRows(file.ID, cached.Entities) {
		_, err := q.ExecContext(ctx, `
			INSERT INTO entities (file_id, ordinal, parent_ordinal, qualified_name, name, kind,
			                      start_line, end_line, signature, docstring)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.FileID, e.Ordinal, e.ParentOrdinal, e.QualifiedName, e.Name, e.Kind,
			e.StartLine, e.EndLine, e.Signature, e.Docstring)
		if err != nil {
			return fmt.Errorf("failed to insert entity %s: %w", e.QualifiedName, err)
		}
	}

	file.LastIndexedAt = now
	file.UpdatedAt = now
	return nil
}

// SaveFile stores cached atomically, replacing any previous version of the file
func (s *SQLiteStorage) SaveFile(ctx context.Context, projectID int64, cached *CachedFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := s.saveFileWithQuerier(ctx, tx, projectID, cached); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// deleteFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) deleteFileWithQuerier(ctx context.Context, q querier, projectID int64, filePath string) error {
	query := `DELETE FROM files WHERE project_id = ? AND file_path = ?`
	_, err := q.ExecContext(ctx, query, projectID, filePath)
	return err
}

func (s *SQLiteStorage) DeleteFile(ctx context.Context, projectID int64, filePath string) error {
	return s.deleteFileWithQuerier(ctx, s.querier(), projectID, filePath)
}

// listFilesWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) listFilesWithQuerier(ctx context.Context, q querier, projectID int64) ([]*File, error) {
	query := `SELECT ` + fileColumns + ` FROM files WHERE project_id = ? ORDER BY file_path`
	rows, err := q.QueryContext(ctx, query, projectID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	files := make([]*File, 0)
	for rows.Next() {
		file, err := scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, file)
	}
	return files, rows.Err()
}

func (s *SQLiteStorage) ListFiles(ctx context.Context, projectID int64) ([]*File, error) {
	return s.listFilesWithQuerier(ctx, s.querier(), projectID)
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier, projectID int64) (*ProjectStatus, error) {
	project, err := s.getProjectWithQuerier(ctx, q, "id = ?", projectID)
	if err != nil {
		return nil, err
	}

	status := &ProjectStatus{
		Project:       project,
		LastIndexedAt: project.LastIndexedAt,
	}

	err = q.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(unstructured), 0), COALESCE(SUM(entity_count), 0)
		FROM files WHERE project_id = ?
	`, projectID).Scan(&status.FilesCount, &status.UnstructuredCount, &status.EntitiesCount)
	if err != nil {
		return nil, err
	}

	// Calculate database size
	var pageCount, pageSize int
	err = q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount)
	if err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	status.Health = HealthStatus{DatabaseAccessible: true}
	if v, err := schemaVersion(ctx, q); err == nil {
		status.Health.SchemaVersion = v.String()
	}

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier(), projectID)
}

// Transaction methods

func (t *sqliteTx) CreateProject(ctx context.Context, project *Project) error {
	return t.storage.createProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) GetProject(ctx context.Context, rootPath string) (*Project, error) {
	return t.storage.getProjectWithQuerier(ctx, t.querier(), "root_path = ?", rootPath)
}

func (t *sqliteTx) UpdateProject(ctx context.Context, project *Project) error {
	return t.storage.updateProjectWithQuerier(ctx, t.querier(), project)
}

func (t *sqliteTx) LoadFile(ctx context.Context, projectID int64, filePath string, contentHash uint64) (*CachedFile, error) {
	return t.storage.loadFileWithQuerier(ctx, t.querier(), projectID, filePath, contentHash)
}

func (t *sqliteTx) SaveFile(ctx context.Context, projectID int64, cached *CachedFile) error {
	return t.storage.saveFileWithQuerier(ctx, t.querier(), projectID, cached)
}

func (t *sqliteTx) DeleteFile(ctx context.Context, projectID int64, filePath string) error {
	return t.storage.deleteFileWithQuerier(ctx, t.querier(), projectID, filePath)
}

func (t *sqliteTx) ListFiles(ctx context.Context, projectID int64) ([]*File, error) {
	return t.storage.listFilesWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier(), projectID)
}

func (t *sqliteTx) Close() error {
	return fmt.Errorf("cannot close transaction, use Commit or Rollback")
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, fmt.Errorf("nested transactions not supported")
}

// OpenProject returns the project for rootPath, creating it on first use
func OpenProject(ctx context.Context, s Storage, rootPath string) (*Project, error) {
	project, err := s.GetProject(ctx, rootPath)
	if err == nil {
		return project, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	project = &Project{RootPath: rootPath, IndexVersion: CurrentSchemaVersion}
	if err := s.CreateProject(ctx, project); err != nil {
		return nil, err
	}
	return project, nil
}
