package storage

import (
	"context"
	"time"

	"github.com/dshills/codesearch-mcp/pkg/types"
)

// Storage defines the interface for persisting parsed entity graphs.
// It is a cache: every record is keyed by file path and content hash, and a
// hash mismatch is reported as ErrNotFound.
type Storage interface {
	// Project operations
	CreateProject(ctx context.Context, project *Project) error
	GetProject(ctx context.Context, rootPath string) (*Project, error)
	UpdateProject(ctx context.Context, project *Project) error

	// File operations
	LoadFile(ctx context.Context, projectID int64, filePath string, contentHash uint64) (*CachedFile, error)
	SaveFile(ctx context.Context, projectID int64, cached *CachedFile) error
	DeleteFile(ctx context.Context, projectID int64, filePath string) error
	ListFiles(ctx context.Context, projectID int64) ([]*File, error)

	// Status operations
	GetStatus(ctx context.Context, projectID int64) (*ProjectStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// Project represents an indexed working tree
type Project struct {
	ID            int64
	RootPath      string
	IndexVersion  string
	TotalFiles    int
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// File represents a cached source file
type File struct {
	ID            int64
	ProjectID     int64
	FilePath      string // Relative to project root, slash separated
	ContentHash   uint64
	ModTime       time.Time
	SizeBytes     int64
	Unstructured  bool
	ParseError    *string // Nullable
	EntityCount   int
	LastIndexedAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Entity is one row of a file's entity arena
type Entity struct {
	FileID        int64
	Ordinal       int // position in the arena
	ParentOrdinal int // -1 for the file entity
	QualifiedName string
	Name          string
	Kind          string
	StartLine     int
	EndLine       int
	Signature     string
	Docstring     string
}

// CachedFile is a file record together with its entity arena
type CachedFile struct {
	File     File
	Entities []types.CodeEntity
}

// ProjectStatus contains statistics about a cached project
type ProjectStatus struct {
	Project           *Project
	FilesCount        int
	UnstructuredCount int
	EntitiesCount     int
	IndexSizeMB       float64
	LastIndexedAt     time.Time
	Health            HealthStatus
}

// HealthStatus represents the health of the cache
type HealthStatus struct {
	DatabaseAccessible bool
	SchemaVersion      string
}

// ToEntityRows flattens an arena into rows for fileID
func ToEntityRows(fileID int64, entities []types.CodeEntity) []Entity {
	rows := make([]Entity, len(entities))
	for i, e := range entities {
		rows[i] = Entity{
			FileID:        fileID,
			Ordinal:       int(e.ID),
			ParentOrdinal: int(e.Parent),
			QualifiedName: e.QualifiedName,
			Name:          e.Name,
			Kind:          string(e.Kind),
			StartLine:     e.StartLine,
			EndLine:       e.EndLine,
			Signature:     e.Signature,
			Docstring:     e.Docstring,
		}
	}
	return rows
}

// FromEntityRows rebuilds an arena from rows ordered by ordinal. Children are
// derived from parent ordinals, preserving source order.
func FromEntityRows(filePath string, rows []Entity) ([]types.CodeEntity, error) {
	entities := make([]types.CodeEntity, len(rows))
	for i, r := range rows {
		if r.Ordinal != i {
			return nil, ErrCorrupt
		}
		entities[i] = types.CodeEntity{
			ID:            types.EntityID(r.Ordinal),
			QualifiedName: r.QualifiedName,
			Name:          r.Name,
			Kind:          types.EntityKind(r.Kind),
			FilePath:      filePath,
			StartLine:     r.StartLine,
			EndLine:       r.EndLine,
			Signature:     r.Signature,
			Docstring:     r.Docstring,
			Parent:        types.EntityID(r.ParentOrdinal),
		}
		if r.ParentOrdinal >= 0 {
			if r.ParentOrdinal >= i {
				return nil, ErrCorrupt
			}
			entities[r.ParentOrdinal].Children = append(entities[r.ParentOrdinal].Children, types.EntityID(i))
		}
	}
	if err := types.ValidateArena(entities); err != nil {
		return nil, ErrCorrupt
	}
	return entities, nil
}
