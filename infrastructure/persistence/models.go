// Package persistence provides database storage implementations.
package persistence

import "time"

// RepoModel is the GORM model for repos.
type RepoModel struct {
	ID               int64  `gorm:"primaryKey;autoIncrement"`
	Name             string `gorm:"uniqueIndex;not null"`
	OriginURL        string
	LocalPath        string
	CreatedAt        time.Time
	LastIndexedAt    *time.Time
	IndexedCommitSHA string
	CurrentCommitSHA string
	CommitsBehind    int `gorm:"default:-1"`
	Status           string
}

// TableName returns the table name.
func (RepoModel) TableName() string { return "repos" }

// SymbolModel is the GORM model for parsed source symbols.
type SymbolModel struct {
	ID             int64  `gorm:"primaryKey;autoIncrement"`
	RepoID         int64  `gorm:"index:idx_symbols_repo_file;index:idx_symbols_repo_name;default:1"`
	FilePath       string `gorm:"index:idx_symbols_repo_file"`
	Name           string `gorm:"index:idx_symbols_repo_name"`
	Kind           string
	StartLine      int
	StartCol       int
	EndLine        int
	EndCol         int
	Signature      string
	ParentSymbolID *int64
}

// TableName returns the table name.
func (SymbolModel) TableName() string { return "symbols" }

// ChunkModel is the GORM model for AST-scoped chunks.
type ChunkModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	RepoID        int64  `gorm:"index:idx_chunks_repo_file;default:1"`
	FilePath      string `gorm:"index:idx_chunks_repo_file"`
	SymbolName    string
	ChunkType     string
	StartLine     int
	EndLine       int
	Content       string `gorm:"type:text"`
	TokenEstimate int
}

// TableName returns the table name.
func (ChunkModel) TableName() string { return "chunks" }

// XrefSymbolModel is the GORM model for cross-reference symbols.
// The composite unique index enforces per-repo symbol identity on fresh
// databases; UpsertSymbol additionally checks at insert time so databases
// that predate the index behave identically.
type XrefSymbolModel struct {
	ID            int64  `gorm:"primaryKey;autoIncrement"`
	RepoID        int64  `gorm:"index:idx_xref_symbols_repo_string,unique;default:1"`
	SymbolString  string `gorm:"index:idx_xref_symbols_repo_string,unique"`
	Documentation string `gorm:"type:text"`
}

// TableName returns the table name.
func (XrefSymbolModel) TableName() string { return "xref_symbols" }

// OccurrenceModel is the GORM model for cross-reference occurrences.
type OccurrenceModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	XrefSymbolID int64  `gorm:"index"`
	RepoID       int64  `gorm:"index:idx_occurrences_repo_file;default:1"`
	FilePath     string `gorm:"index:idx_occurrences_repo_file"`
	StartLine    int
	StartCol     int
	EndLine      int
	EndCol       int
	Role         string
}

// TableName returns the table name.
func (OccurrenceModel) TableName() string { return "occurrences" }

// RelationshipModel is the GORM model for cross-reference relationships.
type RelationshipModel struct {
	ID                  int64 `gorm:"primaryKey;autoIncrement"`
	XrefSymbolID        int64 `gorm:"index"`
	RelatedXrefSymbolID int64
	Kind                string
	RepoID              int64 `gorm:"index;default:1"`
}

// TableName returns the table name.
func (RelationshipModel) TableName() string { return "xref_relationships" }

// FileSummaryModel is the GORM model for per-file summaries.
type FileSummaryModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RepoID    int64  `gorm:"index:idx_file_summaries_repo_file,unique;default:1"`
	FilePath  string `gorm:"index:idx_file_summaries_repo_file,unique"`
	Summary   string `gorm:"type:text"`
	Language  string
	LineCount int
}

// TableName returns the table name.
func (FileSummaryModel) TableName() string { return "file_summaries" }

// DirectorySummaryModel is the GORM model for per-directory summaries.
type DirectorySummaryModel struct {
	ID      int64  `gorm:"primaryKey;autoIncrement"`
	RepoID  int64  `gorm:"index:idx_directory_summaries_repo_dir,unique;default:1"`
	DirPath string `gorm:"index:idx_directory_summaries_repo_dir,unique"`
	Summary string `gorm:"type:text"`
}

// TableName returns the table name.
func (DirectorySummaryModel) TableName() string { return "directory_summaries" }

// FileContentModel is the GORM model for stored file contents.
type FileContentModel struct {
	ID        int64  `gorm:"primaryKey;autoIncrement"`
	RepoID    int64  `gorm:"index:idx_file_contents_repo_file,unique;default:1"`
	FilePath  string `gorm:"index:idx_file_contents_repo_file,unique"`
	Content   string `gorm:"type:text"`
	LineCount int
}

// TableName returns the table name.
func (FileContentModel) TableName() string { return "file_contents" }

// QueryModel is the GORM model for query history.
type QueryModel struct {
	ID               int64 `gorm:"primaryKey;autoIncrement"`
	RepoID           int64 `gorm:"index;default:1"`
	Prompt           string `gorm:"type:text"`
	Answer           string `gorm:"type:text"`
	EvidenceJSON     string `gorm:"type:text"`
	Status           string
	Error            string
	CreatedAt        time.Time
	CompletedAt      *time.Time
	DurationSecs     float64
	PromptTokens     int
	CompletionTokens int
	ThinkingTokens   int
	EstimatedCost    float64
	SourceQueryID    *int64
	Strategy         string
}

// TableName returns the table name.
func (QueryModel) TableName() string { return "queries" }

// MetadataModel is the GORM model for the global metadata key-value table.
type MetadataModel struct {
	Key   string `gorm:"primaryKey"`
	Value string
}

// TableName returns the table name.
func (MetadataModel) TableName() string { return "metadata" }
