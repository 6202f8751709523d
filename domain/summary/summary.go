// Package summary provides file and directory summary domain types.
package summary

import "context"

// FileSummary is a one-sentence description of a source file.
type FileSummary struct {
	repoID    int64
	filePath  string
	summary   string
	language  string
	lineCount int
}

// NewFileSummary creates a FileSummary.
func NewFileSummary(repoID int64, filePath, text, language string, lineCount int) FileSummary {
	return FileSummary{
		repoID:    repoID,
		filePath:  filePath,
		summary:   text,
		language:  language,
		lineCount: lineCount,
	}
}

// RepoID returns the owning repo.
func (f FileSummary) RepoID() int64 { return f.repoID }

// FilePath returns the repo-relative path.
func (f FileSummary) FilePath() string { return f.filePath }

// Summary returns the summary text.
func (f FileSummary) Summary() string { return f.summary }

// Language returns the detected source language.
func (f FileSummary) Language() string { return f.language }

// LineCount returns the file's line count at summary time.
func (f FileSummary) LineCount() int { return f.lineCount }

// DirectorySummary describes a directory's role, derived bottom-up from its
// children's summaries.
type DirectorySummary struct {
	repoID  int64
	dirPath string
	summary string
}

// NewDirectorySummary creates a DirectorySummary.
func NewDirectorySummary(repoID int64, dirPath, text string) DirectorySummary {
	return DirectorySummary{repoID: repoID, dirPath: dirPath, summary: text}
}

// RepoID returns the owning repo.
func (d DirectorySummary) RepoID() int64 { return d.repoID }

// DirPath returns the repo-relative directory path.
func (d DirectorySummary) DirPath() string { return d.dirPath }

// Summary returns the summary text.
func (d DirectorySummary) Summary() string { return d.summary }

// FileContent is the authoritative stored source for read_file; query-time
// reads never touch the working tree.
type FileContent struct {
	repoID    int64
	filePath  string
	content   string
	lineCount int
}

// NewFileContent creates a FileContent.
func NewFileContent(repoID int64, filePath, content string, lineCount int) FileContent {
	return FileContent{
		repoID:    repoID,
		filePath:  filePath,
		content:   content,
		lineCount: lineCount,
	}
}

// RepoID returns the owning repo.
func (f FileContent) RepoID() int64 { return f.repoID }

// FilePath returns the repo-relative path.
func (f FileContent) FilePath() string { return f.filePath }

// Content returns the full file text.
func (f FileContent) Content() string { return f.content }

// LineCount returns the line count.
func (f FileContent) LineCount() int { return f.lineCount }

// Store persists summaries and file contents.
type Store interface {
	UpsertFileSummary(ctx context.Context, s FileSummary) error
	GetFileSummary(ctx context.Context, repoID int64, filePath string) (FileSummary, error)
	ListFileSummaries(ctx context.Context, repoID int64) ([]FileSummary, error)
	DeleteFileSummariesByFiles(ctx context.Context, repoID int64, filePaths []string) error

	UpsertDirectorySummary(ctx context.Context, s DirectorySummary) error
	GetDirectorySummary(ctx context.Context, repoID int64, dirPath string) (DirectorySummary, error)
	ListDirectorySummaries(ctx context.Context, repoID int64) ([]DirectorySummary, error)
	DeleteDirectorySummaries(ctx context.Context, repoID int64, dirPaths []string) error

	UpsertFileContent(ctx context.Context, c FileContent) error
	GetFileContent(ctx context.Context, repoID int64, filePath string) (FileContent, error)
	ListFilePaths(ctx context.Context, repoID int64) ([]string, error)
	DeleteFileContentsByFiles(ctx context.Context, repoID int64, filePaths []string) error

	DeleteByRepo(ctx context.Context, repoID int64) error
	CountFileSummaries(ctx context.Context, repoID int64) (int64, error)
	CountDirectorySummaries(ctx context.Context, repoID int64) (int64, error)
}
