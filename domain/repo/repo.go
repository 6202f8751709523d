// Package repo provides repository domain types and lifecycle states.
package repo

import (
	"context"
	"time"
)

// Status represents the repository lifecycle state.
type Status string

// Status values.
const (
	StatusCloning Status = "cloning"
	StatusActive  Status = "active"
	StatusDeleted Status = "deleted"
)

// CommitsBehindUnknown is the sentinel for a repo that has never been
// indexed: there is no indexed commit to count from.
const CommitsBehindUnknown = -1

// Repo represents a tracked source repository.
type Repo struct {
	id            int64
	name          string
	originURL     string
	localPath     string
	createdAt     time.Time
	lastIndexedAt *time.Time
	indexedSHA    string
	currentSHA    string
	commitsBehind int
	status        Status
}

// NewRepo creates a Repo pending its initial clone.
func NewRepo(name, originURL, localPath string) Repo {
	return Repo{
		name:          name,
		originURL:     originURL,
		localPath:     localPath,
		createdAt:     time.Now().UTC(),
		commitsBehind: CommitsBehindUnknown,
		status:        StatusCloning,
	}
}

// NewLocalRepo creates an already-active Repo pointing at an existing local
// working tree. Used for the legacy single-repo migration.
func NewLocalRepo(name, localPath string) Repo {
	return Repo{
		name:          name,
		localPath:     localPath,
		createdAt:     time.Now().UTC(),
		commitsBehind: CommitsBehindUnknown,
		status:        StatusActive,
	}
}

// ReconstructRepo recreates a Repo from persistence.
func ReconstructRepo(
	id int64,
	name, originURL, localPath string,
	createdAt time.Time,
	lastIndexedAt *time.Time,
	indexedSHA, currentSHA string,
	commitsBehind int,
	status Status,
) Repo {
	return Repo{
		id:            id,
		name:          name,
		originURL:     originURL,
		localPath:     localPath,
		createdAt:     createdAt,
		lastIndexedAt: lastIndexedAt,
		indexedSHA:    indexedSHA,
		currentSHA:    currentSHA,
		commitsBehind: commitsBehind,
		status:        status,
	}
}

// ID returns the repo identifier.
func (r Repo) ID() int64 { return r.id }

// Name returns the unique repo name.
func (r Repo) Name() string { return r.name }

// OriginURL returns the clone URL, empty for local-only repos.
func (r Repo) OriginURL() string { return r.originURL }

// LocalPath returns the working tree path.
func (r Repo) LocalPath() string { return r.localPath }

// CreatedAt returns the creation timestamp.
func (r Repo) CreatedAt() time.Time { return r.createdAt }

// LastIndexedAt returns when the repo was last fully indexed, nil if never.
func (r Repo) LastIndexedAt() *time.Time { return r.lastIndexedAt }

// IndexedSHA returns the commit the indexes were built from, empty if never
// indexed.
func (r Repo) IndexedSHA() string { return r.indexedSHA }

// CurrentSHA returns the most recently observed HEAD commit.
func (r Repo) CurrentSHA() string { return r.currentSHA }

// CommitsBehind returns how many commits the index lags HEAD, or
// CommitsBehindUnknown when never indexed.
func (r Repo) CommitsBehind() int { return r.commitsBehind }

// Status returns the lifecycle status.
func (r Repo) Status() Status { return r.status }

// WithID returns a copy with the given identifier.
func (r Repo) WithID(id int64) Repo {
	r.id = id
	return r
}

// WithStatus returns a copy with the given status.
func (r Repo) WithStatus(s Status) Repo {
	r.status = s
	return r
}

// WithLocalPath returns a copy with the given working tree path.
func (r Repo) WithLocalPath(p string) Repo {
	r.localPath = p
	return r
}

// WithCurrentSHA returns a copy with the observed HEAD commit.
func (r Repo) WithCurrentSHA(sha string) Repo {
	r.currentSHA = sha
	return r
}

// WithFreshness returns a copy with the freshness fields updated together.
func (r Repo) WithFreshness(currentSHA string, commitsBehind int) Repo {
	r.currentSHA = currentSHA
	r.commitsBehind = commitsBehind
	return r
}

// WithIndexed marks the repo as indexed at the given commit and time.
// Indexed-at-HEAD means zero commits behind.
func (r Repo) WithIndexed(sha string, at time.Time) Repo {
	r.indexedSHA = sha
	r.currentSHA = sha
	r.commitsBehind = 0
	r.lastIndexedAt = &at
	return r
}

// Store persists repos.
type Store interface {
	Create(ctx context.Context, r Repo) (Repo, error)
	Get(ctx context.Context, id int64) (Repo, error)
	GetByName(ctx context.Context, name string) (Repo, error)
	List(ctx context.Context) ([]Repo, error)
	Update(ctx context.Context, r Repo) error
	Delete(ctx context.Context, id int64) error
}
