// Package docstore persists completed agent runs so transcripts can be
// retrieved after the fact.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrRunNotFound is returned when a run ID is unknown to the store.
var ErrRunNotFound = errors.New("run not found")

// RunRecord is one completed (or aborted) agent run.
type RunRecord struct {
	ID         string    `json:"id"`
	Query      string    `json:"query"`
	Answer     string    `json:"answer"`
	Status     string    `json:"status"`
	Steps      int       `json:"steps"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunRepository defines the interface for run storage.
type RunRepository interface {
	SaveRun(ctx context.Context, run RunRecord) error
	GetRun(ctx context.Context, id string) (RunRecord, error)
	GetAllRuns(ctx context.Context) ([]RunRecord, error)
	DeleteRun(ctx context.Context, id string) error
}

type RepoType string

const (
	RepoTypeRedis  RepoType = "redis"
	RepoTypeMemory RepoType = "memory"
)

// NewRunRepository builds a repository of the given type. Redis
// connection details come from cfg; an empty address falls back to
// localhost:6379.
func NewRunRepository(ctx context.Context, t RepoType, cfg RedisConfig) (RunRepository, error) {
	switch t {
	case RepoTypeRedis:
		c, err := Conn(ctx, cfg)
		if err != nil {
			return nil, err
		}
		return NewRedisRunRepository(c), nil
	case RepoTypeMemory:
		return NewMemoryRunRepository(), nil
	}
	return nil, fmt.Errorf("invalid repository type: %s", t)
}
