package engine

import (
	"database/sql"
	"time"

	"github.com/google/uuid"

	"feedloop/internal/config"
	"feedloop/internal/events"
	"feedloop/internal/prompt"
	"feedloop/internal/repo"
)

type Engine struct {
	DB       *sql.DB
	Repo     repo.Repo
	Events   events.Writer
	Config   *config.Config
	Renderer *prompt.Renderer
	Now      func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:       db,
		Repo:     repo.Repo{DB: db},
		Events:   events.Writer{DB: db},
		Config:   cfg,
		Renderer: prompt.NewRenderer(),
		Now:      time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) nowRFC3339() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) claimBatch() int {
	if e.Config != nil && e.Config.Dispatch.ClaimBatch > 0 {
		return e.Config.Dispatch.ClaimBatch
	}
	return 5
}

func newID() string {
	return uuid.New().String()
}
