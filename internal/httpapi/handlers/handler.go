package handlers

import (
	"context"

	"gorm.io/gorm"

	"github.com/voyago/voyago/internal/config"
	"github.com/voyago/voyago/internal/convo"
)

// TokenProber is what the health endpoint needs from the generation client.
type TokenProber interface {
	AcquireToken(ctx context.Context) (string, error)
}

type Handler struct {
	DB     *gorm.DB
	Cfg    config.Config
	Convo  *convo.Service
	Prober TokenProber
}

func NewHandler(db *gorm.DB, cfg config.Config, svc *convo.Service, prober TokenProber) *Handler {
	return &Handler{DB: db, Cfg: cfg, Convo: svc, Prober: prober}
}
