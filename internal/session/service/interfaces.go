package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"aegis/internal/session/models"
)

type Store interface {
	Create(ctx context.Context, session *models.Session) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Session, error)
	Execute(ctx context.Context, id uuid.UUID, validate func(*models.Session) error, mutate func(*models.Session)) (*models.Session, error)
	CountActiveByDevice(ctx context.Context, fingerprint string, now time.Time) (int, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int, error)
}
