package core

import (
	"context"

	"github.com/edvin/drvault/internal/catalog"
	"github.com/edvin/drvault/internal/model"
)

type AlertService struct {
	cat *catalog.Services
}

func NewAlertService(cat *catalog.Services) *AlertService {
	return &AlertService{cat: cat}
}

func (s *AlertService) GetByID(ctx context.Context, id string) (*model.Alert, error) {
	return s.cat.Alerts.GetByID(ctx, id)
}

func (s *AlertService) List(ctx context.Context, status string, limit int, cursor string) ([]model.Alert, bool, error) {
	return s.cat.Alerts.List(ctx, status, limit, cursor)
}

func (s *AlertService) Acknowledge(ctx context.Context, id string) error {
	return s.cat.Alerts.Acknowledge(ctx, id)
}

func (s *AlertService) Resolve(ctx context.Context, id string) error {
	return s.cat.Alerts.Resolve(ctx, id)
}
