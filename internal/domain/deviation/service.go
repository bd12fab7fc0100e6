package deviation

import (
	"context"
)

type Service struct {
	markers MarkerRepository
}

func NewService(markers MarkerRepository) *Service {
	return &Service{markers: markers}
}

func (s *Service) ListDeviations(ctx context.Context, params map[string]string, limit, offset int) ([]*Deviation, int, error) {
	return s.markers.List(ctx, params, limit, offset)
}
