package service

import (
	"context"

	"github.com/dipstickit/mickyShop-api/internal/order/domain"
	"github.com/dipstickit/mickyShop-api/internal/order/repo"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// List is the admin listing: free-text filter over id/full name/owner
// username, newest update first, items and owner populated. Limit is
// clamped to 100 no matter what the caller asks for.
func (s *Service) List(ctx context.Context, page, limit int, filter string) (*repo.Page, error) {
	page, limit = clampPaging(page, limit)
	result, err := s.orders.List(ctx, repo.ListQuery{Page: page, Limit: limit, Filter: filter})
	if err != nil {
		return nil, err
	}
	redactPage(result)
	return result, nil
}

// ListForUser filters by owner and an optional status code (1..6; anything
// else means no status filter), expanding variant/product/attribute values
// for display.
func (s *Service) ListForUser(ctx context.Context, userID int64, statusCode, page, limit int) (*repo.Page, error) {
	page, limit = clampPaging(page, limit)
	status, hasStatus := domain.StatusFromCode(statusCode)
	result, err := s.orders.ListByUser(ctx, repo.UserListQuery{
		UserID:    userID,
		Status:    status,
		HasStatus: hasStatus,
		Page:      page,
		Limit:     limit,
	})
	if err != nil {
		return nil, err
	}
	redactPage(result)
	return result, nil
}

func clampPaging(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	return page, limit
}

func redactPage(p *repo.Page) {
	for i := range p.Items {
		if p.Items[i].User != nil {
			p.Items[i].User.Password = ""
		}
	}
}
