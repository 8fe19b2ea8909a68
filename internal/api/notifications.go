package api

import (
	"context"

	"github.com/acadex/acadex-client/internal/models"
)

type countResponse struct {
	Count int `json:"count"`
}

// UnreadNotificationCount fetches the unread-notification badge counter
func (c *Client) UnreadNotificationCount(ctx context.Context) (int, error) {
	var resp countResponse
	if err := c.Get(ctx, "/notifications/unread-count", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// PendingRecommendationCount fetches the pending-recommendation counter
func (c *Client) PendingRecommendationCount(ctx context.Context) (int, error) {
	var resp countResponse
	if err := c.Get(ctx, "/recommendations/pending-count", &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// NotificationCounts fetches both counters sequentially
func (c *Client) NotificationCounts(ctx context.Context) (*models.NotificationCounts, error) {
	unread, err := c.UnreadNotificationCount(ctx)
	if err != nil {
		return nil, err
	}
	pending, err := c.PendingRecommendationCount(ctx)
	if err != nil {
		return nil, err
	}
	return &models.NotificationCounts{
		Unread:                 unread,
		PendingRecommendations: pending,
	}, nil
}
