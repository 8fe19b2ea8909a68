package models

// NotificationCounts holds the two badge counters refreshed by the poller
type NotificationCounts struct {
	Unread                 int `json:"unread"`
	PendingRecommendations int `json:"pending_recommendations"`
}
