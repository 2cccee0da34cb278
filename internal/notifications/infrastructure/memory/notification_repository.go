package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	notifications "incident-cloud/internal/notifications/domain"
)

// NotificationRepository keeps notifications in memory.
type NotificationRepository struct {
	mu    sync.RWMutex
	items map[string]*notifications.Notification
	seq   map[string]int64
	next  int64
}

// NewNotificationRepository constructs a repository.
func NewNotificationRepository() *NotificationRepository {
	return &NotificationRepository{
		items: make(map[string]*notifications.Notification),
		seq:   make(map[string]int64),
	}
}

// Save stores a copy of the notification.
func (r *NotificationRepository) Save(ctx context.Context, notification *notifications.Notification) error {
	_ = ctx
	if notification == nil || notification.ID == "" {
		return fmt.Errorf("%w: notification id required", notifications.ErrValidation)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.items[notification.ID]; exists {
		return fmt.Errorf("%w: %s", notifications.ErrDuplicate, notification.ID)
	}
	copied := *notification
	r.items[copied.ID] = &copied
	r.next++
	r.seq[copied.ID] = r.next
	return nil
}

// ListByEmployee returns the employee's notifications newest first.
func (r *NotificationRepository) ListByEmployee(ctx context.Context, employeeID string, unreadOnly bool, limit int) ([]notifications.Notification, error) {
	_ = ctx
	r.mu.RLock()
	result := make([]notifications.Notification, 0)
	for _, item := range r.items {
		if item.EmployeeID != employeeID {
			continue
		}
		if unreadOnly && item.IsRead {
			continue
		}
		result = append(result, *item)
	}
	seq := make(map[string]int64, len(result))
	for _, item := range result {
		seq[item.ID] = r.seq[item.ID]
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return seq[result[i].ID] > seq[result[j].ID]
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

// UnreadCount counts unread notifications for the employee.
func (r *NotificationRepository) UnreadCount(ctx context.Context, employeeID string) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	count := 0
	for _, item := range r.items {
		if item.EmployeeID == employeeID && !item.IsRead {
			count++
		}
	}
	return count, nil
}

// MarkRead marks one notification; unknown ids return ErrNotFound.
func (r *NotificationRepository) MarkRead(ctx context.Context, notificationID string, at time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	item, ok := r.items[notificationID]
	if !ok {
		return fmt.Errorf("%w: %s", notifications.ErrNotFound, notificationID)
	}
	markRead(item, at)
	return nil
}

// MarkAllRead marks all unread notifications for the employee.
func (r *NotificationRepository) MarkAllRead(ctx context.Context, employeeID string, at time.Time) (int64, error) {
	_ = ctx
	return r.markWhere(func(item *notifications.Notification) bool {
		return item.EmployeeID == employeeID
	}, at), nil
}

// MarkIncidentRead marks the employee's unread notifications for one incident.
func (r *NotificationRepository) MarkIncidentRead(ctx context.Context, incidentID, employeeID string, at time.Time) (int64, error) {
	_ = ctx
	return r.markWhere(func(item *notifications.Notification) bool {
		return item.EmployeeID == employeeID && item.IncidentID == incidentID
	}, at), nil
}

func (r *NotificationRepository) markWhere(match func(*notifications.Notification) bool, at time.Time) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var updated int64
	for _, item := range r.items {
		if item.IsRead || !match(item) {
			continue
		}
		markRead(item, at)
		updated++
	}
	return updated
}

func markRead(item *notifications.Notification, at time.Time) {
	if item.IsRead {
		return
	}
	readAt := at
	item.IsRead = true
	item.ReadAt = &readAt
}
