package inmemdb

import (
	"context"
	"sort"

	"github.com/trezcool/feedback360/core/notification"
	"github.com/trezcool/feedback360/core/user"
)

var recipientFK = map[user.Role]string{
	user.RoleStudent:     "student_id",
	user.RoleProfessor:   "professor_id",
	user.RoleCoordinator: "coordinator_id",
	user.RoleAdmin:       "admin_id",
}

type notificationRepository struct {
	db *DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(_ context.Context, n notification.Notification) (notification.Notification, error) {
	repo.db.Lock()
	defer repo.db.Unlock()

	table, ok := repo.db.users[n.Recipient.Role]
	if !ok {
		return notification.Notification{}, violation("notifications_check")
	}
	if _, ok = table[n.Recipient.ID]; !ok {
		return notification.Notification{}, violation("notifications_" + recipientFK[n.Recipient.Role] + "_fkey")
	}
	n.ID = repo.db.nextID("notifications")
	repo.db.notifications[n.ID] = n
	return n, nil
}

func (repo *notificationRepository) GetNotification(_ context.Context, id int) (notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	if n, ok := repo.db.notifications[id]; ok {
		return n, nil
	}
	return notification.Notification{}, notification.ErrNotFound
}

func (repo *notificationRepository) QueryNotifications(_ context.Context, rcpt notification.Recipient, unreadOnly bool, limit int) ([]notification.Notification, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var notifs []notification.Notification
	for _, n := range repo.db.notifications {
		if n.Recipient != rcpt || (unreadOnly && n.Read) {
			continue
		}
		notifs = append(notifs, n)
	}
	sort.Slice(notifs, func(i, j int) bool {
		if !notifs[i].CreatedAt.Equal(notifs[j].CreatedAt) {
			return notifs[i].CreatedAt.After(notifs[j].CreatedAt)
		}
		return notifs[i].ID > notifs[j].ID
	})
	if limit > 0 && len(notifs) > limit {
		notifs = notifs[:limit]
	}
	return notifs, nil
}

func (repo *notificationRepository) CountUnread(_ context.Context, rcpt notification.Recipient) (int, error) {
	repo.db.RLock()
	defer repo.db.RUnlock()

	var count int
	for _, n := range repo.db.notifications {
		if n.Recipient == rcpt && !n.Read {
			count++
		}
	}
	return count, nil
}

func (repo *notificationRepository) MarkRead(_ context.Context, rcpt notification.Recipient, ids ...int) error {
	repo.db.Lock()
	defer repo.db.Unlock()

	if len(ids) == 0 {
		for id, n := range repo.db.notifications {
			if n.Recipient == rcpt && !n.Read {
				n.Read = true
				repo.db.notifications[id] = n
			}
		}
		return nil
	}
	for _, id := range ids {
		if n, ok := repo.db.notifications[id]; ok && n.Recipient == rcpt {
			n.Read = true
			repo.db.notifications[id] = n
		}
	}
	return nil
}
