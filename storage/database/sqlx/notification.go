package sqlxrepos

import (
	"context"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/feedback360/core/notification"
	"github.com/trezcool/feedback360/core/user"
)

// recipientColumns maps a role to its nullable foreign key in the notifications table.
var recipientColumns = map[user.Role]string{
	user.RoleStudent:     "student_id",
	user.RoleProfessor:   "professor_id",
	user.RoleCoordinator: "coordinator_id",
	user.RoleAdmin:       "admin_id",
}

var notificationSelect = psql.Select(
	"id", "title", "message", "kind", "link", "read", "created_at",
	`CASE
		WHEN student_id IS NOT NULL THEN 'aluno'
		WHEN professor_id IS NOT NULL THEN 'professor'
		WHEN coordinator_id IS NOT NULL THEN 'coordenador'
		ELSE 'admin'
	END AS recipient_role`,
	"COALESCE(student_id, professor_id, coordinator_id, admin_id) AS recipient_id",
).From("notifications")

func recipientColumn(rcpt notification.Recipient) (string, error) {
	col, ok := recipientColumns[rcpt.Role]
	if !ok {
		return "", errors.Errorf("invalid recipient role %q", rcpt.Role)
	}
	return col, nil
}

type notificationRepository struct {
	db *sqlx.DB
}

var _ notification.Repository = (*notificationRepository)(nil) // interface compliance check

func NewNotificationRepository(db *sqlx.DB) notification.Repository {
	return &notificationRepository{db: db}
}

func (repo *notificationRepository) CreateNotification(ctx context.Context, n notification.Notification) (notification.Notification, error) {
	col, err := recipientColumn(n.Recipient)
	if err != nil {
		return n, err
	}
	id, err := insertReturningID(ctx, repo.db, psql.Insert("notifications").
		Columns("title", "message", "kind", "link", "read", "created_at", col).
		Values(n.Title, n.Message, n.Kind, n.Link, n.Read, n.CreatedAt, n.Recipient.ID))
	n.ID = id
	return n, err
}

func (repo *notificationRepository) GetNotification(ctx context.Context, id int) (notification.Notification, error) {
	var n notification.Notification
	err := get(ctx, repo.db, &n, notificationSelect.Where(sq.Eq{"id": id}))
	return n, notFound(err, notification.ErrNotFound)
}

func (repo *notificationRepository) QueryNotifications(ctx context.Context, rcpt notification.Recipient, unreadOnly bool, limit int) ([]notification.Notification, error) {
	col, err := recipientColumn(rcpt)
	if err != nil {
		return nil, err
	}
	b := notificationSelect.Where(sq.Eq{col: rcpt.ID}).OrderBy("created_at DESC", "id DESC")
	if unreadOnly {
		b = b.Where(sq.Eq{"read": false})
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	var notifs []notification.Notification
	err = selectAll(ctx, repo.db, &notifs, b)
	return notifs, err
}

func (repo *notificationRepository) CountUnread(ctx context.Context, rcpt notification.Recipient) (int, error) {
	col, err := recipientColumn(rcpt)
	if err != nil {
		return 0, err
	}
	var count int
	err = get(ctx, repo.db, &count, psql.Select("COUNT(*)").From("notifications").Where(sq.Eq{col: rcpt.ID, "read": false}))
	return count, dbError(err)
}

func (repo *notificationRepository) MarkRead(ctx context.Context, rcpt notification.Recipient, ids ...int) error {
	col, err := recipientColumn(rcpt)
	if err != nil {
		return err
	}
	where := sq.Eq{col: rcpt.ID, "read": false}
	if len(ids) > 0 {
		where["id"] = ids
	}
	_, err = exec(ctx, repo.db, psql.Update("notifications").Set("read", true).Where(where))
	return err
}
