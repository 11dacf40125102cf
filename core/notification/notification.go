package notification

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/feedback360/core"
	"github.com/trezcool/feedback360/core/user"
)

// Kind is the visual tag of a notification.
type Kind string

const (
	KindInfo    Kind = "info"
	KindWarning Kind = "warning"
	KindSuccess Kind = "success"
	KindDanger  Kind = "danger"
)

func (k Kind) Valid() bool {
	switch k {
	case KindInfo, KindWarning, KindSuccess, KindDanger:
		return true
	}
	return false
}

var (
	ErrNotFound = core.NewNotFoundError("notification")

	nowFunc = time.Now // mockable
)

// Recipient is the single account a notification is addressed to.
type Recipient struct {
	Role user.Role `db:"recipient_role"`
	ID   int       `db:"recipient_id"`
}

func RecipientOf(sess user.Session) Recipient { return Recipient{Role: sess.Role, ID: sess.ID} }

type Notification struct {
	ID        int         `json:"id" db:"id"`
	Title     string      `json:"title" db:"title"`
	Message   string      `json:"message" db:"message"`
	Kind      Kind        `json:"kind" db:"kind"`
	Link      null.String `json:"link" db:"link"`
	Read      bool        `json:"read" db:"read"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
	Recipient
}

type NewNotification struct {
	Recipient Recipient
	Title     string `validate:"required,max=200"`
	Message   string `validate:"required"`
	Kind      Kind
	Link      string
}

type (
	Repository interface {
		CreateNotification(ctx context.Context, n Notification) (Notification, error)
		GetNotification(ctx context.Context, id int) (Notification, error)
		QueryNotifications(ctx context.Context, rcpt Recipient, unreadOnly bool, limit int) ([]Notification, error)
		CountUnread(ctx context.Context, rcpt Recipient) (int, error)
		MarkRead(ctx context.Context, rcpt Recipient, ids ...int) error // all unread when no ids
	}

	Service struct {
		repo      Repository
		validator *core.Validator
	}
)

func NewService(repo Repository, v *core.Validator) *Service {
	return &Service{repo: repo, validator: v}
}

// Notify stores a notification for nn.Recipient. The kind defaults to info.
func (svc *Service) Notify(ctx context.Context, nn NewNotification) (Notification, error) {
	nn.Title = core.CleanString(nn.Title)
	nn.Message = core.CleanString(nn.Message)
	if nn.Kind == "" {
		nn.Kind = KindInfo
	}
	if !nn.Kind.Valid() {
		return Notification{}, core.NewValidationError(errors.Errorf("tipo de notificação inválido: %q", nn.Kind))
	}
	if !nn.Recipient.Role.Valid() || nn.Recipient.ID <= 0 {
		return Notification{}, core.NewValidationError(errors.New("destinatário da notificação inválido"))
	}
	if err := svc.validator.Struct(nn); err != nil {
		return Notification{}, err
	}
	n, err := svc.repo.CreateNotification(ctx, Notification{
		Title:     nn.Title,
		Message:   nn.Message,
		Kind:      nn.Kind,
		Link:      null.NewString(nn.Link, nn.Link != ""),
		CreatedAt: nowFunc().UTC(),
		Recipient: nn.Recipient,
	})
	return n, errors.Wrap(err, "creating notification")
}

// List returns the latest notifications of sess, newest first. A limit <= 0 returns all of them.
func (svc *Service) List(ctx context.Context, sess user.Session, unreadOnly bool, limit int) ([]Notification, error) {
	return svc.repo.QueryNotifications(ctx, RecipientOf(sess), unreadOnly, limit)
}

func (svc *Service) UnreadCount(ctx context.Context, sess user.Session) (int, error) {
	return svc.repo.CountUnread(ctx, RecipientOf(sess))
}

// MarkRead marks one notification of sess as read.
func (svc *Service) MarkRead(ctx context.Context, sess user.Session, id int) (Notification, error) {
	n, err := svc.repo.GetNotification(ctx, id)
	if err != nil {
		return Notification{}, err
	}
	if n.Recipient != RecipientOf(sess) {
		return Notification{}, core.NewPermissionError("esta notificação pertence a outro usuário")
	}
	if err = svc.repo.MarkRead(ctx, n.Recipient, id); err != nil {
		return Notification{}, errors.Wrap(err, "marking notification read")
	}
	n.Read = true
	return n, nil
}

func (svc *Service) MarkAllRead(ctx context.Context, sess user.Session) error {
	return errors.Wrap(svc.repo.MarkRead(ctx, RecipientOf(sess)), "marking notifications read")
}
