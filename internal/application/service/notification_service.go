package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
)

// NotificationService stores notifications and fans them out to delivery channels.
// Delivery never affects the outcome of the operation that produced it.
type NotificationService interface {
	// Run delivers effects in the background
	Run(ctx context.Context, effects []Effect)
	// Deliver delivers effects and returns when every recipient was attempted
	Deliver(ctx context.Context, effects []Effect)
	List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
	// Close waits for background deliveries to finish
	Close()
}

type notificationServiceImpl struct {
	notifications port.NotificationRepository
	users         port.UserRepository
	channels      []port.NotificationChannel
	logger        Logger
	timeout       time.Duration
	opts          options
	wg            sync.WaitGroup
}

// NewNotificationService creates a notification service delivering over the given channels
func NewNotificationService(
	notifications port.NotificationRepository,
	users port.UserRepository,
	channels []port.NotificationChannel,
	timeout time.Duration,
	logger Logger,
	opts ...Option,
) NotificationService {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &notificationServiceImpl{
		notifications: notifications,
		users:         users,
		channels:      channels,
		logger:        logger,
		timeout:       timeout,
		opts:          newOptions(opts),
	}
}

func (s *notificationServiceImpl) Run(ctx context.Context, effects []Effect) {
	if len(effects) == 0 {
		return
	}
	// detach from the request so delivery outlives the HTTP response
	ctx = context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Deliver(ctx, effects)
	}()
}

func (s *notificationServiceImpl) Deliver(ctx context.Context, effects []Effect) {
	for _, effect := range effects {
		effectCtx, cancel := context.WithTimeout(ctx, s.timeout)
		s.deliverEffect(effectCtx, effect)
		cancel()
	}
}

func (s *notificationServiceImpl) deliverEffect(ctx context.Context, effect Effect) {
	for _, user := range s.recipients(ctx, effect) {
		n := &entity.Notification{
			ID:        uuid.NewString(),
			UserID:    user.ID,
			Type:      effect.Type,
			Title:     effect.Title,
			Body:      effect.Body,
			RelatedID: effect.RelatedID,
			CreatedAt: s.opts.now(),
		}
		if err := s.notifications.Create(ctx, n); err != nil {
			s.opts.metrics.NotificationFailed("store")
			s.logger.Warn("Failed to store notification", "user_id", user.ID, "type", n.Type, "error", err)
			continue
		}

		for _, ch := range s.channels {
			if err := ch.Deliver(ctx, user, n); err != nil {
				s.opts.metrics.NotificationFailed(ch.Name())
				s.logger.Warn("Notification delivery failed",
					"channel", ch.Name(),
					"user_id", user.ID,
					"notification_id", n.ID,
					"error", err,
				)
				continue
			}
			s.opts.metrics.NotificationDelivered(ch.Name())
		}
	}
}

// recipients resolves explicit ids and role members into distinct users
func (s *notificationServiceImpl) recipients(ctx context.Context, effect Effect) []*entity.User {
	seen := make(map[string]bool)
	var users []*entity.User

	add := func(u *entity.User) {
		if u == nil || seen[u.ID] {
			return
		}
		seen[u.ID] = true
		users = append(users, u)
	}

	for _, id := range effect.Recipients {
		if id == "" || seen[id] {
			continue
		}
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			s.logger.Warn("Failed to resolve notification recipient", "user_id", id, "error", err)
			continue
		}
		add(u)
	}
	for _, role := range effect.Roles {
		members, err := s.users.ListByRole(ctx, role)
		if err != nil {
			s.logger.Warn("Failed to resolve role members", "role", role, "error", err)
			continue
		}
		for _, u := range members {
			add(u)
		}
	}
	return users
}

func (s *notificationServiceImpl) List(ctx context.Context, userID string, unreadOnly bool, limit int) ([]*entity.Notification, error) {
	if _, err := loadActor(ctx, s.users, userID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	list, err := s.notifications.ListByUser(ctx, userID, unreadOnly, limit)
	if err != nil {
		return nil, internal(err, "list notifications")
	}
	return list, nil
}

func (s *notificationServiceImpl) MarkRead(ctx context.Context, userID, id string) error {
	if _, err := loadActor(ctx, s.users, userID); err != nil {
		return err
	}
	if err := s.notifications.MarkRead(ctx, userID, id); err != nil {
		return fromStore(err, "mark notification read")
	}
	return nil
}

func (s *notificationServiceImpl) Close() {
	s.wg.Wait()
}
