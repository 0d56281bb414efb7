package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
	"github.com/garyjia/fleet-requests/internal/domain/workflow"
)

type fakeChannel struct {
	name    string
	deliver func(ctx context.Context, user *entity.User, n *entity.Notification) error

	mu   sync.Mutex
	sent []string
}

func (c *fakeChannel) Name() string { return c.name }

func (c *fakeChannel) Deliver(ctx context.Context, user *entity.User, n *entity.Notification) error {
	c.mu.Lock()
	c.sent = append(c.sent, user.ID)
	c.mu.Unlock()
	if c.deliver != nil {
		return c.deliver(ctx, user, n)
	}
	return nil
}

func (c *fakeChannel) recipients() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

func newNotificationFixture(t *testing.T, channels ...port.NotificationChannel) (*fixture, NotificationService) {
	f := newFixture(t)
	svc := NewNotificationService(f.store.Notifications(), f.store.Users(), channels, time.Second,
		nopLogger{}, WithClock(f.clock), WithMetrics(f.metrics))
	return f, svc
}

func TestNotification_DeliverExpandsRolesAndDeduplicates(t *testing.T) {
	ok := &fakeChannel{name: "socket"}
	f, svc := newNotificationFixture(t, ok)

	svc.Deliver(f.ctx, []Effect{{
		Recipients: []string{"staff1", "to1", "ghost", ""},
		Roles:      []workflow.Role{workflow.RoleTransportOfficer, workflow.RoleDGS},
		Type:       entity.NotificationTripCompleted,
		Title:      "Trip completed",
		RelatedID:  "r1",
	}})

	assert.ElementsMatch(t, []string{"staff1", "to1", "dgs1"}, ok.recipients())
	assert.Equal(t, 3, f.metrics.delivered["socket"])

	list, err := svc.List(f.ctx, "to1", false, 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "r1", list[0].RelatedID)
	assert.False(t, list[0].Read)
}

func TestNotification_ChannelFailureDoesNotStopOthers(t *testing.T) {
	failing := &fakeChannel{
		name: "lark",
		deliver: func(context.Context, *entity.User, *entity.Notification) error {
			return errors.New("lark unavailable")
		},
	}
	ok := &fakeChannel{name: "socket"}
	f, svc := newNotificationFixture(t, failing, ok)

	svc.Deliver(f.ctx, []Effect{{Recipients: []string{"staff1", "sup1"}, Type: entity.NotificationApproved}})

	assert.Equal(t, 2, f.metrics.failed["lark"])
	assert.Equal(t, 2, f.metrics.delivered["socket"])
	assert.ElementsMatch(t, []string{"staff1", "sup1"}, ok.recipients())

	// stored even though one channel failed
	list, err := svc.List(f.ctx, "sup1", true, 10)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestNotification_RunIsAsynchronous(t *testing.T) {
	release := make(chan struct{})
	slow := &fakeChannel{
		name: "slow",
		deliver: func(ctx context.Context, _ *entity.User, _ *entity.Notification) error {
			select {
			case <-release:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	}
	f, svc := newNotificationFixture(t, slow)

	ctx, cancel := context.WithCancel(f.ctx)
	svc.Run(ctx, []Effect{{Recipients: []string{"staff1"}, Type: entity.NotificationApproved}})
	// cancelling the caller must not abort delivery
	cancel()
	close(release)
	svc.Close()

	assert.Equal(t, 1, f.metrics.delivered["slow"])
}

func TestNotification_MarkRead(t *testing.T) {
	f, svc := newNotificationFixture(t)
	svc.Deliver(f.ctx, []Effect{{Recipients: []string{"staff1"}, Type: entity.NotificationApproved}})

	list, err := svc.List(f.ctx, "staff1", true, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)

	err = svc.MarkRead(f.ctx, "sup1", list[0].ID)
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, svc.MarkRead(f.ctx, "staff1", list[0].ID))
	unread, err := svc.List(f.ctx, "staff1", true, 10)
	require.NoError(t, err)
	assert.Empty(t, unread)

	_, err = svc.List(f.ctx, "ghost", false, 10)
	assert.True(t, errors.Is(err, ErrForbidden))
}
