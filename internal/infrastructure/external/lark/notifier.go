package lark

import (
	"context"
	"encoding/json"
	"fmt"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	"go.uber.org/zap"

	"github.com/garyjia/fleet-requests/internal/application/port"
	"github.com/garyjia/fleet-requests/internal/domain/entity"
)

// Config holds Lark application credentials
type Config struct {
	AppID     string
	AppSecret string
}

// messageCreator is the part of the IM API the notifier needs
type messageCreator interface {
	Create(ctx context.Context, req *larkim.CreateMessageReq, options ...larkcore.RequestOptionFunc) (*larkim.CreateMessageResp, error)
}

// Notifier sends stored notifications as Lark IM text messages
type Notifier struct {
	messages messageCreator
	logger   *zap.Logger
}

// NewNotifier creates a notifier backed by the Lark SDK client
func NewNotifier(cfg Config, logger *zap.Logger) *Notifier {
	client := lark.NewClient(cfg.AppID, cfg.AppSecret,
		lark.WithLogLevel(larkcore.LogLevelInfo),
		lark.WithEnableTokenCache(true),
	)
	return newNotifier(client.Im.Message, logger)
}

func newNotifier(messages messageCreator, logger *zap.Logger) *Notifier {
	return &Notifier{
		messages: messages,
		logger:   logger,
	}
}

// Name implements port.NotificationChannel
func (n *Notifier) Name() string {
	return "lark"
}

// Deliver sends the notification to the user's open_id. Users without a Lark account are skipped.
func (n *Notifier) Deliver(ctx context.Context, user *entity.User, notification *entity.Notification) error {
	if user.LarkOpenID == "" {
		n.logger.Debug("Skipping Lark delivery, no open_id", zap.String("user_id", user.ID))
		return nil
	}

	body, err := textMessage(user.LarkOpenID, notification)
	if err != nil {
		return err
	}
	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType("open_id").
		Body(body).
		Build()

	resp, err := n.messages.Create(ctx, req)
	if err != nil {
		n.logger.Error("Failed to send Lark message",
			zap.String("user_id", user.ID),
			zap.Error(err))
		return fmt.Errorf("failed to send message: %w", err)
	}
	if !resp.Success() {
		n.logger.Error("Lark API returned failure",
			zap.String("user_id", user.ID),
			zap.Int("code", resp.Code),
			zap.String("msg", resp.Msg))
		return fmt.Errorf("lark API error: code=%d, msg=%s", resp.Code, resp.Msg)
	}

	n.logger.Info("Lark message sent",
		zap.String("user_id", user.ID),
		zap.String("notification_type", string(notification.Type)))
	return nil
}

// textMessage builds the IM body of a plain text message to openID
func textMessage(openID string, n *entity.Notification) (*larkim.CreateMessageReqBody, error) {
	content, err := json.Marshal(map[string]string{"text": messageText(n)})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message content: %w", err)
	}
	return larkim.NewCreateMessageReqBodyBuilder().
		ReceiveId(openID).
		MsgType("text").
		Content(string(content)).
		Build(), nil
}

func messageText(n *entity.Notification) string {
	if n.Body == "" {
		return n.Title
	}
	return n.Title + "\n" + n.Body
}

var _ port.NotificationChannel = (*Notifier)(nil)
