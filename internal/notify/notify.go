package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"bankfeed/internal/config"
	"bankfeed/internal/models"
	"bankfeed/internal/repository"
)

type Notice struct {
	UserID       uint
	ConnectionID uint
	Kind         string
	Title        string
	Body         string
}

// Service persists and delivers user notices. Every notice gets a
// Notification row; delivery goes out on whichever channels are configured.
type Service struct {
	Repo     repository.Repository
	Config   config.NotifyConfig
	Webhook  *WebhookSender
	Telegram *TelegramSender
	Logger   *zap.Logger
}

func (s *Service) Send(ctx context.Context, notice Notice) error {
	record := &models.Notification{
		UserID:    notice.UserID,
		Kind:      notice.Kind,
		Title:     notice.Title,
		Body:      notice.Body,
		Channel:   s.channel(),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Repo.InsertNotification(ctx, record); err != nil {
		return err
	}

	err := s.deliver(ctx, notice)
	now := time.Now().UTC()
	if err != nil {
		msg := err.Error()
		if merr := s.Repo.MarkNotificationSent(ctx, record.ID, now, &msg); merr != nil && s.Logger != nil {
			s.Logger.Error("mark notification failed", zap.Uint("notification_id", record.ID), zap.Error(merr))
		}
		return err
	}
	return s.Repo.MarkNotificationSent(ctx, record.ID, now, nil)
}

func (s *Service) channel() string {
	switch {
	case s.Config.TelegramToken != "" && s.Config.TelegramChatID != "":
		return "telegram"
	case s.Config.WebhookURL != "":
		return "webhook"
	}
	return "log"
}

func (s *Service) deliver(ctx context.Context, notice Notice) error {
	switch s.channel() {
	case "telegram":
		sender := s.Telegram
		if sender == nil {
			sender = &TelegramSender{}
		}
		text := fmt.Sprintf("%s\n%s", notice.Title, notice.Body)
		return sender.Send(ctx, s.Config.TelegramToken, s.Config.TelegramChatID, text)
	case "webhook":
		sender := s.Webhook
		if sender == nil {
			sender = &WebhookSender{}
		}
		return sender.Send(ctx, s.Config.WebhookURL, WebhookPayload{
			Kind:    notice.Kind,
			UserID:  notice.UserID,
			Title:   notice.Title,
			Message: notice.Body,
		})
	}
	if s.Logger != nil {
		s.Logger.Info("notification (no channel configured)",
			zap.Uint("user_id", notice.UserID),
			zap.String("kind", notice.Kind),
			zap.String("title", notice.Title),
		)
	}
	return nil
}
