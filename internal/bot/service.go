package bot

import (
	"context"

	api "github.com/OvyFlash/telegram-bot-api"
	"github.com/pkg/errors"

	"github.com/nauanbek/saqshy/internal/db"
	"github.com/nauanbek/saqshy/internal/signal"
)

type service struct {
	bot *api.BotAPI
	db  db.Client
}

func NewService(bot *api.BotAPI, dbClient db.Client) *service {
	return &service{
		bot: bot,
		db:  dbClient,
	}
}

func (s *service) GetBot() *api.BotAPI {
	return s.bot
}

func (s *service) GetDB() db.Client {
	return s.db
}

// GetProfile returns the group's moderation profile. Groups that never saved
// one get the stock defaults.
func (s *service) GetProfile(ctx context.Context, chatID int64) (*signal.GroupProfile, error) {
	profile, err := s.db.GroupProfile(ctx, chatID)
	if err != nil {
		return nil, errors.WithMessage(err, "get group profile")
	}
	return profile, nil
}

func (s *service) SetProfile(ctx context.Context, profile *signal.GroupProfile) error {
	if err := s.db.SetGroupProfile(ctx, profile); err != nil {
		return errors.WithMessage(err, "set group profile")
	}
	return nil
}
