package notify

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

const telegramAPI = "https://api.telegram.org"

// TelegramSender sends through the Telegram Bot API. BaseURL overrides the
// API host.
type TelegramSender struct {
	BotToken string
	ChatID   string
	BaseURL  string
	Client   *http.Client
}

type telegramMessage struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

func (s *TelegramSender) Name() string { return "telegram" }

func (s *TelegramSender) Send(ctx context.Context, message string) error {
	if s.BotToken == "" || s.ChatID == "" {
		return errors.New("telegram bot token and chat id are required")
	}
	base := s.BaseURL
	if base == "" {
		base = telegramAPI
	}
	endpoint := strings.TrimRight(base, "/") + "/bot" + s.BotToken + "/sendMessage"
	return postJSON(ctx, s.Client, endpoint, telegramMessage{
		ChatID:                s.ChatID,
		Text:                  message,
		DisableWebPagePreview: true,
	})
}
