// Package notify tells people that an execution is waiting on them.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/soochol/nodeflow/internal/config"
	"github.com/soochol/nodeflow/internal/nodeflow"
)

const sendTimeout = 10 * time.Second

// Sender delivers a message to one external channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, message string) error
}

// Fanout sends approval notices to every configured sender. It satisfies
// approval.Notifier.
type Fanout struct {
	senders []Sender
	baseURL string
	logger  *slog.Logger
}

func NewFanout(baseURL string, logger *slog.Logger, senders ...Sender) *Fanout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fanout{senders: senders, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// FromConfig builds senders for every channel that has credentials. It
// returns nil when none do.
func FromConfig(cfg config.NotifyConfig, logger *slog.Logger) *Fanout {
	var senders []Sender
	if cfg.SlackWebhookURL != "" {
		senders = append(senders, &SlackSender{WebhookURL: cfg.SlackWebhookURL, Channel: cfg.SlackChannel})
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		senders = append(senders, &TelegramSender{BotToken: cfg.TelegramBotToken, ChatID: cfg.TelegramChatID})
	}
	if len(senders) == 0 {
		return nil
	}
	return NewFanout(cfg.BaseURL, logger, senders...)
}

// ApprovalRequested notifies in the background so a slow channel never
// holds up the pausing execution.
func (f *Fanout) ApprovalRequested(ctx context.Context, req *nodeflow.ApprovalRequest) {
	go func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendTimeout)
		defer cancel()
		if err := f.Notify(ctx, req); err != nil {
			f.logger.Warn("approval notification failed", "approval_id", req.ID, "err", err)
		}
	}()
}

// Notify sends the notice to every sender and joins their errors.
func (f *Fanout) Notify(ctx context.Context, req *nodeflow.ApprovalRequest) error {
	msg := f.message(req)
	var errs []error
	for _, s := range f.senders {
		if err := s.Send(ctx, msg); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
			continue
		}
		f.logger.Debug("approval notification sent", "sender", s.Name(), "approval_id", req.ID)
	}
	return errors.Join(errs...)
}

func (f *Fanout) message(req *nodeflow.ApprovalRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Approval needed for execution %s (node %s)", req.ExecutionID, req.NodeID)
	if req.Message != "" {
		fmt.Fprintf(&sb, "\n\n%s", req.Message)
	}
	if f.baseURL != "" {
		fmt.Fprintf(&sb, "\n\n%s/api/approvals/%s", f.baseURL, req.ID)
	} else {
		fmt.Fprintf(&sb, "\n\nApproval id: %s", req.ID)
	}
	return sb.String()
}

// postJSON sends payload and treats any non-2xx answer as a failure.
func postJSON(ctx context.Context, client *http.Client, url string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(detail)))
	}
	return nil
}
