package mailer

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/kanalbot/kanal/internal/config"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

type graphPoller struct {
	logger   *slog.Logger
	cfg      config.GraphConfig
	interval time.Duration
	handle   func(ctx context.Context, mail inboundEmail)
	creds    *clientcredentials.Config
}

func newGraphPoller(log *slog.Logger, cfg config.EmailConfig, handle func(ctx context.Context, mail inboundEmail)) *graphPoller {
	return &graphPoller{
		logger:   log.With(slog.String("provider", "graph")),
		cfg:      cfg.Graph,
		interval: cfg.PollInterval(),
		handle:   handle,
		creds: &clientcredentials.Config{
			ClientID:     cfg.Graph.ClientID,
			ClientSecret: cfg.Graph.ClientSecret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Graph.TenantID),
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		},
	}
}

func (p *graphPoller) poll(ctx context.Context) {
	client := p.creds.Client(ctx)
	p.logger.Info("graph poller started", slog.String("user", p.cfg.User))
	for {
		if err := p.fetchUnread(ctx, client); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("fetch unread messages", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(p.interval):
		}
	}
}

type graphMessage struct {
	ID                string `json:"id"`
	InternetMessageID string `json:"internetMessageId"`
	ConversationID    string `json:"conversationId"`
	Subject           string `json:"subject"`
	Body              struct {
		ContentType string `json:"contentType"`
		Content     string `json:"content"`
	} `json:"body"`
	From struct {
		EmailAddress struct {
			Name    string `json:"name"`
			Address string `json:"address"`
		} `json:"emailAddress"`
	} `json:"from"`
}

func (p *graphPoller) fetchUnread(ctx context.Context, client *http.Client) error {
	endpoint := fmt.Sprintf("%s/users/%s/mailFolders/inbox/messages?%s",
		graphBaseURL, url.PathEscape(p.cfg.User),
		url.Values{
			"$filter": {"isRead eq false"},
			"$top":    {"10"},
			"$select": {"id,internetMessageId,conversationId,subject,body,from"},
		}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("graph returned %d: %s", resp.StatusCode, string(body))
	}

	var payload struct {
		Value []graphMessage `json:"value"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decode messages: %w", err)
	}

	for _, msg := range payload.Value {
		inbound := inboundEmail{
			messageID:        msg.InternetMessageID,
			from:             msg.From.EmailAddress.Address,
			senderName:       msg.From.EmailAddress.Name,
			subject:          msg.Subject,
			providerThreadID: msg.ConversationID,
		}
		if inbound.messageID == "" {
			inbound.messageID = msg.ID
		}
		if strings.EqualFold(msg.Body.ContentType, "html") {
			inbound.bodyHTML = msg.Body.Content
		} else {
			inbound.bodyText = msg.Body.Content
		}

		p.handle(ctx, inbound)
		p.markAsRead(ctx, client, msg.ID)
	}
	return nil
}

// markAsRead is best effort; a failure just means the message is seen again
// next cycle and dedup drops it.
func (p *graphPoller) markAsRead(ctx context.Context, client *http.Client, id string) {
	endpoint := fmt.Sprintf("%s/users/%s/messages/%s",
		graphBaseURL, url.PathEscape(p.cfg.User), url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, endpoint,
		strings.NewReader(`{"isRead": true}`))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		p.logger.Warn("mark message as read", slog.String("id", id), slog.Any("error", err))
		return
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
}
