// Package mailer ingests inbound email on an independent worker, decoupled
// from webhook handling: a slow mail-provider round trip never blocks the
// HTTP path. Supported providers are IMAP and Microsoft Graph.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kanalbot/kanal/internal/channel"
	"github.com/kanalbot/kanal/internal/config"
	"github.com/kanalbot/kanal/internal/dedup"
)

// ProcessFunc hands a parsed message to the shared processing path.
type ProcessFunc func(ctx context.Context, msg channel.IncomingMessage)

// inboundEmail is the provider-agnostic shape both pollers produce.
type inboundEmail struct {
	messageID        string
	from             string
	senderName       string
	subject          string
	bodyText         string
	bodyHTML         string
	inReplyTo        string
	references       string
	providerThreadID string
}

type poller interface {
	poll(ctx context.Context)
}

// Manager owns the email polling goroutine.
type Manager struct {
	cfg     config.EmailConfig
	dedup   *dedup.Store
	process ProcessFunc
	logger  *slog.Logger

	cancel context.CancelFunc
	once   sync.Once
}

// NewManager creates the inbound email manager.
func NewManager(log *slog.Logger, cfg config.EmailConfig, dedupStore *dedup.Store, process ProcessFunc) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		dedup:   dedupStore,
		process: process,
		logger:  log.With(slog.String("service", "mailer")),
	}
}

// Start launches the polling loop for the configured provider.
func (m *Manager) Start(ctx context.Context) error {
	var p poller
	switch m.cfg.Provider {
	case "imap":
		p = newIMAPPoller(m.logger, m.cfg, m.handle)
	case "graph":
		p = newGraphPoller(m.logger, m.cfg, m.handle)
	default:
		return fmt.Errorf("unknown email provider: %s", m.cfg.Provider)
	}

	rctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.logger.Info("starting email listener", slog.String("provider", m.cfg.Provider))
	go p.poll(rctx)
	return nil
}

// Stop terminates the polling loop.
func (m *Manager) Stop() {
	m.once.Do(func() {
		if m.cancel != nil {
			m.cancel()
		}
	})
}

// handle runs the shared inbound pipeline: drop automated senders, dedup on
// the provider message id, sanitize the body, and hand off for processing.
func (m *Manager) handle(ctx context.Context, mail inboundEmail) {
	sender := strings.ToLower(mail.from)
	if sender == "" || strings.Contains(sender, "mailer-daemon") || strings.Contains(sender, "noreply") {
		return
	}

	if mail.messageID != "" && m.dedup.MarkAndCheck(ctx, mail.messageID, channel.PlatformEmail.String()) {
		m.logger.Debug("duplicate email skipped", slog.String("message_id", mail.messageID))
		return
	}

	body := Sanitize(mail.bodyText, mail.bodyHTML)
	if body == "" {
		return
	}

	hints := &channel.EmailHints{
		Subject:          mail.subject,
		SenderName:       mail.senderName,
		MessageID:        mail.messageID,
		InReplyTo:        mail.inReplyTo,
		References:       mail.references,
		ThreadKey:        threadKey(mail),
		ProviderThreadID: mail.providerThreadID,
	}

	m.process(ctx, channel.IncomingMessage{
		Platform:         channel.PlatformEmail,
		PlatformUniqueID: mail.from,
		Query:            body,
		Email:            hints,
	})
	m.logger.Info("email handed off", slog.String("from", mail.from), slog.String("subject", mail.subject))
}

// threadKey derives the secondary correlation token: the root of the
// References chain, else In-Reply-To, else the message's own id (so a later
// reply to this message finds the thread).
func threadKey(mail inboundEmail) string {
	if refs := strings.Fields(mail.references); len(refs) > 0 {
		return refs[0]
	}
	if v := strings.TrimSpace(mail.inReplyTo); v != "" {
		return v
	}
	return strings.TrimSpace(mail.messageID)
}
