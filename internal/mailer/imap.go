package mailer

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/kanalbot/kanal/internal/config"
)

const imapRetryDelay = 30 * time.Second

type imapPoller struct {
	logger   *slog.Logger
	cfg      config.IMAPConfig
	interval time.Duration
	handle   func(ctx context.Context, mail inboundEmail)
	lastUID  imap.UID
}

func newIMAPPoller(log *slog.Logger, cfg config.EmailConfig, handle func(ctx context.Context, mail inboundEmail)) *imapPoller {
	return &imapPoller{
		logger:   log.With(slog.String("provider", "imap")),
		cfg:      cfg.IMAP,
		interval: cfg.PollInterval(),
		handle:   handle,
	}
}

func (p *imapPoller) poll(ctx context.Context) {
	for {
		if err := p.connectAndPoll(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Error("imap connection error, retrying",
				slog.Duration("retry_in", imapRetryDelay),
				slog.Any("error", err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(imapRetryDelay):
			}
		}
	}
}

func (p *imapPoller) connectAndPoll(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)
	opts := &imapclient.Options{TLSConfig: &tls.Config{ServerName: p.cfg.Host}}

	var client *imapclient.Client
	var err error
	switch p.cfg.Security {
	case "starttls":
		client, err = imapclient.DialStartTLS(addr, opts)
	case "none":
		client, err = imapclient.DialInsecure(addr, opts)
	default:
		client, err = imapclient.DialTLS(addr, opts)
	}
	if err != nil {
		return fmt.Errorf("dial imap (%s): %w", p.cfg.Security, err)
	}
	defer client.Close()

	if err := client.Login(p.cfg.Username, p.cfg.Password).Wait(); err != nil {
		return fmt.Errorf("imap login: %w", err)
	}
	defer client.Logout()

	if _, err := client.Select("INBOX", nil).Wait(); err != nil {
		return fmt.Errorf("select inbox: %w", err)
	}

	p.logger.Info("imap connected", slog.String("host", p.cfg.Host))

	for {
		p.fetchNewMessages(ctx, client)
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(p.interval):
		}
	}
}

// fetchNewMessages pulls messages above the UID high-water mark. The first
// fetch after (re)connecting only records the mark, so a restart does not
// replay the whole mailbox; dedup catches the overlap either way.
func (p *imapPoller) fetchNewMessages(ctx context.Context, client *imapclient.Client) {
	var uidSet imap.UIDSet
	if p.lastUID > 0 {
		uidSet.AddRange(p.lastUID+1, 0)
	} else {
		uidSet.AddRange(1, 0)
	}

	fetchOpts := &imap.FetchOptions{
		Envelope:    true,
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{{}},
	}
	fetchCmd := client.Fetch(uidSet, fetchOpts)
	defer fetchCmd.Close()

	isFirstRun := p.lastUID == 0

	for {
		msgData := fetchCmd.Next()
		if msgData == nil {
			break
		}
		buf, err := msgData.Collect()
		if err != nil || buf.Envelope == nil {
			continue
		}
		if buf.UID > p.lastUID {
			p.lastUID = buf.UID
		}
		if isFirstRun {
			continue
		}

		inbound := p.bufToInbound(buf)
		if inbound == nil {
			continue
		}
		p.handle(ctx, *inbound)
	}
}

func (p *imapPoller) bufToInbound(buf *imapclient.FetchMessageBuffer) *inboundEmail {
	env := buf.Envelope
	if env == nil || len(env.From) == 0 {
		return nil
	}

	var raw []byte
	if len(buf.BodySection) > 0 {
		raw = buf.BodySection[0].Bytes
	}
	bodyText, bodyHTML, references := parseRawMessage(raw)

	return &inboundEmail{
		messageID:  ensureAngleBrackets(env.MessageID),
		from:       env.From[0].Addr(),
		senderName: env.From[0].Name,
		subject:    env.Subject,
		bodyText:   bodyText,
		bodyHTML:   bodyHTML,
		inReplyTo:  ensureAngleBrackets(strings.Join(env.InReplyTo, " ")),
		references: references,
	}
}

// parseRawMessage extracts the body and the References header from the raw
// RFC 822 bytes. Full MIME handling lives with the provider; a parse
// failure degrades to treating the whole payload as plain text.
func parseRawMessage(raw []byte) (bodyText, bodyHTML, references string) {
	if len(raw) == 0 {
		return "", "", ""
	}
	msg, err := mail.ReadMessage(strings.NewReader(string(raw)))
	if err != nil {
		return string(raw), "", ""
	}
	references = msg.Header.Get("References")

	body, _ := io.ReadAll(msg.Body)
	content := string(body)
	if strings.Contains(strings.ToLower(msg.Header.Get("Content-Type")), "text/html") {
		return "", content, references
	}
	return content, "", references
}

// ensureAngleBrackets normalizes a message id to the <id> form used in
// References chains, so thread keys compare equal across providers.
func ensureAngleBrackets(id string) string {
	id = strings.TrimSpace(id)
	if id == "" || strings.HasPrefix(id, "<") {
		return id
	}
	return "<" + id + ">"
}
