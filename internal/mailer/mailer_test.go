package mailer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeStripsQuotedReplyChain(t *testing.T) {
	body := "Thanks, that answers it.\n\nOn Mon, Aug 24, 2026 at 10:02 AM Support <cs@example.com> wrote:\n> Here is our price list.\n> Regards."
	assert.Equal(t, "Thanks, that answers it.", Sanitize(body, ""))
}

func TestSanitizeStripsIndonesianQuoteMarker(t *testing.T) {
	body := "Baik, terima kasih.\n\nPada Sen, 24 Agu 2026 pukul 10.02 Support menulis:\n> Berikut daftar harganya."
	assert.Equal(t, "Baik, terima kasih.", Sanitize(body, ""))
}

func TestSanitizeStripsOutlookHeaderBlock(t *testing.T) {
	body := "Sounds good.\n\nFrom: Support <cs@example.com>\nSent: Monday\nTo: me@example.com\nSubject: Re: Pricing"
	assert.Equal(t, "Sounds good.", Sanitize(body, ""))
}

func TestSanitizeConvertsHTMLWhenNoPlainPart(t *testing.T) {
	got := Sanitize("", "<p>Hello <b>there</b></p>")
	assert.Contains(t, got, "Hello")
	assert.NotContains(t, got, "<p>")
}

func TestSanitizePrefersPlainPart(t *testing.T) {
	got := Sanitize("plain text wins", "<p>html loses</p>")
	assert.Equal(t, "plain text wins", got)
}

func TestSanitizeCapsLength(t *testing.T) {
	long := strings.Repeat("a", 10000)
	assert.LessOrEqual(t, len(Sanitize(long, "")), maxBodyChars)
}

func TestSanitizeCollapsesWhitespace(t *testing.T) {
	got := Sanitize("line one\n\n\n\n\nline    two", "")
	assert.Equal(t, "line one\n\nline two", got)
}

func TestThreadKeyPrefersReferencesRoot(t *testing.T) {
	key := threadKey(inboundEmail{
		messageID:  "<m3@example.com>",
		inReplyTo:  "<m2@example.com>",
		references: "<m1@example.com> <m2@example.com>",
	})
	assert.Equal(t, "<m1@example.com>", key)
}

func TestThreadKeyFallsBackToInReplyTo(t *testing.T) {
	key := threadKey(inboundEmail{
		messageID: "<m3@example.com>",
		inReplyTo: "<m2@example.com>",
	})
	assert.Equal(t, "<m2@example.com>", key)
}

func TestThreadKeySelfForFirstMessage(t *testing.T) {
	key := threadKey(inboundEmail{messageID: "<m1@example.com>"})
	assert.Equal(t, "<m1@example.com>", key)
}

func TestEnsureAngleBrackets(t *testing.T) {
	assert.Equal(t, "<abc@x>", ensureAngleBrackets("abc@x"))
	assert.Equal(t, "<abc@x>", ensureAngleBrackets("<abc@x>"))
	assert.Equal(t, "", ensureAngleBrackets("  "))
}

func TestParseRawMessageExtractsReferencesHeader(t *testing.T) {
	raw := "Subject: Re: Hello\r\nReferences: <m1@example.com> <m2@example.com>\r\nContent-Type: text/plain\r\n\r\nthe body\r\n"
	bodyText, bodyHTML, references := parseRawMessage([]byte(raw))
	assert.Equal(t, "<m1@example.com> <m2@example.com>", references)
	assert.Contains(t, bodyText, "the body")
	assert.Empty(t, bodyHTML)
}

func TestParseRawMessageHTMLContentType(t *testing.T) {
	raw := "Content-Type: text/html; charset=utf-8\r\n\r\n<p>hi</p>"
	bodyText, bodyHTML, _ := parseRawMessage([]byte(raw))
	assert.Empty(t, bodyText)
	assert.Contains(t, bodyHTML, "<p>hi</p>")
}
