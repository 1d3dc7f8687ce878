package mailer

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

const maxBodyChars = 6000

// Quoted-reply markers in the channel's supported locales. Everything from
// the first match onward is discarded.
var quotedSectionRes = []*regexp.Regexp{
	regexp.MustCompile(`(?is)\n\s*On\s+.*?wrote:\s*\n.*`),
	regexp.MustCompile(`(?is)\n\s*Pada\s+.*?menulis:\s*\n.*`),
	regexp.MustCompile(`(?is)\n\s*From:\s*.*\n\s*Sent:\s*.*\n\s*To:\s*.*`),
	regexp.MustCompile(`(?is)\n\s*Dari:\s*.*\n\s*Kirim:\s*.*\n\s*Kepada:\s*.*`),
	regexp.MustCompile(`(?s)\n\s*_{3,}.*`),
	regexp.MustCompile(`(?is)\n\s*-{3,}\s*Original Message\s*-{3,}.*`),
	regexp.MustCompile(`(?s)\n\s*>.*`),
}

var (
	multiSpaceRe   = regexp.MustCompile(`[ \t]{2,}`)
	multiNewlineRe = regexp.MustCompile(`\n{3,}`)
)

// Sanitize produces the clean query text from an email body: HTML is
// converted to text when no plain part exists, quoted reply chains are
// stripped, whitespace is collapsed, and the result is capped.
func Sanitize(textPlain, html string) string {
	body := strings.TrimSpace(textPlain)
	if body == "" && html != "" {
		if converted, err := htmltomarkdown.ConvertString(html); err == nil {
			body = converted
		}
	}

	body = stripQuotedSections(body)
	body = multiSpaceRe.ReplaceAllString(body, " ")
	body = multiNewlineRe.ReplaceAllString(body, "\n\n")

	if len(body) > maxBodyChars {
		body = body[:maxBodyChars]
	}
	return strings.TrimSpace(body)
}

func stripQuotedSections(text string) string {
	for _, re := range quotedSectionRes {
		text = re.ReplaceAllString(text, "")
	}
	return strings.TrimSpace(text)
}
