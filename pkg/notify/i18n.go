package notify

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	keyTitle = "New message"
	keyBody  = "You have a new message"
)

var supported = []language.Tag{language.Dutch, language.English}

func init() {
	_ = message.SetString(language.Dutch, keyTitle, "Nieuw bericht")
	_ = message.SetString(language.Dutch, keyBody, "Je hebt een nieuw bericht")
	_ = message.SetString(language.English, keyTitle, keyTitle)
	_ = message.SetString(language.English, keyBody, keyBody)
}

// Texts provides the localized fallback strings of a notification.
type Texts struct {
	tag     language.Tag
	printer *message.Printer
	caser   cases.Caser
}

// NewTexts matches locale against the supported languages. Unknown locales
// get Dutch, the language of the app.
func NewTexts(locale string) *Texts {
	tag := language.Dutch
	if parsed, err := language.Parse(locale); err == nil {
		matcher := language.NewMatcher(supported)
		_, idx, conf := matcher.Match(parsed)
		if conf != language.No {
			tag = supported[idx]
		}
	}
	return &Texts{
		tag:     tag,
		printer: message.NewPrinter(tag),
		caser:   cases.Title(tag),
	}
}

func (t *Texts) Language() language.Tag { return t.tag }

// Title returns the sender name in title case, or the default title.
func (t *Texts) Title(senderName string) string {
	name := strings.TrimSpace(senderName)
	if name == "" {
		return t.printer.Sprintf(keyTitle)
	}
	return t.caser.String(name)
}

// Body returns the message text, or the default body.
func (t *Texts) Body(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return t.printer.Sprintf(keyBody)
	}
	return text
}
