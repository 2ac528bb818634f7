package email

import (
	"strings"

	"moddb-notifier/pkg/notifier"
)

// Templates holds the configured notification templates. Placeholders are
// written as {name}; anything else in braces is left as is.
type Templates struct {
	Subject string // {author}
	Sender  string // {email}
	Body    string // {name}, {author}, {content}, {url}
}

// Composer renders found comments into messages.
type Composer struct {
	tmpl    Templates
	account string // Sending account, substituted for {email}
}

// NewComposer creates a composer. account is the address the sender template refers to.
func NewComposer(tmpl Templates, account string) *Composer {
	return &Composer{
		tmpl:    tmpl,
		account: account,
	}
}

// Compose renders a notification about f for member, whose display name on the
// site is memberName.
func (c *Composer) Compose(member notifier.Member, memberName string, f *notifier.Found) *notifier.Message {
	author := f.Comment.Author

	body := strings.NewReplacer(
		"{name}", memberName,
		"{author}", author,
		"{content}", strings.TrimSpace(f.Comment.Content),
		"{url}", f.ItemURL,
	).Replace(c.tmpl.Body)

	return &notifier.Message{
		To:      member.Email,
		From:    strings.ReplaceAll(c.tmpl.Sender, "{email}", c.account),
		Subject: strings.ReplaceAll(c.tmpl.Subject, "{author}", author),
		Body:    body,
	}
}
