package mailer

import (
	"bytes"
	"fmt"
	"text/template"
)

// Template is a notification with a subject line and a markdown body,
// both rendered with text/template.
type Template struct {
	Subject *template.Template
	Body    *template.Template
}

func mustTemplate(key, subject, body string) *Template {
	return &Template{
		Subject: template.Must(template.New(key + ".subject").Option("missingkey=zero").Parse(subject)),
		Body:    template.Must(template.New(key + ".body").Option("missingkey=zero").Parse(body)),
	}
}

// DefaultTemplates are the notifications sent by the recovery service.
func DefaultTemplates() map[string]*Template {
	return map[string]*Template{
		"trust-request": mustTemplate("trust-request",
			`{{.Principal}} wants you as a recovery agent`,
			`Hello {{.Agent}},

**{{.Principal}}** has asked you to hold a backup share of their vault key.

Accept or decline the request from your *Trusted by* list. Request id: `+"`{{.EdgeID}}`"+`.
`),
		"trust-accepted": mustTemplate("trust-accepted",
			`{{.Agent}} is now your recovery agent`,
			`Hello {{.Principal}},

**{{.Agent}}** accepted your request and now holds a backup share of your vault key.
`),
		"recovery-opened": mustTemplate("recovery-opened",
			`Recovery started for {{.Principal}}`,
			`Hello {{.Agent}},

Someone started recovering the account of **{{.Principal}}**.

Only submit your share if you have confirmed with {{.Principal}} directly that they lost access.
Session: `+"`{{.SessionID}}`"+`
`),
		"recovery-complete": mustTemplate("recovery-complete",
			`Your account has been recovered`,
			`Hello {{.Principal}},

Recovery session `+"`{{.SessionID}}`"+` completed. Your new credentials and key pair are now active.

If you did not start this recovery, contact your recovery agents immediately.
`),
	}
}

func execute(t *template.Template, data map[string]any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return buf.String(), nil
}
