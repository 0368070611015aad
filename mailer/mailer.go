// Package mailer delivers the recovery service's notifications over SMTP.
//
// Delivery is best effort. Notify never returns an error: failures are
// logged and reported as false, and the caller carries on.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wneessen/go-mail"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
)

type Config struct {
	// Host is the SMTP relay. An empty Host disables delivery.
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Timeout bounds dialing and each SMTP command.
	Timeout time.Duration

	// CheckMX rejects recipients whose domain publishes no MX record
	// before dialing the relay.
	CheckMX bool
	// Resolver is the DNS server used for MX checks.
	Resolver string
}

// SendFunc hands composed messages to the relay.
type SendFunc func(ctx context.Context, msgs ...*mail.Msg) error

// Message is a rendered notification.
type Message struct {
	To      string
	Subject string
	Text    string
	HTML    string
}

type Mailer struct {
	cfg       Config
	log       *slog.Logger
	templates map[string]*Template
	markdown  goldmark.Markdown

	send     SendFunc
	lookupMX func(ctx context.Context, domain string) ([]string, error)
	now      func() time.Time
}

func New(cfg Config, log *slog.Logger) *Mailer {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.Resolver == "" {
		cfg.Resolver = "127.0.0.53:53"
	}
	m := &Mailer{
		cfg:       cfg,
		log:       log,
		templates: DefaultTemplates(),
		markdown:  goldmark.New(goldmark.WithExtensions(extension.Linkify)),
		now:       time.Now,
	}
	m.send = m.dialAndSend
	m.lookupMX = func(ctx context.Context, domain string) ([]string, error) {
		return LookupMX(ctx, domain, m.cfg.Resolver)
	}
	return m
}

// Render produces the message for templateKey without sending it.
func (m *Mailer) Render(address, templateKey string, data map[string]any) (*Message, error) {
	t, ok := m.templates[templateKey]
	if !ok {
		return nil, fmt.Errorf("unknown template %q", templateKey)
	}

	subject, err := execute(t.Subject, data)
	if err != nil {
		return nil, err
	}
	text, err := execute(t.Body, data)
	if err != nil {
		return nil, err
	}

	var html bytes.Buffer
	if err := m.markdown.Convert([]byte(text), &html); err != nil {
		return nil, fmt.Errorf("render %s html: %w", templateKey, err)
	}

	return &Message{To: address, Subject: strings.TrimSpace(subject), Text: text, HTML: html.String()}, nil
}

// Notify renders and sends a notification. It reports whether the
// message was handed to the relay.
func (m *Mailer) Notify(ctx context.Context, address, templateKey string, data map[string]any) bool {
	log := m.log.With("template", templateKey)

	if m.cfg.Host == "" {
		log.Debug("mail delivery disabled")
		return false
	}

	out := mail.NewMsg()
	if err := out.To(address); err != nil {
		log.Warn("invalid recipient address", "err", err)
		return false
	}
	rcpts, err := out.GetRecipients()
	if err != nil || len(rcpts) != 1 {
		log.Warn("invalid recipient address", "err", err)
		return false
	}
	rcpt := rcpts[0]

	if m.cfg.CheckMX {
		domain := rcpt[strings.LastIndex(rcpt, "@")+1:]
		if _, err := m.lookupMX(ctx, domain); err != nil {
			log.Warn("recipient domain not deliverable", "domain", domain, "err", err)
			return false
		}
	}

	msg, err := m.Render(rcpt, templateKey, data)
	if err != nil {
		log.Error("failed to render notification", "err", err)
		return false
	}

	if err := out.From(m.cfg.From); err != nil {
		log.Error("invalid sender address", "from", m.cfg.From, "err", err)
		return false
	}
	out.Subject(msg.Subject)
	out.SetDateWithValue(m.now())
	out.SetBodyString(mail.TypeTextPlain, msg.Text)
	out.AddAlternativeString(mail.TypeTextHTML, msg.HTML)

	if err := m.send(ctx, out); err != nil {
		log.Error("failed to send notification", "relay", m.cfg.Host, "err", err)
		return false
	}

	log.Info("notification sent")
	return true
}

func (m *Mailer) dialAndSend(ctx context.Context, msgs ...*mail.Msg) error {
	opts := []mail.Option{
		mail.WithPort(m.cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
		mail.WithTimeout(m.cfg.Timeout),
	}
	if m.cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(m.cfg.Username),
			mail.WithPassword(m.cfg.Password),
		)
	}
	c, err := mail.NewClient(m.cfg.Host, opts...)
	if err != nil {
		return fmt.Errorf("smtp client: %w", err)
	}
	return c.DialAndSendWithContext(ctx, msgs...)
}
