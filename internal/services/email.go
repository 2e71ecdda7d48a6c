package services

import (
	"bytes"
	"context"
	"crypto/tls"
	"embed"
	"fmt"
	htmltemplate "html/template"
	"net/smtp"
	"strings"
	texttemplate "text/template"

	"github.com/rentacoder/backend/internal/config"
	"github.com/rentacoder/backend/pkg/logger"
)

//go:embed templates/*.html
var templateFS embed.FS

var emailSubjects = map[string]string{
	TemplateRegisterEmail:         "Welcome!",
	TemplateResetPassword:         "Reset password",
	TemplateYouAppliedToProject:   "You applied to {{.project_title}}",
	TemplateCoderAppliedToProject: "New application for {{.project_title}}",
	TemplateQuestionAsked:         "New question about {{.project_title}}",
	TemplateQuestionAnswered:      "Your question about {{.project_title}} was answered",
	TemplateApplicationAccepted:   "You were accepted for {{.project_title}}",
	TemplateProjectClosed:         "{{.project_title}} has been closed",
	TemplatePendingScores:         "You have {{.pending_count}} pending scores",
}

// EmailRenderer turns a template id and its variables into a subject line
// and an HTML body.
type EmailRenderer struct {
	subjects map[string]*texttemplate.Template
	bodies   map[string]*htmltemplate.Template
}

func NewEmailRenderer() (*EmailRenderer, error) {
	r := &EmailRenderer{
		subjects: make(map[string]*texttemplate.Template, len(emailSubjects)),
		bodies:   make(map[string]*htmltemplate.Template, len(emailSubjects)),
	}
	for id, subject := range emailSubjects {
		st, err := texttemplate.New(id).Option("missingkey=zero").Parse(subject)
		if err != nil {
			return nil, fmt.Errorf("parse subject %s: %w", id, err)
		}
		bt, err := htmltemplate.ParseFS(templateFS, "templates/layout.html", "templates/"+id+".html")
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", id, err)
		}
		r.subjects[id] = st
		r.bodies[id] = bt
	}
	return r, nil
}

func (r *EmailRenderer) Render(templateID string, vars map[string]any) (string, string, error) {
	st, ok := r.subjects[templateID]
	if !ok {
		return "", "", fmt.Errorf("unknown email template: %s", templateID)
	}

	var subject, body bytes.Buffer
	if err := st.Execute(&subject, vars); err != nil {
		return "", "", err
	}
	if err := r.bodies[templateID].ExecuteTemplate(&body, "layout.html", vars); err != nil {
		return "", "", err
	}
	return subject.String(), body.String(), nil
}

// EmailDispatcher renders notifications and hands them to the mail queue.
type EmailDispatcher struct {
	renderer *EmailRenderer
	queue    TaskQueue
}

func NewEmailDispatcher(renderer *EmailRenderer, queue TaskQueue) *EmailDispatcher {
	return &EmailDispatcher{renderer: renderer, queue: queue}
}

func (d *EmailDispatcher) Send(ctx context.Context, templateID, recipient string, vars map[string]any) error {
	subject, body, err := d.renderer.Render(templateID, vars)
	if err != nil {
		return err
	}
	return d.queue.Enqueue(ctx, &MailTask{
		TemplateID: templateID,
		To:         []string{recipient},
		Subject:    subject,
		Body:       body,
	})
}

// SMTPMailer delivers mail tasks over SMTP, optionally with implicit TLS.
type SMTPMailer struct {
	config *config.MailConfig
}

func NewSMTPMailer(cfg *config.MailConfig) *SMTPMailer {
	return &SMTPMailer{config: cfg}
}

// Deliver sends task. It is a logged no-op while mail is disabled.
func (m *SMTPMailer) Deliver(ctx context.Context, task *MailTask) error {
	if !m.config.Enabled || m.config.Host == "" {
		logger.Debug().Str("template", task.TemplateID).Strs("to", task.To).Msg("[Email] Mail disabled, dropping message")
		return nil
	}
	if len(task.To) == 0 {
		return nil
	}
	return m.sendEmail(task.To, task.Subject, task.Body)
}

func (m *SMTPMailer) from() string {
	if m.config.From != "" {
		return m.config.From
	}
	return m.config.Username
}

var headerSanitizer = strings.NewReplacer("\r", " ", "\n", " ")

func buildMessage(from string, to []string, subject, body string) string {
	headers := [][2]string{
		{"From", from},
		{"To", strings.Join(to, ",")},
		{"Subject", headerSanitizer.Replace(subject)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "text/html; charset=UTF-8"},
	}

	var message strings.Builder
	for _, h := range headers {
		message.WriteString(fmt.Sprintf("%s: %s\r\n", h[0], h[1]))
	}
	message.WriteString("\r\n")
	message.WriteString(body)
	return message.String()
}

func (m *SMTPMailer) sendEmail(to []string, subject, body string) error {
	from := m.from()
	message := buildMessage(from, to, subject, body)
	addr := fmt.Sprintf("%s:%d", m.config.Host, m.config.Port)

	var auth smtp.Auth
	if m.config.Username != "" && m.config.Password != "" {
		auth = smtp.PlainAuth("", m.config.Username, m.config.Password, m.config.Host)
	}

	var err error
	if m.config.UseTLS {
		err = m.sendEmailTLS(addr, auth, from, to, message)
	} else {
		err = smtp.SendMail(addr, auth, from, to, []byte(message))
	}

	if err != nil {
		logger.Errorf("[Email] Failed to send email to %v: %v", to, err)
		return err
	}

	logger.Infof("[Email] Sent %q to %v", subject, to)
	return nil
}

func (m *SMTPMailer) sendEmailTLS(addr string, auth smtp.Auth, from string, to []string, message string) error {
	tlsConfig := &tls.Config{
		ServerName: m.config.Host,
	}

	conn, err := tls.Dial("tcp", addr, tlsConfig)
	if err != nil {
		return err
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, m.config.Host)
	if err != nil {
		return err
	}
	defer client.Close()

	if auth != nil {
		if err := client.Auth(auth); err != nil {
			return err
		}
	}

	if err := client.Mail(from); err != nil {
		return err
	}

	for _, addr := range to {
		if err := client.Rcpt(addr); err != nil {
			return err
		}
	}

	w, err := client.Data()
	if err != nil {
		return err
	}

	if _, err := w.Write([]byte(message)); err != nil {
		return err
	}

	if err := w.Close(); err != nil {
		return err
	}
	return client.Quit()
}
