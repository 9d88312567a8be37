package mailer

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"mime/multipart"
	"net/textproto"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message is one outbound email
type Message struct {
	From    string
	To      string
	Subject string
	Text    string
	// HTML defaults to Text when empty
	HTML string
}

// Mailer sends a single message. Implementations must honour ctx cancellation
// while they are connecting or waiting.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Compose renders msg as a multipart/alternative RFC 5322 message
func Compose(msg Message, at time.Time) ([]byte, error) {
	html := msg.HTML
	if html == "" {
		html = msg.Text
	}

	var buf bytes.Buffer
	body := multipart.NewWriter(&buf)

	header := []string{
		"From: " + msg.From,
		"To: " + msg.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", msg.Subject),
		"Date: " + at.Format(time.RFC1123Z),
		"Message-ID: <" + uuid.NewString() + "@" + domainOf(msg.From) + ">",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + body.Boundary(),
	}

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=utf-8", msg.Text},
		{"text/html; charset=utf-8", html},
	}
	for _, p := range parts {
		w, err := body.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.contentType},
			"Content-Transfer-Encoding": {"8bit"},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create mime part: %w", err)
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, fmt.Errorf("failed to write mime part: %w", err)
		}
	}
	if err := body.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	var out bytes.Buffer
	out.WriteString(strings.Join(header, "\r\n"))
	out.WriteString("\r\n\r\n")
	out.Write(buf.Bytes())
	return out.Bytes(), nil
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return "localhost"
}
