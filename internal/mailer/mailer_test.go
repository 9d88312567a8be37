package mailer

import (
	"context"
	"io"
	"mime"
	"mime/multipart"
	"net/mail"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompose(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	raw, err := Compose(Message{
		From:    "sender@ethereal.test",
		To:      "user@example.com",
		Subject: "Spring sale",
		Text:    "<p>Hello</p>",
	}, at)
	require.NoError(t, err)

	parsed, err := mail.ReadMessage(strings.NewReader(string(raw)))
	require.NoError(t, err)
	assert.Equal(t, "user@example.com", parsed.Header.Get("To"))
	assert.Contains(t, parsed.Header.Get("Message-ID"), "@ethereal.test>")

	subject, err := new(mime.WordDecoder).DecodeHeader(parsed.Header.Get("Subject"))
	require.NoError(t, err)
	assert.Equal(t, "Spring sale", subject)

	mediaType, params, err := mime.ParseMediaType(parsed.Header.Get("Content-Type"))
	require.NoError(t, err)
	assert.Equal(t, "multipart/alternative", mediaType)

	reader := multipart.NewReader(parsed.Body, params["boundary"])
	var types, bodies []string
	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		content, err := io.ReadAll(part)
		require.NoError(t, err)
		types = append(types, part.Header.Get("Content-Type"))
		bodies = append(bodies, string(content))
	}

	assert.Equal(t, []string{"text/plain; charset=utf-8", "text/html; charset=utf-8"}, types)
	// HTML falls back to the text body
	assert.Equal(t, []string{"<p>Hello</p>", "<p>Hello</p>"}, bodies)
}

func TestSimulatedMailer_Outcomes(t *testing.T) {
	ctx := context.Background()
	msg := Message{From: "a@example.com", To: "b@example.com", Subject: "s", Text: "t"}

	ok := NewSimulatedMailer(1.0).WithLatency(0, 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, ok.Send(ctx, msg))
	}
	assert.Len(t, ok.Sent(), 5)

	bad := NewSimulatedMailer(0.0).WithLatency(0, 0)
	err := bad.Send(ctx, msg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b@example.com")
	assert.Empty(t, bad.Sent())
}

func TestSimulatedMailer_ClampsRate(t *testing.T) {
	assert.Equal(t, 1.0, NewSimulatedMailer(3).SuccessRate())
	assert.Equal(t, 0.0, NewSimulatedMailer(-1).SuccessRate())
}

func TestSimulatedMailer_HonoursCancellation(t *testing.T) {
	m := NewSimulatedMailer(1.0).WithLatency(time.Minute, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.Send(ctx, Message{To: "x@example.com"})
	assert.ErrorIs(t, err, context.Canceled)
}
