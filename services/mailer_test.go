package services

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/gomail.v2"
)

type fakeDialer struct {
	sent []*gomail.Message
	err  error
}

func (d *fakeDialer) DialAndSend(m ...*gomail.Message) error {
	if d.err != nil {
		return d.err
	}
	d.sent = append(d.sent, m...)
	return nil
}

func TestSMTPCodeSender(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	dialer := &fakeDialer{}
	sender := &SMTPCodeSender{from: "noreply@coursemarket.test", dialer: dialer, clock: func() time.Time { return now }}

	require.NoError(t, sender.SendCode(context.Background(), "ann@x.com", "482913", now.Add(10*time.Minute)))
	require.Len(t, dialer.sent, 1)

	msg := dialer.sent[0]
	assert.Equal(t, []string{"ann@x.com"}, msg.GetHeader("To"))
	assert.Equal(t, []string{"noreply@coursemarket.test"}, msg.GetHeader("From"))

	var buf bytes.Buffer
	_, err := msg.WriteTo(&buf)
	require.NoError(t, err)
	assert.Contains(t, buf.String(), "482913")

	dialer.err = errors.New("535 auth failed")
	err = sender.SendCode(context.Background(), "ann@x.com", "482913", now.Add(time.Minute))
	assert.ErrorContains(t, err, "failed to send email")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sender.SendCode(ctx, "ann@x.com", "1", now), context.Canceled)
}

func TestConsoleCodeSender(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, ConsoleCodeSender{Out: &buf}.SendCode(context.Background(), "ann@x.com", "123456", time.Unix(0, 0).UTC()))
	assert.Contains(t, buf.String(), "123456")
}
