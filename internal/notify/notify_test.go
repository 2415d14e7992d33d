// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 CommGuard Contributors

package notify

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/commguard/commguard/pkg/errutil"
)

// fakeSMTP accepts one session and records the envelope and message.
type fakeSMTP struct {
	ln         net.Listener
	rejectRcpt bool

	mu   sync.Mutex
	from string
	rcpt []string
	data string
	done chan struct{}
}

func startFakeSMTP(t *testing.T, rejectRcpt bool) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	s := &fakeSMTP{ln: ln, rejectRcpt: rejectRcpt, done: make(chan struct{})}
	go s.serve()
	t.Cleanup(func() {
		_ = ln.Close()
		<-s.done
	})
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) serve() {
	defer close(s.done)
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	tp := textproto.NewConn(conn)
	_ = tp.PrintfLine("220 localhost ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch {
		case verb == "EHLO":
			_ = tp.PrintfLine("250-localhost")
			_ = tp.PrintfLine("250 8BITMIME")
		case strings.HasPrefix(strings.ToUpper(line), "MAIL FROM:"):
			s.mu.Lock()
			s.from = line[len("MAIL FROM:"):]
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case strings.HasPrefix(strings.ToUpper(line), "RCPT TO:"):
			if s.rejectRcpt {
				_ = tp.PrintfLine("550 no such user")
				continue
			}
			s.mu.Lock()
			s.rcpt = append(s.rcpt, line[len("RCPT TO:"):])
			s.mu.Unlock()
			_ = tp.PrintfLine("250 OK")
		case verb == "DATA":
			_ = tp.PrintfLine("354 go ahead")
			data, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			s.mu.Lock()
			s.data = string(data)
			s.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case verb == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("250 OK")
		}
	}
}

func newTestNotifier(t *testing.T, port int) *SMTPNotifier {
	t.Helper()
	n, err := NewSMTPNotifier(SMTPConfig{
		Host:    "127.0.0.1",
		Port:    port,
		From:    "noreply@commguard.test",
		Timeout: 5 * time.Second,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }
	return n
}

func TestSMTPNotifier_Send(t *testing.T) {
	srv := startFakeSMTP(t, false)
	n := newTestNotifier(t, srv.port())

	err := n.Send(context.Background(), []string{"alice@example.com"}, "Password Reset Request", "token: abc\nbye")
	require.NoError(t, err)
	<-srv.done

	srv.mu.Lock()
	defer srv.mu.Unlock()
	assert.Contains(t, srv.from, "<noreply@commguard.test>")
	require.Len(t, srv.rcpt, 1)
	assert.Contains(t, srv.rcpt[0], "<alice@example.com>")
	assert.Contains(t, srv.data, "Subject: Password Reset Request")
	assert.Contains(t, srv.data, "To: alice@example.com")
	assert.Contains(t, srv.data, "Date: Sun, 01 Mar 2026 09:00:00 +0000")
	assert.Contains(t, srv.data, "token: abc\nbye")
}

func TestSMTPNotifier_RecipientRejected(t *testing.T) {
	srv := startFakeSMTP(t, true)
	n := newTestNotifier(t, srv.port())

	err := n.Send(context.Background(), []string{"ghost@example.com"}, "s", "b")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "NOTIFY_SEND_FAILED")
}

func TestSMTPNotifier_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	err = newTestNotifier(t, port).Send(context.Background(), []string{"a@example.com"}, "s", "b")
	errutil.AssertErrorCode(t, err, "NOTIFY_SEND_FAILED")
	errutil.AssertErrorContext(t, err, "addr", "127.0.0.1:"+strconv.Itoa(port))
}

func TestSMTPNotifier_Validation(t *testing.T) {
	_, err := NewSMTPNotifier(SMTPConfig{From: "a@example.com"}, nil)
	errutil.AssertErrorCode(t, err, "NOTIFY_INVALID_CONFIG")

	_, err = NewSMTPNotifier(SMTPConfig{Host: "mail.example.com"}, nil)
	errutil.AssertErrorCode(t, err, "NOTIFY_INVALID_CONFIG")

	n, err := NewSMTPNotifier(SMTPConfig{Host: "mail.example.com", From: "a@example.com"}, nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultSMTPPort, n.cfg.Port)

	err = n.Send(context.Background(), nil, "s", "b")
	errutil.AssertErrorCode(t, err, "NOTIFY_NO_RECIPIENTS")
}

func TestLogNotifier_OmitsBody(t *testing.T) {
	var buf bytes.Buffer
	n := NewLogNotifier(slog.New(slog.NewTextHandler(&buf, nil)))

	require.NoError(t, n.Send(context.Background(), []string{"alice@example.com"}, "Password Reset Request", "secret-token"))
	assert.Contains(t, buf.String(), "alice@example.com")
	assert.Contains(t, buf.String(), "Password Reset Request")
	assert.NotContains(t, buf.String(), "secret-token")
}
