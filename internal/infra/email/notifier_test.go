package email

import (
	"bufio"
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestFailureMessage(t *testing.T) {
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	msg := string(failureMessage("noreply@fiapx.local", "ana@example.com", "run-1", "uploads/a.mp4", "load: not a video", at))

	assert.True(t, strings.HasPrefix(msg, "From: noreply@fiapx.local\r\n"))
	assert.Contains(t, msg, "To: ana@example.com\r\n")
	assert.Contains(t, msg, "Subject: FIAP X - Video Annotation Failed [Run run-1]\r\n")
	assert.Contains(t, msg, "Date: Sat, 01 Mar 2025 12:00:00 +0000\r\n")
	assert.Contains(t, msg, "Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	assert.Contains(t, msg, "Video: uploads/a.mp4")
	assert.Contains(t, msg, "Error: load: not a video")
}

// fakeSMTP accepts a single session and returns the DATA payload it received.
func fakeSMTP(t *testing.T) (port int, received <-chan string) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	out := make(chan string, 1)
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		r := bufio.NewReader(conn)
		reply := func(s string) { _, _ = conn.Write([]byte(s + "\r\n")) }
		reply("220 fake ESMTP")

		var data strings.Builder
		inData := false
		for {
			line, err := r.ReadString('\n')
			if err != nil {
				return
			}
			if inData {
				if line == ".\r\n" {
					inData = false
					out <- data.String()
					reply("250 queued")
					continue
				}
				data.WriteString(line)
				continue
			}
			switch cmd := strings.ToUpper(strings.TrimSpace(line)); {
			case strings.HasPrefix(cmd, "EHLO"), strings.HasPrefix(cmd, "HELO"):
				reply("250 fake")
			case strings.HasPrefix(cmd, "MAIL"), strings.HasPrefix(cmd, "RCPT"):
				reply("250 ok")
			case cmd == "DATA":
				inData = true
				reply("354 go ahead")
			case cmd == "QUIT":
				reply("221 bye")
				return
			default:
				reply("502 unsupported")
			}
		}
	}()
	return l.Addr().(*net.TCPAddr).Port, out
}

func TestNotifyFailureDelivers(t *testing.T) {
	port, received := fakeSMTP(t)

	n := NewSMTPNotifier("127.0.0.1", port, "noreply@fiapx.local", zap.NewNop())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, n.NotifyFailure(ctx, "ana@example.com", "run-7", "uploads/b.mp4", "detect: model missing"))

	select {
	case body := <-received:
		assert.Contains(t, body, "Subject: FIAP X - Video Annotation Failed [Run run-7]")
		assert.Contains(t, body, "Error: detect: model missing")
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}

func TestNotifyFailureUnreachableServer(t *testing.T) {
	// grab a free port and release it so nothing is listening there
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	n := NewSMTPNotifier("127.0.0.1", port, "noreply@fiapx.local", zap.NewNop())
	err = n.NotifyFailure(context.Background(), "ana@example.com", "run-1", "a.mp4", "boom")
	assert.Error(t, err)
}
