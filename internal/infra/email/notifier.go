package email

import (
	"context"
	"fmt"
	"net"
	"net/smtp"
	"strings"
	"time"

	"go.uber.org/zap"
)

const dialTimeout = 10 * time.Second

// SMTPNotifier mails the submitter when a run ends in FAILED.
type SMTPNotifier struct {
	host   string
	port   int
	from   string
	logger *zap.Logger
}

func NewSMTPNotifier(host string, port int, from string, logger *zap.Logger) *SMTPNotifier {
	return &SMTPNotifier{host: host, port: port, from: from, logger: logger}
}

func (n *SMTPNotifier) NotifyFailure(ctx context.Context, userEmail, runID, videoKey, errorMsg string) error {
	log := n.logger.With(zap.String("to", userEmail), zap.String("run_id", runID))

	msg := failureMessage(n.from, userEmail, runID, videoKey, errorMsg, time.Now())
	if err := n.send(ctx, userEmail, msg); err != nil {
		log.Error("failed to send failure notification email", zap.Error(err))
		return fmt.Errorf("send email: %w", err)
	}

	log.Info("failure notification email sent")
	return nil
}

// send speaks SMTP over a connection bound to ctx, so a stuck relay cannot
// hold the worker past its shutdown.
func (n *SMTPNotifier) send(ctx context.Context, to string, msg []byte) error {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(n.host, fmt.Sprint(n.port)))
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	c, err := smtp.NewClient(conn, n.host)
	if err != nil {
		conn.Close()
		return err
	}
	defer c.Close()

	if err := c.Mail(n.from); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}
	return c.Quit()
}

func failureMessage(from, to, runID, videoKey, errorMsg string, at time.Time) []byte {
	headers := []string{
		"From: " + from,
		"To: " + to,
		fmt.Sprintf("Subject: FIAP X - Video Annotation Failed [Run %s]", runID),
		"Date: " + at.UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
		"Content-Type: text/plain; charset=UTF-8",
	}
	body := fmt.Sprintf(
		"Hello,\r\n\r\n"+
			"We could not annotate your video. Annotation runs are not retried automatically.\r\n\r\n"+
			"Run ID: %s\r\n"+
			"Video: %s\r\n"+
			"Error: %s\r\n\r\n"+
			"Please check the file and submit it again, or contact support.\r\n\r\n"+
			"-- FIAP X Annotation Service\r\n",
		runID, videoKey, errorMsg,
	)
	return []byte(strings.Join(headers, "\r\n") + "\r\n\r\n" + body)
}
