package mail

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"swap-service/internal/client"
	"swap-service/internal/config"
)

// Worker consumes the mail topic and delivers each job over SMTP.
// Delivery failures are logged and the job is skipped; end users never see
// mail errors.
type Worker struct {
	consumer *client.KafkaConsumer
	cfg      config.MailConfig
	logger   *zap.Logger

	// send is replaceable in tests.
	send func(job Job) error
}

func NewWorker(consumer *client.KafkaConsumer, cfg *config.Config, logger *zap.Logger) *Worker {
	w := &Worker{
		consumer: consumer,
		cfg:      cfg.Mail,
		logger:   logger,
	}
	w.send = w.sendSMTP
	return w
}

// Run consumes until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	w.logger.Info("mail worker started")
	for {
		msg, err := w.consumer.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				w.logger.Info("mail worker stopped")
				return
			}
			w.logger.Error("mail consume failed", zap.Error(err))
			continue
		}

		var job Job
		if err := json.Unmarshal(msg.Value, &job); err != nil {
			w.logger.Error("invalid mail job payload", zap.Error(err))
			continue
		}

		if err := w.send(job); err != nil {
			w.logger.Error("mail delivery failed",
				zap.String("subject", job.Subject),
				zap.Int("recipients", len(job.Recipients)),
				zap.Error(err))
			continue
		}

		w.logger.Debug("mail delivered",
			zap.String("subject", job.Subject),
			zap.Int("recipients", len(job.Recipients)))
	}
}

func (w *Worker) sendSMTP(job Job) error {
	if len(job.Recipients) == 0 {
		return fmt.Errorf("mail job has no recipients")
	}

	body := buildMessage(w.cfg.From, job)
	addr := fmt.Sprintf("%s:%d", w.cfg.Host, w.cfg.Port)
	var auth smtp.Auth
	if w.cfg.Username != "" {
		auth = smtp.PlainAuth("", w.cfg.Username, w.cfg.Password, w.cfg.Host)
	}

	if err := smtp.SendMail(addr, auth, w.cfg.From, job.Recipients, []byte(body)); err != nil {
		return fmt.Errorf("smtp send failed: %w", err)
	}
	return nil
}

// buildMessage assembles the raw RFC 5322 message for an HTML mail.
func buildMessage(from string, job Job) string {
	var msg strings.Builder
	msg.WriteString("From: " + from + "\r\n")
	msg.WriteString("To: " + strings.Join(job.Recipients, ", ") + "\r\n")
	msg.WriteString("Subject: " + job.Subject + "\r\n")
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(job.HTMLBody)
	return msg.String()
}
