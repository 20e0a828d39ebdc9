package mail

import (
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	job := Job{
		Recipients: []string{"alice@example.com", "bob@example.com"},
		Subject:    "Verify your email",
		HTMLBody:   "<p>Click the link</p>",
	}

	msg := buildMessage("noreply@swap-service.local", job)

	header, body, found := strings.Cut(msg, "\r\n\r\n")
	if !found {
		t.Fatal("message has no header/body separator")
	}
	if body != job.HTMLBody {
		t.Errorf("body = %q, want %q", body, job.HTMLBody)
	}

	for _, want := range []string{
		"From: noreply@swap-service.local",
		"To: alice@example.com, bob@example.com",
		"Subject: Verify your email",
		"MIME-Version: 1.0",
		`Content-Type: text/html; charset="UTF-8"`,
	} {
		if !strings.Contains(header, want) {
			t.Errorf("header missing %q:\n%s", want, header)
		}
	}
}
