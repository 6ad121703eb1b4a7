package email

import (
	"strings"
	"testing"
)

func TestBuildMessage(t *testing.T) {
	msg := buildMessage("no-reply@agendei.local", "client@example.com", "Booking confirmed", "See you soon.")

	if !strings.HasPrefix(msg, "From: no-reply@agendei.local\r\n") {
		t.Fatalf("missing From header: %q", msg)
	}
	if !strings.Contains(msg, "To: client@example.com\r\n") {
		t.Fatalf("missing To header: %q", msg)
	}
	if !strings.Contains(msg, "Subject: Booking confirmed\r\n") {
		t.Fatalf("missing Subject header: %q", msg)
	}
	if !strings.Contains(msg, "\r\n\r\nSee you soon.\r\n") {
		t.Fatalf("body not separated from headers: %q", msg)
	}
}

func TestNewSMTPSenderDefaultsFrom(t *testing.T) {
	s := NewSMTPSender("mailpit", "1025", "  ")
	if s.from != defaultFrom {
		t.Fatalf("from %q, want %q", s.from, defaultFrom)
	}
	if s.addr != "mailpit:1025" {
		t.Fatalf("addr %q, want mailpit:1025", s.addr)
	}
}
