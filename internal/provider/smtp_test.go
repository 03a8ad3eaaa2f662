package provider

import (
	"bytes"
	"context"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"

	gosmtp "github.com/emersion/go-smtp"
)

// relayBackend is an in-process SMTP server that records what it receives.
type relayBackend struct {
	mu       sync.Mutex
	from     string
	rcpts    []string
	data     []byte
	rejectTo string
}

func (b *relayBackend) NewSession(_ *gosmtp.Conn) (gosmtp.Session, error) {
	return &relaySession{b: b}, nil
}

type relaySession struct{ b *relayBackend }

func (s *relaySession) Mail(from string, _ *gosmtp.MailOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.from = from
	return nil
}

func (s *relaySession) Rcpt(to string, _ *gosmtp.RcptOptions) error {
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	if to == s.b.rejectTo {
		return &gosmtp.SMTPError{Code: 550, EnhancedCode: gosmtp.EnhancedCode{5, 1, 1}, Message: "no such user"}
	}
	s.b.rcpts = append(s.b.rcpts, to)
	return nil
}

func (s *relaySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	s.b.mu.Lock()
	defer s.b.mu.Unlock()
	s.b.data = data
	return nil
}

func (s *relaySession) Reset()        {}
func (s *relaySession) Logout() error { return nil }

func startRelay(t *testing.T, be *relayBackend) (string, int) {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := gosmtp.NewServer(be)
	srv.Domain = "localhost"
	go func() { _ = srv.Serve(l) }()
	t.Cleanup(func() { _ = srv.Close() })

	host, portStr, _ := net.SplitHostPort(l.Addr().String())
	port, _ := strconv.Atoi(portStr)
	return host, port
}

func TestSMTP_Send(t *testing.T) {
	be := &relayBackend{}
	host, port := startRelay(t, be)
	s := NewSMTP(ProviderConfig{Host: host, Port: port})

	msg := testMessage()
	res, err := s.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.ProviderMessageID != "<"+msg.ID.String()+"@mailqueue>" {
		t.Errorf("ProviderMessageID = %q", res.ProviderMessageID)
	}

	be.mu.Lock()
	defer be.mu.Unlock()
	if be.from != "noreply@example.com" {
		t.Errorf("MAIL FROM = %q", be.from)
	}
	if len(be.rcpts) != 3 {
		t.Errorf("RCPT TO = %v, want to+cc+bcc", be.rcpts)
	}
	if !bytes.Contains(be.data, []byte("Subject: Welcome, Ana")) {
		t.Errorf("data missing subject:\n%s", be.data)
	}
	if bytes.Contains(be.data, []byte("audit@example.com")) {
		t.Error("bcc address leaked into message headers")
	}
}

func TestSMTP_Send_RecipientRejected(t *testing.T) {
	be := &relayBackend{rejectTo: "ana@example.com"}
	host, port := startRelay(t, be)

	_, err := NewSMTP(ProviderConfig{Host: host, Port: port}).Send(context.Background(), testMessage())
	if !IsPermanent(err) {
		t.Errorf("Send() error = %v, want permanent", err)
	}
}

func TestSMTP_Send_StartTLSUnavailable(t *testing.T) {
	be := &relayBackend{}
	host, port := startRelay(t, be)

	_, err := NewSMTP(ProviderConfig{Host: host, Port: port, StartTLS: true}).Send(context.Background(), testMessage())
	if err == nil {
		t.Fatal("Send() over a relay without STARTTLS should fail")
	}
	be.mu.Lock()
	defer be.mu.Unlock()
	if be.from != "" || len(be.data) != 0 {
		t.Errorf("message sent in clear text: from=%q", be.from)
	}
}

func TestSMTP_Send_ConnectionRefused(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := l.Addr().(*net.TCPAddr).Port
	l.Close()

	_, err = NewSMTP(ProviderConfig{Host: "127.0.0.1", Port: port}).Send(context.Background(), testMessage())
	if err == nil || IsPermanent(err) {
		t.Errorf("Send() error = %v, want transient", err)
	}
}

func TestSMTP_Send_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewSMTP(ProviderConfig{Host: "127.0.0.1", Port: 1}).Send(ctx, testMessage()); err == nil {
		t.Error("Send() with canceled context should fail")
	}
}
