// Package main provides a CLI tool for submitting test messages to the
// mailqueue SMTP ingress. It supports STARTTLS, implicit TLS, plaintext
// connections, SMTP AUTH PLAIN and batch sending with rate limiting.
//
// Usage:
//
//	test-client --from sender@example.com --to recipient@example.com --subject "Test" --body "Hello"
//	test-client --tls none --user app --password secret --count 10 --rate 5
//	test-client --html "<p>Hello</p>" --message-id fixed@example.com   # resubmit to see idempotent replay
package main

import (
	"crypto/tls"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"
)

type options struct {
	host      string
	port      int
	tlsMode   string
	insecure  bool
	user      string
	password  string
	from      string
	to        stringSlice
	cc        stringSlice
	subject   string
	body      string
	html      string
	messageID string
	count     int
	rate      float64
}

// stringSlice implements flag.Value for repeatable address flags.
type stringSlice []string

func (s *stringSlice) String() string {
	return strings.Join(*s, ", ")
}

func (s *stringSlice) Set(value string) error {
	*s = append(*s, value)
	return nil
}

func main() {
	opts := parseFlags()

	if opts.from == "" {
		fmt.Fprintln(os.Stderr, "error: --from is required")
		flag.Usage()
		os.Exit(2)
	}
	if len(opts.to) == 0 {
		fmt.Fprintln(os.Stderr, "error: at least one --to is required")
		flag.Usage()
		os.Exit(2)
	}

	addr := fmt.Sprintf("%s:%d", opts.host, opts.port)

	fmt.Printf("mailqueue test client\n")
	fmt.Printf("  Server:   %s\n", addr)
	fmt.Printf("  TLS:      %s\n", opts.tlsMode)
	fmt.Printf("  From:     %s\n", opts.from)
	fmt.Printf("  To:       %s\n", opts.to.String())
	fmt.Printf("  Count:    %d\n", opts.count)
	if opts.count > 1 {
		fmt.Printf("  Rate:     %.1f messages/sec\n", opts.rate)
	}
	fmt.Println()

	var (
		successCount int
		failCount    int
		totalSend    time.Duration
	)

	interval := time.Duration(0)
	if opts.count > 1 && opts.rate > 0 {
		interval = time.Duration(float64(time.Second) / opts.rate)
	}

	for i := 0; i < opts.count; i++ {
		if i > 0 && interval > 0 {
			time.Sleep(interval)
		}

		seq := i + 1
		subject := opts.subject
		if opts.count > 1 {
			subject = fmt.Sprintf("%s [%d/%d]", opts.subject, seq, opts.count)
		}
		msgID := opts.messageID
		if msgID == "" {
			msgID = uuid.NewString() + "@" + opts.host
		}

		start := time.Now()
		err := submit(opts, addr, buildMessage(opts, msgID, subject))
		elapsed := time.Since(start)
		totalSend += elapsed

		if err != nil {
			failCount++
			fmt.Printf("  [%d/%d] FAIL (%s): %v\n", seq, opts.count, elapsed, err)
		} else {
			successCount++
			fmt.Printf("  [%d/%d] OK   (%s) <%s>\n", seq, opts.count, elapsed, msgID)
		}
	}

	fmt.Println()
	fmt.Printf("Results: %d accepted, %d failed, total time %s\n", successCount, failCount, totalSend)

	if failCount > 0 {
		os.Exit(1)
	}
}

func parseFlags() options {
	var opts options

	flag.StringVar(&opts.host, "host", "localhost", "SMTP server host")
	flag.IntVar(&opts.port, "port", 587, "SMTP server port")
	flag.StringVar(&opts.tlsMode, "tls", "starttls", "TLS mode: starttls, implicit, none")
	flag.BoolVar(&opts.insecure, "insecure", false, "Skip TLS certificate verification")
	flag.StringVar(&opts.user, "user", "", "SMTP AUTH username")
	flag.StringVar(&opts.password, "password", "", "SMTP AUTH password")
	flag.StringVar(&opts.from, "from", "", "Sender email address")
	flag.Var(&opts.to, "to", "Recipient email address (repeatable)")
	flag.Var(&opts.cc, "cc", "Cc address (repeatable)")
	flag.StringVar(&opts.subject, "subject", "Test Email", "Message subject")
	flag.StringVar(&opts.body, "body", "This is a test message sent by the mailqueue test-client.", "Plain text body")
	flag.StringVar(&opts.html, "html", "", "HTML body; sends multipart/alternative when set")
	flag.StringVar(&opts.messageID, "message-id", "", "Fixed Message-ID; repeated submissions are deduplicated")
	flag.IntVar(&opts.count, "count", 1, "Number of messages to send")
	flag.Float64Var(&opts.rate, "rate", 1, "Messages per second for batch sending")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: test-client [options]\n\n")
		fmt.Fprintf(os.Stderr, "Submits test messages to the mailqueue SMTP ingress.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}

	flag.Parse()
	return opts
}

func dial(opts options, addr string) (*smtp.Client, error) {
	tlsConfig := &tls.Config{
		ServerName:         opts.host,
		InsecureSkipVerify: opts.insecure, //nolint:gosec // dev certificates
	}
	switch opts.tlsMode {
	case "none":
		return smtp.Dial(addr)
	case "implicit":
		return smtp.DialTLS(addr, tlsConfig)
	case "starttls":
		return smtp.DialStartTLS(addr, tlsConfig)
	default:
		return nil, fmt.Errorf("unknown TLS mode: %s (use starttls, implicit, or none)", opts.tlsMode)
	}
}

func submit(opts options, addr string, msg []byte) error {
	c, err := dial(opts, addr)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer c.Close()

	if opts.user != "" {
		if err := c.Auth(sasl.NewPlainClient("", opts.user, opts.password)); err != nil {
			return fmt.Errorf("auth: %w", err)
		}
	}

	if err := c.Mail(opts.from, nil); err != nil {
		return fmt.Errorf("mail from: %w", err)
	}
	for _, rcpt := range append(append([]string{}, opts.to...), opts.cc...) {
		if err := c.Rcpt(rcpt, nil); err != nil {
			return fmt.Errorf("rcpt to %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("data: %w", err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close data: %w", err)
	}

	return c.Quit()
}

func buildMessage(opts options, msgID, subject string) []byte {
	var sb strings.Builder

	fmt.Fprintf(&sb, "From: %s\r\n", opts.from)
	fmt.Fprintf(&sb, "To: %s\r\n", strings.Join(opts.to, ", "))
	if len(opts.cc) > 0 {
		fmt.Fprintf(&sb, "Cc: %s\r\n", strings.Join(opts.cc, ", "))
	}
	fmt.Fprintf(&sb, "Subject: %s\r\n", subject)
	fmt.Fprintf(&sb, "Message-ID: <%s>\r\n", msgID)
	fmt.Fprintf(&sb, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	sb.WriteString("MIME-Version: 1.0\r\n")

	if opts.html == "" {
		sb.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
		sb.WriteString(opts.body)
		return []byte(sb.String())
	}

	boundary := "mq-" + strings.ReplaceAll(uuid.NewString(), "-", "")
	fmt.Fprintf(&sb, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	fmt.Fprintf(&sb, "--%s\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n", boundary, opts.body)
	fmt.Fprintf(&sb, "--%s\r\nContent-Type: text/html; charset=utf-8\r\n\r\n%s\r\n", boundary, opts.html)
	fmt.Fprintf(&sb, "--%s--\r\n", boundary)
	return []byte(sb.String())
}
