package provider

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/textproto"
	"strings"
	"time"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// BuildMIME renders msg as an RFC 5322 message. Bcc recipients are left
// out of the headers. Bodies use quoted-printable; a message with both
// parts becomes multipart/alternative with the text part first.
func BuildMIME(msg *mq.Message, date time.Time) []byte {
	var buf bytes.Buffer
	header := func(k, v string) { fmt.Fprintf(&buf, "%s: %s\r\n", k, v) }

	header("From", msg.FromEmail)
	header("To", strings.Join(msg.To, ", "))
	if len(msg.Cc) > 0 {
		header("Cc", strings.Join(msg.Cc, ", "))
	}
	header("Subject", mime.QEncoding.Encode("utf-8", msg.Subject))
	header("Date", date.UTC().Format(time.RFC1123Z))
	header("Message-ID", fmt.Sprintf("<%s@mailqueue>", msg.ID))
	header("MIME-Version", "1.0")

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		mw := multipart.NewWriter(&buf)
		header("Content-Type", "multipart/alternative; boundary="+mw.Boundary())
		buf.WriteString("\r\n")
		writePart(mw, "text/plain", msg.TextBody)
		writePart(mw, "text/html", msg.HTMLBody)
		_ = mw.Close()
	case msg.HTMLBody != "":
		writeSingle(&buf, "text/html", msg.HTMLBody)
	default:
		writeSingle(&buf, "text/plain", msg.TextBody)
	}
	return buf.Bytes()
}

func writeSingle(buf *bytes.Buffer, contentType, body string) {
	fmt.Fprintf(buf, "Content-Type: %s; charset=utf-8\r\n", contentType)
	buf.WriteString("Content-Transfer-Encoding: quoted-printable\r\n\r\n")
	writeQP(buf, body)
}

func writePart(mw *multipart.Writer, contentType, body string) {
	h := textproto.MIMEHeader{}
	h.Set("Content-Type", contentType+"; charset=utf-8")
	h.Set("Content-Transfer-Encoding", "quoted-printable")
	// Writes into a bytes.Buffer cannot fail.
	w, _ := mw.CreatePart(h)
	var part bytes.Buffer
	writeQP(&part, body)
	_, _ = w.Write(part.Bytes())
}

func writeQP(buf *bytes.Buffer, body string) {
	qp := quotedprintable.NewWriter(buf)
	_, _ = qp.Write([]byte(body))
	_ = qp.Close()
	buf.WriteString("\r\n")
}
