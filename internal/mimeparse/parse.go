// Package mimeparse reads RFC 5322 submissions into the parts a mail
// message carries: envelope headers, a text body and an HTML body. Other
// leaf parts are reported as attachments without their content.
package mimeparse

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// ParsedMessage holds the structured parts extracted from a raw message.
type ParsedMessage struct {
	// MessageID is the Message-ID header without angle brackets.
	MessageID string
	// Subject is decoded from RFC 2047 encoded words.
	Subject  string
	From     string
	To       []string
	Cc       []string
	TextBody string
	HTMLBody string
	// Attachments lists leaf parts that are neither the first text/plain
	// nor the first text/html part.
	Attachments []Attachment
}

// Attachment describes a MIME part that was not used as a body.
type Attachment struct {
	Filename    string
	ContentType string
	Size        int
	IsInline    bool
}

var wordDecoder = &mime.WordDecoder{}

// Parse parses a raw RFC 5322 message (headers + body). For non-multipart
// messages the body is placed in TextBody or HTMLBody by Content-Type.
// Multipart bodies are walked recursively.
func Parse(raw []byte) (*ParsedMessage, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("mimeparse: read message: %w", err)
	}

	parsed := &ParsedMessage{
		MessageID: strings.Trim(strings.TrimSpace(msg.Header.Get("Message-Id")), "<>"),
		Subject:   decodeHeader(msg.Header.Get("Subject")),
	}
	if from, err := addressList(msg.Header, "From"); err == nil && len(from) > 0 {
		parsed.From = from[0]
	}
	if parsed.To, err = addressList(msg.Header, "To"); err != nil {
		return nil, err
	}
	if parsed.Cc, err = addressList(msg.Header, "Cc"); err != nil {
		return nil, err
	}

	contentType := msg.Header.Get("Content-Type")
	transferEncoding := msg.Header.Get("Content-Transfer-Encoding")
	if contentType == "" {
		// RFC 2045 default.
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return nil, fmt.Errorf("mimeparse: parse Content-Type: %w", err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, errors.New("mimeparse: multipart message missing boundary")
		}
		if err := walkMultipart(msg.Body, boundary, parsed); err != nil {
			return nil, err
		}
		return parsed, nil
	}

	body, err := readBody(msg.Body, transferEncoding)
	if err != nil {
		return nil, fmt.Errorf("mimeparse: read body: %w", err)
	}
	switch mediaType {
	case "text/html":
		parsed.HTMLBody = string(body)
	case "text/plain":
		parsed.TextBody = string(body)
	default:
		parsed.Attachments = append(parsed.Attachments, Attachment{ContentType: mediaType, Size: len(body)})
	}
	return parsed, nil
}

// addressList returns the bare addresses of header key. A missing header
// yields nil.
func addressList(h mail.Header, key string) ([]string, error) {
	if h.Get(key) == "" {
		return nil, nil
	}
	list, err := h.AddressList(key)
	if err != nil {
		return nil, fmt.Errorf("mimeparse: parse %s: %w", key, err)
	}
	out := make([]string, len(list))
	for i, a := range list {
		out[i] = a.Address
	}
	return out, nil
}

// decodeHeader decodes RFC 2047 words, returning the raw value when it
// cannot be decoded.
func decodeHeader(v string) string {
	decoded, err := wordDecoder.DecodeHeader(v)
	if err != nil {
		return v
	}
	return decoded
}

func walkMultipart(r io.Reader, boundary string, parsed *ParsedMessage) error {
	mr := multipart.NewReader(r, boundary)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("mimeparse: read next part: %w", err)
		}

		mediaType := "text/plain"
		var params map[string]string
		if ct := part.Header.Get("Content-Type"); ct != "" {
			if mediaType, params, err = mime.ParseMediaType(ct); err != nil {
				mediaType = "application/octet-stream"
			}
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			if nested := params["boundary"]; nested != "" {
				if err := walkMultipart(part, nested, parsed); err != nil {
					return err
				}
			}
			continue
		}

		body, err := readBody(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return fmt.Errorf("mimeparse: read part body: %w", err)
		}

		disposition, dispParams := partDisposition(part)
		switch {
		case disposition != "attachment" && mediaType == "text/plain" && parsed.TextBody == "":
			parsed.TextBody = string(body)
		case disposition != "attachment" && mediaType == "text/html" && parsed.HTMLBody == "":
			parsed.HTMLBody = string(body)
		default:
			filename := dispParams["filename"]
			if filename == "" {
				filename = params["name"]
			}
			parsed.Attachments = append(parsed.Attachments, Attachment{
				Filename:    filename,
				ContentType: mediaType,
				Size:        len(body),
				IsInline:    disposition == "inline",
			})
		}
	}
}

func partDisposition(part *multipart.Part) (string, map[string]string) {
	v := part.Header.Get("Content-Disposition")
	if v == "" {
		return "", nil
	}
	d, params, err := mime.ParseMediaType(v)
	if err != nil {
		return "", nil
	}
	return strings.ToLower(d), params
}

// readBody reads r, decoding base64 or quoted-printable transfer encodings.
func readBody(r io.Reader, transferEncoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(transferEncoding)) {
	case "base64":
		return io.ReadAll(base64.NewDecoder(base64.StdEncoding, r))
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	default:
		return io.ReadAll(r)
	}
}
