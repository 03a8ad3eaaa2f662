package provider

import (
	"context"
	"testing"

	"github.com/resend/resend-go/v3"
)

type mockResend struct {
	req *resend.SendEmailRequest
	err error
}

func (m *mockResend) SendWithContext(_ context.Context, req *resend.SendEmailRequest) (*resend.SendEmailResponse, error) {
	m.req = req
	if m.err != nil {
		return nil, m.err
	}
	return &resend.SendEmailResponse{Id: "re-77"}, nil
}

func TestResend_Send(t *testing.T) {
	api := &mockResend{}
	r := &Resend{emails: api, fromName: "Acme", apiKey: "re_k"}

	res, err := r.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if res.ProviderMessageID != "re-77" {
		t.Errorf("ProviderMessageID = %q, want %q", res.ProviderMessageID, "re-77")
	}
	if api.req.From != "Acme <noreply@example.com>" {
		t.Errorf("From = %q", api.req.From)
	}
	if len(api.req.Bcc) != 1 || api.req.Html != "<p>Hello Ana</p>" {
		t.Errorf("request = %+v", api.req)
	}
}

func TestResend_Send_Error(t *testing.T) {
	r := &Resend{emails: &mockResend{err: errBoom}}
	_, err := r.Send(context.Background(), testMessage())
	if err == nil || !IsTransient(err) {
		t.Errorf("Send() error = %v, want transient", err)
	}
}
