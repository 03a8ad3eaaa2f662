package provider

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	mq "github.com/sungwon/mailqueue/internal/mail"
)

// mockHTTPClient records requests and replies with a canned response.
type mockHTTPClient struct {
	mu       sync.Mutex
	requests []*HTTPRequest
	resp     *HTTPResponse
	err      error
}

func (m *mockHTTPClient) Do(_ context.Context, req *HTTPRequest) (*HTTPResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	if m.resp == nil {
		return &HTTPResponse{StatusCode: 200, Body: []byte(`{}`)}, nil
	}
	return m.resp, nil
}

func (m *mockHTTPClient) last() *HTTPRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}

// mockProvider is a Provider with scripted behavior.
type mockProvider struct {
	name      string
	result    *DeliveryResult
	sendErr   error
	healthErr error
	panicMsg  string
	block     bool
}

func (m *mockProvider) Send(ctx context.Context, _ *mq.Message) (*DeliveryResult, error) {
	if m.panicMsg != "" {
		panic(m.panicMsg)
	}
	if m.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return m.result, m.sendErr
}

func (m *mockProvider) GetName() string { return m.name }

func (m *mockProvider) HealthCheck(_ context.Context) error { return m.healthErr }

var errBoom = errors.New("boom")

func testMessage() *mq.Message {
	return &mq.Message{
		ID:        uuid.MustParse("3f2c9a6e-1d7b-4c55-9a40-6c1e2b7d8f01"),
		FromEmail: "noreply@example.com",
		To:        []string{"ana@example.com"},
		Cc:        []string{"cc@example.com"},
		Bcc:       []string{"audit@example.com"},
		Subject:   "Welcome, Ana",
		HTMLBody:  "<p>Hello Ana</p>",
		TextBody:  "Hello Ana",
		Status:    mq.StatusSending,
	}
}
