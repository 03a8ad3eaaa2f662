package bootstrap

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/rs/zerolog"

	"github.com/sungwon/mailqueue/internal/config"
	mq "github.com/sungwon/mailqueue/internal/mail"
	"github.com/sungwon/mailqueue/internal/queue"
	"github.com/sungwon/mailqueue/internal/storage/memory"
	"github.com/sungwon/mailqueue/internal/templates"
)

func testConfig() *config.Config {
	return &config.Config{
		Queue: queue.DefaultConfig(),
		Delivery: config.DeliveryConfig{
			Backend:              "stdout",
			DefaultFrom:          "no-reply@example.com",
			MaxAttempts:          3,
			RetryScheduleSeconds: []int{0, 60, 120},
			SendTimeout:          5 * time.Second,
		},
		Templates: config.TemplatesConfig{MaxBytes: templates.DefaultMaxBytes},
	}
}

func testApp(t *testing.T, cfg *config.Config) *App {
	t.Helper()
	app := &App{
		Config:       cfg,
		Log:          zerolog.Nop(),
		Messages:     memory.NewMessageStore(),
		Templates:    memory.NewTemplateStore(),
		Suppressions: memory.NewSuppressionStore(),
	}
	if err := app.initProvider(context.Background()); err != nil {
		t.Fatalf("initProvider() error = %v", err)
	}
	return app
}

func TestNewEngine(t *testing.T) {
	app := testApp(t, testConfig())
	if app.Provider.GetName() != "stdout" {
		t.Errorf("provider = %s, want stdout", app.Provider.GetName())
	}
	if app.Health == nil {
		t.Error("expected a health checker")
	}
	if _, err := app.NewEngine(); err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}

	app.Config.Delivery.RetryScheduleSeconds = []int{10}
	if _, err := app.NewEngine(); err == nil {
		t.Error("expected error for a schedule not starting at 0")
	}
}

func TestInitProvider_Unknown(t *testing.T) {
	cfg := testConfig()
	cfg.Delivery.Backend = "pigeon"
	app := &App{Config: cfg, Log: zerolog.Nop()}
	if err := app.initProvider(context.Background()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewQueue_Inline(t *testing.T) {
	app := testApp(t, testConfig())
	q, err := app.NewQueue(context.Background(), nil)
	if err != nil || q != nil {
		t.Fatalf("NewQueue() = %v, %v; want nil, nil", q, err)
	}

	engine, q, err := app.ProducerEngine(context.Background())
	if err != nil || engine == nil || q != nil {
		t.Fatalf("ProducerEngine() = %v, %v, %v", engine, q, err)
	}
}

func TestNewRedis_Disabled(t *testing.T) {
	client, err := NewRedis(context.Background(), config.RedisConfig{})
	if err != nil || client != nil {
		t.Fatalf("NewRedis() = %v, %v; want nil, nil", client, err)
	}
}

func TestSyncFS(t *testing.T) {
	ctx := context.Background()
	store := memory.NewTemplateStore()
	fsys := fstest.MapFS{
		"welcome/manifest.json":  {Data: []byte(`{"name":"welcome","revision":1,"description":"Welcome","required_vars":["name"]}`)},
		"welcome/subject.liquid": {Data: []byte("Hi {{ name }}")},
		"welcome/text.liquid":    {Data: []byte("Hello {{ name }}")},
	}

	results, err := syncFS(ctx, store, fsys, templates.DefaultMaxBytes, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("syncFS() error = %v", err)
	}
	if len(results) != 1 || results[0].Action != mq.PublishCreate || !results[0].Written {
		t.Fatalf("results = %+v", results)
	}

	results, err = syncFS(ctx, store, fsys, templates.DefaultMaxBytes, false, zerolog.Nop())
	if err != nil {
		t.Fatalf("second syncFS() error = %v", err)
	}
	if len(results) != 1 || results[0].Action != mq.PublishUnchanged || results[0].Written {
		t.Fatalf("second results = %+v", results)
	}

	tpl, err := store.GetActive(ctx, "welcome")
	if err != nil || tpl == nil || tpl.Revision != 1 {
		t.Fatalf("GetActive() = %+v, %v", tpl, err)
	}
}

func TestSeedTemplates_MissingDir(t *testing.T) {
	err := SeedTemplates(context.Background(), memory.NewTemplateStore(), t.TempDir()+"/absent", templates.DefaultMaxBytes, zerolog.Nop())
	if err != nil {
		t.Fatalf("SeedTemplates() error = %v", err)
	}
}
