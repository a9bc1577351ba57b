package backend

import (
	"context"
	"path/filepath"
	"testing"

	"freelance-erp/internal/config"
	"freelance-erp/internal/storage"
)

func TestFromAppConfig(t *testing.T) {
	if _, err := FromAppConfig(nil); err == nil {
		t.Error("expected error for nil config")
	}
	cfg := &config.Config{DataBackend: "sheets"}
	if _, err := FromAppConfig(cfg); err == nil {
		t.Error("expected error for unknown backend")
	}
	cfg = &config.Config{DataBackend: "sqlite", SQLiteDBPath: "x.db", AMQPURL: "amqp://localhost", AMQPExchange: "erp", AMQPQueue: "q"}
	got, err := FromAppConfig(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if got.Type != SQLiteBackend || got.AMQPQueue != "q" {
		t.Errorf("FromAppConfig() = %+v", got)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"memory", Config{Type: MemoryBackend}, false},
		{"sqlite without path", Config{Type: SQLiteBackend}, true},
		{"amqp without queue", Config{Type: MemoryBackend, AMQPURL: "amqp://x", AMQPExchange: "erp"}, true},
		{"bad type", Config{Type: "gorm"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFactory_CreateBackend(t *testing.T) {
	f := NewFactory(nil)

	res, err := f.CreateBackend(context.Background(), Config{Type: MemoryBackend})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := res.Repository.(*storage.MemoryRepository); !ok {
		t.Errorf("repository = %T", res.Repository)
	}
	if res.Publisher != nil {
		t.Error("publisher without AMQP URL")
	}
	if err := res.Cleanup(); err != nil {
		t.Errorf("Cleanup() = %v", err)
	}

	path := filepath.Join(t.TempDir(), "erp.db")
	res, err = f.CreateBackend(context.Background(), Config{Type: SQLiteBackend, SQLiteDBPath: path})
	if err != nil {
		t.Fatal(err)
	}
	defer res.Cleanup()
	if err := res.Repository.Ping(context.Background()); err != nil {
		t.Errorf("Ping() = %v", err)
	}
}

func TestBackendResult_DocumentPublisherNil(t *testing.T) {
	res := &BackendResult{}
	if res.DocumentPublisher() != nil {
		t.Error("missing client must be a nil interface")
	}
}
