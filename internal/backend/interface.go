package backend

import (
	"context"

	"freelance-erp/internal/amqp"
	"freelance-erp/internal/auth"
	"freelance-erp/internal/services"
)

// Repository is everything the server and the worker need from storage.
type Repository interface {
	services.DocumentRepository
	services.ExportQueue
	auth.UserStore
}

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the backend instance and optional cleanup function
type BackendResult struct {
	Repository Repository
	// Publisher is nil when AMQP is not configured or unreachable.
	Publisher *amqp.Client
	Cleanup   CleanupFunc
}

// Factory creates backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	SQLiteDBPath string

	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string
}

// BackendType represents the type of backend
type BackendType string

const (
	SQLiteBackend BackendType = "sqlite"
	MemoryBackend BackendType = "memory"
)

func (bt BackendType) String() string {
	return string(bt)
}

func (bt BackendType) IsValid() bool {
	switch bt {
	case SQLiteBackend, MemoryBackend:
		return true
	default:
		return false
	}
}

// DocumentPublisher returns the publisher as a services.Publisher, keeping a
// missing client a nil interface.
func (r *BackendResult) DocumentPublisher() services.Publisher {
	if r.Publisher == nil {
		return nil
	}
	return r.Publisher
}
