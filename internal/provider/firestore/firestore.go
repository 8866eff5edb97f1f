// Package firestore implements the Provider interface using Google Cloud Firestore Native Mode.
package firestore

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"

	"github.com/dwsmith1983/gtfsload/internal/provider"
	"github.com/dwsmith1983/gtfsload/pkg/types"
)

// Compile-time interface satisfaction check.
var _ provider.Provider = (*FirestoreProvider)(nil)

const defaultCollection = "gtfsload"

// FirestoreProvider keeps one document per snapshot and one per lease.
type FirestoreProvider struct {
	client     *firestore.Client
	collection string
	logger     *slog.Logger
}

// New creates a new FirestoreProvider.
func New(cfg *types.FirestoreConfig) (*FirestoreProvider, error) {
	if cfg == nil {
		return nil, fmt.Errorf("firestore config is required")
	}
	if cfg.ProjectID == "" {
		return nil, fmt.Errorf("firestore projectId is required")
	}

	if cfg.Emulator != "" {
		os.Setenv("FIRESTORE_EMULATOR_HOST", cfg.Emulator)
	}

	client, err := firestore.NewClient(context.Background(), cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating Firestore client: %w", err)
	}
	return NewFromClient(client, cfg.Collection), nil
}

// NewFromClient wraps an existing client.
func NewFromClient(client *firestore.Client, collection string) *FirestoreProvider {
	if collection == "" {
		collection = defaultCollection
	}
	return &FirestoreProvider{
		client:     client,
		collection: collection,
		logger:     slog.Default(),
	}
}

func (p *FirestoreProvider) coll() *firestore.CollectionRef {
	return p.client.Collection(p.collection)
}

// Start initializes the provider.
func (p *FirestoreProvider) Start(_ context.Context) error {
	return nil
}

// Stop closes the Firestore client.
func (p *FirestoreProvider) Stop(_ context.Context) error {
	return p.client.Close()
}

// Ping checks connectivity by reading a non-existent document.
func (p *FirestoreProvider) Ping(ctx context.Context) error {
	_, err := p.coll().Doc("__ping__").Get(ctx)
	if isNotFound(err) {
		return nil
	}
	return err
}
