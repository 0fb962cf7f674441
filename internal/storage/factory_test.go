package storage

import (
	"context"
	"testing"

	"github.com/modelwatch/modelwatch/internal/config"
)

func TestNewStoreNone(t *testing.T) {
	store, err := NewStore(context.Background(), &config.StorageConfig{Backend: "none"}, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*NoopStore); !ok {
		t.Errorf("expected NoopStore, got %T", store)
	}
}

func TestNewStoreBadgerInMemory(t *testing.T) {
	cfg := &config.StorageConfig{Backend: "badger", RetentionDays: 30}

	store, err := NewStore(context.Background(), cfg, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*BadgerStore); !ok {
		t.Errorf("expected BadgerStore, got %T", store)
	}
}

func TestNewStoreDefaultsToBadger(t *testing.T) {
	store, err := NewStore(context.Background(), &config.StorageConfig{}, testLogger(t), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer store.Close()

	if _, ok := store.(*BadgerStore); !ok {
		t.Errorf("expected BadgerStore for empty backend, got %T", store)
	}
}

func TestNewStoreUnknownBackend(t *testing.T) {
	_, err := NewStore(context.Background(), &config.StorageConfig{Backend: "etcd"}, testLogger(t), nil)
	if err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewStoreNilConfig(t *testing.T) {
	if _, err := NewStore(context.Background(), nil, testLogger(t), nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}
