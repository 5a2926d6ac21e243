package persistence

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisStoreRoundTrip(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	store, err := NewRedisStore(RedisStoreConfig{Client: client, KeyPrefix: "test"})
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("ping failed: %v", err)
	}
	exerciseAdapter(t, store)

	if !mr.Exists("test:room:room-1") {
		t.Fatalf("expected key under configured prefix, keys: %v", mr.Keys())
	}
}

func TestRedisStoreSurfacesConnectionErrors(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	store, err := NewRedisStore(RedisStoreConfig{Client: client})
	if err != nil {
		t.Fatalf("store init failed: %v", err)
	}
	mr.Close()

	if _, found, err := store.Load(context.Background(), "room-1"); err == nil || found {
		t.Fatalf("expected load against a stopped server to fail, got found=%v err=%v", found, err)
	}
	if err := store.Save(context.Background(), "room-1", sampleSnapshot(t)); err == nil {
		t.Fatalf("expected save against a stopped server to fail")
	}
}
