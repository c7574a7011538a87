package redis

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupTestRedis(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return &Client{rdb: rdb, logger: zap.NewNop()}, mr
}

const scope = "appointment:3f2a:reminders"

func TestIdempotencyService_NewRequest(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())

	result, err := svc.CheckOrReserve(context.Background(), scope, "key-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil {
		t.Fatalf("expected nil result for new request, got: %+v", result)
	}
}

func TestIdempotencyService_InFlight(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, scope, "key-1"); err != nil {
		t.Fatalf("first request failed: %v", err)
	}
	if _, err := svc.CheckOrReserve(ctx, scope, "key-1"); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got: %v", err)
	}
}

func TestIdempotencyService_ReplaysStoredResponse(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, scope, "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}

	body := json.RawMessage(`{"created":[],"skipped":[]}`)
	if err := svc.Store(ctx, scope, "key-1", &IdempotencyResult{StatusCode: 201, Body: body}, IdempotencyTTL); err != nil {
		t.Fatalf("store failed: %v", err)
	}

	cached, err := svc.CheckOrReserve(ctx, scope, "key-1")
	if err != nil {
		t.Fatalf("check failed: %v", err)
	}
	if cached == nil || cached.StatusCode != 201 {
		t.Fatalf("expected cached 201, got %+v", cached)
	}
	if string(cached.Body) != string(body) {
		t.Errorf("body = %s, want %s", cached.Body, body)
	}
	if cached.CreatedAt == 0 {
		t.Error("CreatedAt should be stamped on store")
	}
}

func TestIdempotencyService_ScopeIsolation(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, "appointment:a:reminders", "same-key"); err != nil {
		t.Fatalf("scope a failed: %v", err)
	}

	result, err := svc.CheckOrReserve(ctx, "appointment:b:reminders", "same-key")
	if err != nil {
		t.Fatalf("scope b should succeed: %v", err)
	}
	if result != nil {
		t.Fatal("scope b should be a new request")
	}
}

func TestIdempotencyService_Release(t *testing.T) {
	client, _ := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, scope, "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	if err := svc.Release(ctx, scope, "key-1"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	if _, err := svc.CheckOrReserve(ctx, scope, "key-1"); err != nil {
		t.Fatalf("key should be reusable after release: %v", err)
	}

	// a completed response survives Release
	if err := svc.Store(ctx, scope, "key-2", &IdempotencyResult{StatusCode: 201}, IdempotencyTTL); err != nil {
		t.Fatalf("store failed: %v", err)
	}
	if err := svc.Release(ctx, scope, "key-2"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	cached, err := svc.Check(ctx, scope, "key-2")
	if err != nil || cached == nil {
		t.Fatalf("stored result lost: %v %v", cached, err)
	}
}

func TestIdempotencyService_ReservationExpires(t *testing.T) {
	client, mr := setupTestRedis(t)
	svc := NewIdempotencyService(client, zap.NewNop())
	ctx := context.Background()

	if _, err := svc.CheckOrReserve(ctx, scope, "key-1"); err != nil {
		t.Fatalf("reserve failed: %v", err)
	}
	mr.FastForward(processingTTL + 1)

	if _, err := svc.CheckOrReserve(ctx, scope, "key-1"); err != nil {
		t.Fatalf("expired reservation should be reusable: %v", err)
	}
}
