//go:build integration

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fortec/gateway/internal/metrics"
	"github.com/fortec/gateway/internal/testutil"
)

func TestIntegrationRedisPublisher(t *testing.T) {
	url := testutil.RequireEnv(t, "REDIS_URL")
	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse REDIS_URL: %v", err)
	}
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	if err := testutil.FlushRedis(ctx, client); err != nil {
		t.Fatalf("flush redis: %v", err)
	}

	rec := metrics.NewInMemory()
	p := NewRedisPublisher(client, testutil.DiscardLogger(), rec)

	id, err := p.Publish(ctx, UsageEvent{AccountID: "acc-1", Category: "image", Outcome: "success"})
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msgs, err := client.XRange(ctx, StreamKey, id, id).Result()
	if err != nil || len(msgs) != 1 {
		t.Fatalf("XRange = %v, %v", msgs, err)
	}
	var got UsageEvent
	if err := json.Unmarshal([]byte(msgs[0].Values["payload"].(string)), &got); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if got.AccountID != "acc-1" || got.Category != "image" {
		t.Errorf("payload = %+v", got)
	}

	p.PublishAsync(UsageEvent{AccountID: "acc-2"})
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.Snapshot().UsageEventsPublished["success"] == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("async publish not recorded: %+v", rec.Snapshot().UsageEventsPublished)
}
