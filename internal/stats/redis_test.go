package stats

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func TestRedisMirror_Keys(t *testing.T) {
	m := NewRedisMirror(nil)
	at := time.Date(2025, 3, 9, 14, 59, 59, 0, time.FixedZone("BRT", -3*60*60))

	if got := m.totalsKey("agent-1"); got != "councilor:stats:agent-1" {
		t.Errorf("totalsKey = %q", got)
	}
	// 14:59 BRT is 17:59 UTC.
	if got := m.bucketKey("agent-1", at); got != "councilor:stats:agent-1:2025030917" {
		t.Errorf("bucketKey = %q", got)
	}
}

func TestParseStats(t *testing.T) {
	st, err := parseStats("a", map[string]string{
		fieldTotal:   "3",
		fieldSuccess: "2",
		fieldLast:    "1735732800000",
	})
	if err != nil {
		t.Fatal(err)
	}
	if st.TotalExecutions != 3 || st.SuccessCount != 2 {
		t.Errorf("counts = %d/%d", st.SuccessCount, st.TotalExecutions)
	}
	want := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	if st.LastExecutionAt == nil || !st.LastExecutionAt.Equal(want) {
		t.Errorf("LastExecutionAt = %v, want %v", st.LastExecutionAt, want)
	}

	empty, err := parseStats("b", map[string]string{})
	if err != nil || empty.TotalExecutions != 0 || empty.LastExecutionAt != nil {
		t.Errorf("parseStats(empty) = %+v, %v", empty, err)
	}

	if _, err := parseStats("c", map[string]string{fieldTotal: "many"}); err == nil {
		t.Error("expected parse error")
	}
}

func TestRedisMirror_UnreachableReturnsError(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	m := NewRedisMirror(client).WithRetention(time.Hour)
	if m.retention != time.Hour {
		t.Errorf("retention = %v, want 1h", m.retention)
	}
	if err := m.Record(ctx, "a", true, time.Now()); err == nil {
		t.Error("expected error from unreachable redis")
	}
	if _, err := m.Read(ctx, "a"); err == nil {
		t.Error("expected read error from unreachable redis")
	}
}

func TestRedisMirror_IsReadable(t *testing.T) {
	var m Mirror = NewRedisMirror(nil)
	if _, ok := m.(MirrorReader); !ok {
		t.Error("RedisMirror should serve counters back")
	}
}
