package stats

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/councilor/internal/domain"
)

const (
	fieldTotal   = "total_executions"
	fieldSuccess = "success_count"
	fieldLast    = "last_execution_at"

	defaultBucketRetention = 7 * 24 * time.Hour
)

// RedisMirror keeps a per-job hash of counters plus hourly buckets for dashboards.
type RedisMirror struct {
	client    *redis.Client
	prefix    string
	retention time.Duration
}

func NewRedisMirror(client *redis.Client) *RedisMirror {
	return &RedisMirror{client: client, prefix: "councilor", retention: defaultBucketRetention}
}

// WithRetention sets how long hourly buckets are kept.
func (m *RedisMirror) WithRetention(d time.Duration) *RedisMirror {
	m.retention = d
	return m
}

func (m *RedisMirror) Record(ctx context.Context, jobID string, success bool, at time.Time) error {
	var inc int64
	if success {
		inc = 1
	}

	totalsKey := m.totalsKey(jobID)
	bucketKey := m.bucketKey(jobID, at)

	pipe := m.client.Pipeline()
	pipe.HIncrBy(ctx, totalsKey, fieldTotal, 1)
	pipe.HIncrBy(ctx, totalsKey, fieldSuccess, inc)
	pipe.HSet(ctx, totalsKey, fieldLast, at.UTC().UnixMilli())
	pipe.HIncrBy(ctx, bucketKey, fieldTotal, 1)
	pipe.HIncrBy(ctx, bucketKey, fieldSuccess, inc)
	pipe.Expire(ctx, bucketKey, m.retention)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline: %w", err)
	}
	return nil
}

// Read returns the mirrored counters for jobID.
func (m *RedisMirror) Read(ctx context.Context, jobID string) (domain.Stats, error) {
	vals, err := m.client.HGetAll(ctx, m.totalsKey(jobID)).Result()
	if err != nil {
		return domain.Stats{}, fmt.Errorf("redis hgetall: %w", err)
	}
	return parseStats(jobID, vals)
}

func parseStats(jobID string, vals map[string]string) (domain.Stats, error) {
	st := domain.Stats{JobID: jobID}
	var err error
	if v, ok := vals[fieldTotal]; ok {
		if st.TotalExecutions, err = strconv.ParseInt(v, 10, 64); err != nil {
			return domain.Stats{}, fmt.Errorf("parse %s: %w", fieldTotal, err)
		}
	}
	if v, ok := vals[fieldSuccess]; ok {
		if st.SuccessCount, err = strconv.ParseInt(v, 10, 64); err != nil {
			return domain.Stats{}, fmt.Errorf("parse %s: %w", fieldSuccess, err)
		}
	}
	if v, ok := vals[fieldLast]; ok {
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return domain.Stats{}, fmt.Errorf("parse %s: %w", fieldLast, err)
		}
		t := time.UnixMilli(ms).UTC()
		st.LastExecutionAt = &t
	}
	return st, nil
}

func (m *RedisMirror) totalsKey(jobID string) string {
	return fmt.Sprintf("%s:stats:%s", m.prefix, jobID)
}

func (m *RedisMirror) bucketKey(jobID string, t time.Time) string {
	return fmt.Sprintf("%s:stats:%s:%s", m.prefix, jobID, t.UTC().Format("2006010215"))
}
