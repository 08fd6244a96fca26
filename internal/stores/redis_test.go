package stores

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redismock/v9"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run failed: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})
	return mr, client
}

func TestRedisAttemptLogCountsInclusiveRange(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewRedisAttemptLog(rdb, "")
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	for _, offset := range []int{0, 10, 20, 30} {
		if err := log.Record(ctx, "login:1.2.3.4", base.Add(time.Duration(offset)*time.Second), time.Hour); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	count, err := log.CountInRange(ctx, "login:1.2.3.4", base.Add(10*time.Second), base.Add(20*time.Second))
	if err != nil {
		t.Fatalf("CountInRange failed: %v", err)
	}
	if count != 2 {
		t.Fatalf("expected both bounds to be inclusive (2 attempts), got %d", count)
	}
}

func TestRedisAttemptLogKeepsSameSecondAttempts(t *testing.T) {
	_, rdb := newTestRedis(t)
	log := NewRedisAttemptLog(rdb, "")
	ctx := context.Background()
	at := time.Unix(1_700_000_000, 0)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := log.Record(ctx, "verify_code:42", at, time.Minute); err != nil {
				t.Errorf("Record failed: %v", err)
			}
		}()
	}
	wg.Wait()

	count, err := log.CountInRange(ctx, "verify_code:42", at, at)
	if err != nil {
		t.Fatalf("CountInRange failed: %v", err)
	}
	if count != 20 {
		t.Fatalf("expected 20 same-second attempts, got %d", count)
	}
}

func TestRedisAttemptLogRetention(t *testing.T) {
	mr, rdb := newTestRedis(t)
	log := NewRedisAttemptLog(rdb, "abuse_limiter:attempts")
	ctx := context.Background()
	base := time.Unix(1_700_000_000, 0)

	if err := log.Record(ctx, "k", base, 15*time.Minute); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	if ttl := mr.TTL("abuse_limiter:attempts:{k}"); ttl != 15*time.Minute {
		t.Fatalf("expected retention TTL 15m, got %s", ttl)
	}

	// A later write trims everything older than the retention window.
	if err := log.Record(ctx, "k", base.Add(20*time.Minute), 15*time.Minute); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	members, err := mr.ZMembers("abuse_limiter:attempts:{k}")
	if err != nil {
		t.Fatalf("ZMembers failed: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("expected old attempt to be trimmed, members=%v", members)
	}
}

func TestRedisAttemptLogUnavailable(t *testing.T) {
	mr, rdb := newTestRedis(t)
	log := NewRedisAttemptLog(rdb, "")
	mr.SetError("LOADING")

	err := log.Record(context.Background(), "k", time.Now(), time.Minute)
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	_, err = log.CountInRange(context.Background(), "k", time.Now().Add(-time.Minute), time.Now())
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestRedisAttemptLogCountCommand(t *testing.T) {
	db, mock := redismock.NewClientMock()
	log := NewRedisAttemptLog(db, "abuse_limiter:attempts")

	mock.ExpectZCount("abuse_limiter:attempts:{login:9.9.9.9}", "1699999640", "1700000000").SetVal(3)

	count, err := log.CountInRange(context.Background(), "login:9.9.9.9",
		time.Unix(1_699_999_640, 0), time.Unix(1_700_000_000, 0))
	if err != nil {
		t.Fatalf("CountInRange failed: %v", err)
	}
	if count != 3 {
		t.Fatalf("expected 3, got %d", count)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet redis expectations: %v", err)
	}
}

func TestAttemptMemberIsUniquePerID(t *testing.T) {
	at := time.Unix(1_700_000_000, 500)
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

	member := AttemptMember(at, id)
	if !strings.HasPrefix(member, "1700000000000000500:") || !strings.HasSuffix(member, id.String()) {
		t.Fatalf("unexpected member layout %q", member)
	}
	if member == AttemptMember(at, uuid.New()) {
		t.Fatal("expected distinct members for distinct ids")
	}
}

func TestRedisBlockRegistryRoundTrip(t *testing.T) {
	mr, rdb := newTestRedis(t)
	reg := NewRedisBlockRegistry(rdb, "")
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	if _, ok, err := reg.Get(ctx, "login:1.2.3.4"); err != nil || ok {
		t.Fatalf("expected no record, ok=%v err=%v", ok, err)
	}

	rec := BlockRecord{Key: "login:1.2.3.4", BlockedUntil: now.Add(time.Hour), Tier: TierTemporary}
	if err := reg.Set(ctx, rec, now); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if ttl := mr.TTL("abuse_limiter:block:{login:1.2.3.4}"); ttl != time.Hour {
		t.Fatalf("expected store expiry of 1h, got %s", ttl)
	}

	first, ok, err := reg.Get(ctx, "login:1.2.3.4")
	if err != nil || !ok {
		t.Fatalf("Get failed: ok=%v err=%v", ok, err)
	}
	second, _, _ := reg.Get(ctx, "login:1.2.3.4")
	if first != second {
		t.Fatalf("expected idempotent reads, got %+v then %+v", first, second)
	}
	if first.Tier != TierTemporary || !first.BlockedUntil.Equal(now.Add(time.Hour)) {
		t.Fatalf("unexpected record %+v", first)
	}

	if err := reg.Delete(ctx, "login:1.2.3.4"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := reg.Get(ctx, "login:1.2.3.4"); ok {
		t.Fatal("expected record to be gone after Delete")
	}
}

func TestRedisBlockRegistryStoreExpiry(t *testing.T) {
	mr, rdb := newTestRedis(t)
	reg := NewRedisBlockRegistry(rdb, "")
	ctx := context.Background()
	now := time.Unix(1_700_000_000, 0)

	rec := BlockRecord{Key: "k", BlockedUntil: now.Add(10 * time.Second), Tier: TierExtended}
	if err := reg.Set(ctx, rec, now); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	mr.FastForward(11 * time.Second)

	if _, ok, err := reg.Get(ctx, "k"); err != nil || ok {
		t.Fatalf("expected store TTL to reclaim record, ok=%v err=%v", ok, err)
	}
}

func TestRedisBlockRegistryCorruptRecord(t *testing.T) {
	mr, rdb := newTestRedis(t)
	reg := NewRedisBlockRegistry(rdb, "")

	if err := mr.Set("abuse_limiter:block:{k}", "garbage"); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	if _, _, err := reg.Get(context.Background(), "k"); !errors.Is(err, ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", err)
	}
}

func TestRedisBlockRegistryUnavailable(t *testing.T) {
	db, mock := redismock.NewClientMock()
	reg := NewRedisBlockRegistry(db, "abuse_limiter:block")

	mock.ExpectGet("abuse_limiter:block:{k}").SetErr(errors.New("dial tcp: connection refused"))

	if _, _, err := reg.Get(context.Background(), "k"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}

func TestBlockRecordActive(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rec := BlockRecord{Key: "k", BlockedUntil: now.Add(time.Second), Tier: TierTemporary}

	if !rec.Active(now) {
		t.Fatal("expected record to be active one second before expiry")
	}
	if rec.Active(now.Add(time.Second)) {
		t.Fatal("expected record to be inactive once now >= BlockedUntil")
	}
	if (BlockRecord{}).Active(now) {
		t.Fatal("zero record must never be active")
	}
}
