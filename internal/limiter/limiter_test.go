package limiter

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/MrEthical07/goAbuse/internal/stores"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var t0 = time.Unix(1_700_000_000, 0)

func loginPolicy() Policy {
	return Policy{
		TempAttempts: 3,
		TempRange:    360 * time.Second,
		TempDuration: 3600 * time.Second,
		LongAttempts: 5,
		LongRange:    86400 * time.Second,
		LongDuration: 86400 * time.Second,
	}
}

type harness struct {
	name     string
	eval     Evaluator
	blocks   stores.BlockRegistry
	attempts stores.AttemptLog
	mr       *miniredis.Miniredis
}

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

func harnesses(t *testing.T) []harness {
	t.Helper()

	memAttempts := stores.NewMemoryAttemptLog()
	memBlocks := stores.NewMemoryBlockRegistry()

	mr1, rdb1 := newTestRedis(t)
	redisAttempts1 := stores.NewRedisAttemptLog(rdb1, "")
	redisBlocks1 := stores.NewRedisBlockRegistry(rdb1, "")

	mr2, rdb2 := newTestRedis(t)
	redisAttempts2 := stores.NewRedisAttemptLog(rdb2, "")
	redisBlocks2 := stores.NewRedisBlockRegistry(rdb2, "")

	return []harness{
		{name: "tiered/memory", eval: NewTiered(memAttempts, memBlocks), blocks: memBlocks, attempts: memAttempts},
		{name: "tiered/redis", eval: NewTiered(redisAttempts1, redisBlocks1), blocks: redisBlocks1, attempts: redisAttempts1, mr: mr1},
		{name: "script/redis", eval: NewScript(rdb2, redisAttempts2, redisBlocks2), blocks: redisBlocks2, attempts: redisAttempts2, mr: mr2},
	}
}

func mustEvaluate(t *testing.T, eval Evaluator, key string, p Policy, now time.Time) Result {
	t.Helper()

	res, err := eval.Evaluate(context.Background(), key, p, now)
	if err != nil {
		t.Fatalf("Evaluate(%s) failed: %v", now.Sub(t0), err)
	}
	return res
}

func TestTemporaryBlockOnFourthAttempt(t *testing.T) {
	for _, h := range harnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			p := loginPolicy()
			for i, offset := range []time.Duration{0, 100 * time.Second, 200 * time.Second} {
				res := mustEvaluate(t, h.eval, "login:1.2.3.4", p, t0.Add(offset))
				if res.Outcome != OutcomeAllowed {
					t.Fatalf("attempt %d: expected allowed, got %s", i+1, res.Outcome)
				}
				if res.ShortCount != int64(i+1) {
					t.Fatalf("attempt %d: expected short count %d, got %d", i+1, i+1, res.ShortCount)
				}
			}

			now := t0.Add(300 * time.Second)
			res := mustEvaluate(t, h.eval, "login:1.2.3.4", p, now)
			if res.Outcome != OutcomeEscalated || res.Tier != stores.TierTemporary {
				t.Fatalf("expected temporary escalation, got %s/%s", res.Outcome, res.Tier)
			}
			if got := res.BlockedUntil.Sub(now); got != time.Hour {
				t.Fatalf("expected block for 1h, got %s", got)
			}

			res = mustEvaluate(t, h.eval, "login:1.2.3.4", p, now.Add(30*time.Minute))
			if res.Outcome != OutcomeBlocked || res.Tier != stores.TierTemporary {
				t.Fatalf("expected existing temporary block, got %s/%s", res.Outcome, res.Tier)
			}
			if !res.BlockedUntil.Equal(now.Add(time.Hour)) {
				t.Fatalf("blocked_until moved: %s", res.BlockedUntil)
			}

			// Denied calls while blocked are not recorded.
			count, err := h.attempts.CountInRange(context.Background(), "login:1.2.3.4", t0, now.Add(30*time.Minute))
			if err != nil {
				t.Fatalf("CountInRange failed: %v", err)
			}
			if count != 4 {
				t.Fatalf("expected 4 recorded attempts, got %d", count)
			}
		})
	}
}

func TestExtendedBlockFromSparseAttempts(t *testing.T) {
	for _, h := range harnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			p := loginPolicy()
			for i := 0; i < 5; i++ {
				res := mustEvaluate(t, h.eval, "verify_code:42", p, t0.Add(time.Duration(i)*16000*time.Second))
				if res.Outcome != OutcomeAllowed {
					t.Fatalf("attempt %d: expected allowed, got %s", i+1, res.Outcome)
				}
				if res.ShortCount != 1 {
					t.Fatalf("attempt %d: expected sparse short window, got %d", i+1, res.ShortCount)
				}
			}

			now := t0.Add(80000 * time.Second)
			res := mustEvaluate(t, h.eval, "verify_code:42", p, now)
			if res.Outcome != OutcomeEscalated || res.Tier != stores.TierExtended {
				t.Fatalf("expected extended escalation, got %s/%s", res.Outcome, res.Tier)
			}
			if res.LongCount != 6 {
				t.Fatalf("expected long count 6, got %d", res.LongCount)
			}
			if !res.BlockedUntil.Equal(now.Add(86400 * time.Second)) {
				t.Fatalf("unexpected blocked_until %s", res.BlockedUntil)
			}
		})
	}
}

func TestAllowAfterBlockExpiresEvictsRecord(t *testing.T) {
	for _, h := range harnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			p := loginPolicy()
			var last Result
			for i := 0; i < 4; i++ {
				last = mustEvaluate(t, h.eval, "login:1.2.3.4", p, t0.Add(time.Duration(i)*100*time.Second))
			}
			if last.Outcome != OutcomeEscalated {
				t.Fatalf("expected block, got %s", last.Outcome)
			}

			// The backend still holds the record; only the decision clock moved.
			res := mustEvaluate(t, h.eval, "login:1.2.3.4", p, last.BlockedUntil)
			if res.Outcome != OutcomeAllowed {
				t.Fatalf("expected allow once blocked_until passed, got %s", res.Outcome)
			}
			if !res.Evicted || res.EvictErr != nil {
				t.Fatalf("expected stale record eviction, evicted=%v err=%v", res.Evicted, res.EvictErr)
			}
			if res.LongCount != 5 {
				t.Fatalf("expected prior attempts to be retained, long count %d", res.LongCount)
			}

			if _, ok, err := h.blocks.Get(context.Background(), "login:1.2.3.4"); err != nil || ok {
				t.Fatalf("expected registry entry to be gone, ok=%v err=%v", ok, err)
			}
		})
	}
}

func TestCurrentAttemptCountedInBothWindows(t *testing.T) {
	for _, h := range harnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			res := mustEvaluate(t, h.eval, "password_reset:a@b.c", loginPolicy(), t0)
			if res.ShortCount != 1 || res.LongCount != 1 {
				t.Fatalf("expected the attempt in both windows, got short=%d long=%d", res.ShortCount, res.LongCount)
			}
		})
	}
}

func TestExtendedOverridesTemporaryInSameCall(t *testing.T) {
	for _, h := range harnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			p := loginPolicy()
			p.LongAttempts = 3

			var res Result
			for i := 0; i < 4; i++ {
				res = mustEvaluate(t, h.eval, "k", p, t0.Add(time.Duration(i)*time.Second))
			}
			if res.Tier != stores.TierExtended || res.ShortCount != 4 || res.LongCount != 4 {
				t.Fatalf("expected extended with both windows tripped, got %+v", res)
			}

			record, ok, err := h.blocks.Get(context.Background(), "k")
			if err != nil || !ok {
				t.Fatalf("expected block record, ok=%v err=%v", ok, err)
			}
			if record.Tier != stores.TierExtended || !record.BlockedUntil.Equal(t0.Add(3*time.Second+p.LongDuration)) {
				t.Fatalf("unexpected record %+v", record)
			}
		})
	}
}

func TestActiveBlockIsNeverDowngraded(t *testing.T) {
	for _, h := range harnesses(t) {
		t.Run(h.name, func(t *testing.T) {
			ctx := context.Background()
			extended := stores.BlockRecord{Key: "k", BlockedUntil: t0.Add(24 * time.Hour), Tier: stores.TierExtended}
			if err := h.blocks.Set(ctx, extended, t0); err != nil {
				t.Fatalf("Set failed: %v", err)
			}

			for i := 0; i < 10; i++ {
				res := mustEvaluate(t, h.eval, "k", loginPolicy(), t0.Add(time.Duration(i)*time.Second))
				if res.Outcome != OutcomeBlocked || res.Tier != stores.TierExtended {
					t.Fatalf("expected existing extended block, got %s/%s", res.Outcome, res.Tier)
				}
			}

			record, _, _ := h.blocks.Get(ctx, "k")
			if record != extended {
				t.Fatalf("record changed under an active block: %+v", record)
			}
		})
	}
}

func TestStoreUnavailablePropagates(t *testing.T) {
	for _, h := range harnesses(t) {
		if h.mr == nil {
			continue
		}
		t.Run(h.name, func(t *testing.T) {
			h.mr.SetError("LOADING Redis is loading the dataset in memory")
			_, err := h.eval.Evaluate(context.Background(), "k", loginPolicy(), t0)
			if !errors.Is(err, stores.ErrUnavailable) {
				t.Fatalf("expected ErrUnavailable, got %v", err)
			}
		})
	}
}

func TestCorruptBlockRecord(t *testing.T) {
	for _, h := range harnesses(t) {
		if h.mr == nil {
			continue
		}
		t.Run(h.name, func(t *testing.T) {
			if err := h.mr.Set("abuse_limiter:block:{k}", "2:9:nope"); err != nil {
				t.Fatalf("seed failed: %v", err)
			}
			_, err := h.eval.Evaluate(context.Background(), "k", loginPolicy(), t0)
			if !errors.Is(err, stores.ErrCorruptRecord) {
				t.Fatalf("expected ErrCorruptRecord, got %v", err)
			}
		})
	}
}

func TestScriptAndTieredAgree(t *testing.T) {
	mr, rdb := newTestRedis(t)
	attempts := stores.NewRedisAttemptLog(rdb, "")
	blocks := stores.NewRedisBlockRegistry(rdb, "")
	script := NewScript(rdb, attempts, blocks)
	tiered := NewTiered(stores.NewMemoryAttemptLog(), stores.NewMemoryBlockRegistry())

	p := loginPolicy()
	offsets := []int{0, 5, 10, 200, 400, 4000, 4100, 4200, 9000, 20000, 40000, 60000, 90000, 180000}
	for _, off := range offsets {
		now := t0.Add(time.Duration(off) * time.Second)
		a := mustEvaluate(t, script, "k", p, now)
		b := mustEvaluate(t, tiered, "k", p, now)
		if a.Outcome != b.Outcome || a.Tier != b.Tier || !a.BlockedUntil.Equal(b.BlockedUntil) ||
			a.ShortCount != b.ShortCount || a.LongCount != b.LongCount || a.Evicted != b.Evicted {
			t.Fatalf("at +%ds script=%+v tiered=%+v", off, a, b)
		}
	}

	if ttl := mr.TTL("abuse_limiter:attempts:{k}"); ttl != p.Retention() {
		t.Fatalf("expected attempt retention %s, got %s", p.Retention(), ttl)
	}
}

func TestConcurrentEscalationPicksExtendedOverActiveTemporary(t *testing.T) {
	ctx := context.Background()
	attempts := stores.NewMemoryAttemptLog()
	blocks := stores.NewMemoryBlockRegistry()
	p := loginPolicy()

	// Five sparse attempts, then a temporary block landed by another caller.
	for i := 0; i < 5; i++ {
		if err := attempts.Record(ctx, "k", t0.Add(time.Duration(i)*1000*time.Second), p.Retention()); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}
	now := t0.Add(5000 * time.Second)
	temporary := stores.BlockRecord{Key: "k", BlockedUntil: now.Add(p.TempDuration), Tier: stores.TierTemporary}
	if err := blocks.Set(ctx, temporary, now); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	// This caller read the registry before that block landed.
	res := mustEvaluate(t, NewTiered(attempts, staleRead{blocks}), "k", p, now)
	if res.Tier != stores.TierExtended {
		t.Fatalf("expected extended escalation, got %+v", res)
	}

	record, ok, _ := blocks.Get(ctx, "k")
	if !ok || record.Tier != stores.TierExtended || !record.BlockedUntil.Equal(now.Add(p.LongDuration)) {
		t.Fatalf("expected extended record recomputed from extended duration, got %+v", record)
	}
}

type staleRead struct {
	stores.BlockRegistry
}

func (staleRead) Get(context.Context, string) (stores.BlockRecord, bool, error) {
	return stores.BlockRecord{}, false, nil
}

type roundTrips struct {
	n atomic.Int64
}

func (h *roundTrips) DialHook(next redis.DialHook) redis.DialHook {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		return next(ctx, network, addr)
	}
}

func (h *roundTrips) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.n.Add(1)
		return next(ctx, cmd)
	}
}

func (h *roundTrips) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		h.n.Add(1)
		return next(ctx, cmds)
	}
}

func TestRoundTripBudget(t *testing.T) {
	_, rdb := newTestRedis(t)
	counter := &roundTrips{}
	rdb.AddHook(counter)

	attempts := stores.NewRedisAttemptLog(rdb, "")
	blocks := stores.NewRedisBlockRegistry(rdb, "")
	p := loginPolicy()

	tiered := NewTiered(attempts, blocks)
	mustEvaluate(t, tiered, "warm", p, t0)
	counter.n.Store(0)
	mustEvaluate(t, tiered, "a", p, t0)
	if got := counter.n.Load(); got != 4 {
		t.Fatalf("split-step allow: expected 4 round trips, got %d", got)
	}

	script := NewScript(rdb, attempts, blocks)
	mustEvaluate(t, script, "warm", p, t0)
	counter.n.Store(0)
	mustEvaluate(t, script, "b", p, t0)
	if got := counter.n.Load(); got != 1 {
		t.Fatalf("atomic: expected 1 round trip, got %d", got)
	}
}

// clusterSlot mirrors the Redis Cluster key slot rule: CRC16/XMODEM of the
// hash tag when present, else of the whole key, modulo 16384.
func clusterSlot(key string) uint16 {
	if start := strings.IndexByte(key, '{'); start >= 0 {
		if end := strings.IndexByte(key[start+1:], '}'); end > 0 {
			key = key[start+1 : start+1+end]
		}
	}

	var crc uint16
	for i := 0; i < len(key); i++ {
		crc ^= uint16(key[i]) << 8
		for bit := 0; bit < 8; bit++ {
			if crc&0x8000 != 0 {
				crc = crc<<1 ^ 0x1021
			} else {
				crc <<= 1
			}
		}
	}
	return crc % 16384
}

func TestClusterSlotReference(t *testing.T) {
	// Known values from the Redis Cluster specification.
	if got := clusterSlot("123456789"); got != 0x31C3%16384 {
		t.Fatalf("crc16 mismatch: %d", got)
	}
	if clusterSlot("{user1000}.following") != clusterSlot("{user1000}.followers") {
		t.Fatal("hash tags must select the slot")
	}
}

func TestScriptKeysShareClusterSlot(t *testing.T) {
	attempts := stores.NewRedisAttemptLog(nil, "abuse_limiter:attempts")
	blocks := stores.NewRedisBlockRegistry(nil, "abuse_limiter:block")

	for _, key := range []string{
		"login:1.2.3.4",
		"verify_code:42",
		"password_reset:a@b.c",
		"login:2001:db8::1",
		"odd}{key",
		"{tagged}",
	} {
		block, attempt := blocks.Key(key), attempts.Key(key)
		if clusterSlot(block) != clusterSlot(attempt) {
			t.Fatalf("%q: %s slot=%d, %s slot=%d", key, block, clusterSlot(block), attempt, clusterSlot(attempt))
		}
	}
}
