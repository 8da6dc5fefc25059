package cache

import (
	"testing"
	"time"

	"github.com/use-agent/tweetscope/models"
)

func list(n int) *models.PostListResponse {
	return &models.PostListResponse{Count: n}
}

func TestCache_HitThenExpire(t *testing.T) {
	c := New(10, time.Minute)
	clock := time.Now()
	c.now = func() time.Time { return clock }

	k := Key("top", "20", "BTC")
	c.Set(k, list(3))

	got, ok := c.Get(k)
	if !ok || got.Count != 3 {
		t.Fatalf("Get = %+v, %v", got, ok)
	}

	clock = clock.Add(2 * time.Minute)
	if _, ok := c.Get(k); ok {
		t.Error("entry should have expired")
	}
}

func TestCache_Purge(t *testing.T) {
	c := New(10, time.Minute)
	c.Set(Key("a"), list(1))
	c.Set(Key("b"), list(2))

	c.Purge()
	if c.Len() != 0 {
		t.Errorf("Len after purge = %d", c.Len())
	}
	if _, ok := c.Get(Key("a")); ok {
		t.Error("purged entry still served")
	}
}

func TestCache_ReadAcrossPurgeNotStored(t *testing.T) {
	c := New(10, time.Minute)

	gen := c.Generation()
	c.Purge() // a commit lands while the read is querying the store
	if c.SetIfCurrent(gen, Key("a"), list(1)) {
		t.Error("response read before the purge was stored")
	}
	if _, ok := c.Get(Key("a")); ok {
		t.Error("stale response served after purge")
	}

	if !c.SetIfCurrent(c.Generation(), Key("a"), list(2)) {
		t.Error("response read after the purge was refused")
	}
	if got, ok := c.Get(Key("a")); !ok || got.Count != 2 {
		t.Errorf("Get = %+v, %v", got, ok)
	}
}

func TestCache_EvictsAtCapacity(t *testing.T) {
	c := New(2, time.Minute)
	c.Set(Key("a"), list(1))
	c.Set(Key("b"), list(2))
	c.Set(Key("a"), list(3))
	if c.Len() != 2 {
		t.Errorf("overwrite evicted an entry, Len = %d", c.Len())
	}
	c.Set(Key("c"), list(4))
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
	if _, ok := c.Get(Key("c")); !ok {
		t.Error("newest entry missing")
	}
}

func TestCache_DisabledWithoutTTL(t *testing.T) {
	c := New(10, 0)
	c.Set(Key("a"), list(1))
	if _, ok := c.Get(Key("a")); ok {
		t.Error("zero ttl should disable caching")
	}
}

func TestKey_PartsAreDelimited(t *testing.T) {
	if Key("ab", "c") == Key("a", "bc") {
		t.Error("keys collide across part boundaries")
	}
	if Key("top", "20") != Key("top", "20") {
		t.Error("Key is not deterministic")
	}
}
