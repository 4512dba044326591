package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

var (
	borrowerHex = strings.Repeat("b", 32)
	requestHex  = strings.Repeat("a", 32)
)

func newMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestBodyHashIsHexSHA256(t *testing.T) {
	body := []byte(`{"tx_hash":"0xabc"}`)
	sum := sha256.Sum256(body)
	if got := bodyHash(body); got != hex.EncodeToString(sum[:]) {
		t.Fatalf("bodyHash = %s", got)
	}
	if bodyHash(body) == bodyHash([]byte(`{"tx_hash":"0xabd"}`)) {
		t.Fatalf("different bodies hashed alike")
	}
}

func TestNowUTC(t *testing.T) {
	u := nowUTC()
	if u.Location() != time.UTC {
		t.Fatalf("location = %v", u.Location())
	}
	if d := time.Since(u); d < 0 || d > 2*time.Second {
		t.Fatalf("nowUTC drift %v", d)
	}
}

func TestBuildKeyScopesByPathAndBorrower(t *testing.T) {
	deposit := buildKey("POST", "/loans/l1/collateral", borrowerHex, requestHex)
	if want := "idemp:avelon:post:/loans/l1/collateral:" + borrowerHex + ":" + requestHex; deposit != want {
		t.Fatalf("key = %q, want %q", deposit, want)
	}
	for name, other := range map[string]string{
		"other loan":     buildKey("POST", "/loans/l2/collateral", borrowerHex, requestHex),
		"other route":    buildKey("POST", "/loans/l1/repayments", borrowerHex, requestHex),
		"other borrower": buildKey("POST", "/loans/l1/collateral", strings.Repeat("c", 32), requestHex),
	} {
		if other == deposit {
			t.Fatalf("%s collides with the deposit key", name)
		}
	}
}

func TestValidReqID(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"3f9a6a1b-3d54-4fbe-8b3a-6b3e8d6b2c88", true},
		{"3f9a6a1b3d544fbe8b3a6b3e8d6b2c88", true},
		{requestHex, true},
		{"", false},
		{strings.ToUpper(requestHex), false},
		{"3f9a6a1b3d544fbe8b3a6b3e8d6b2c8", false},
		{"3f9a6a1b3d544fbe8b3a6b3e8d6b2c880", false},
		{strings.Repeat("z", 32), false},
		{"3F9A6A1B-3D54-4FBE-8B3A-6B3E8D6B2C88", false},
		{"urn:uuid:3f9a6a1b-3d54-4fbe-8b3a-6b3e8d6b2c88", false},
	}
	for _, tc := range cases {
		if got := validReqID(tc.in); got != tc.want {
			t.Fatalf("validReqID(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseRequestAt(t *testing.T) {
	sec := time.Now().Unix()
	ms := time.Now().UnixMilli()
	cases := []struct {
		name string
		raw  string
		want time.Time
	}{
		{"epoch seconds", strconv.FormatInt(sec, 10), time.Unix(sec, 0).UTC()},
		{"epoch millis", strconv.FormatInt(ms, 10), time.UnixMilli(ms).UTC()},
		{"rfc3339 offset", "2026-03-01T10:00:00+07:00", time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)},
		{"rfc3339 zulu", " 2026-03-01T03:00:00Z ", time.Date(2026, 3, 1, 3, 0, 0, 0, time.UTC)},
	}
	for _, tc := range cases {
		got, err := parseRequestAt(tc.raw)
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if !got.Equal(tc.want) || got.Location() != time.UTC {
			t.Fatalf("%s: got %v, want %v", tc.name, got, tc.want)
		}
	}

	for _, raw := range []string{"", "yesterday", "2026-03-01T10:00:00", "1772323200x"} {
		if _, err := parseRequestAt(raw); err == nil {
			t.Fatalf("parseRequestAt(%q) accepted", raw)
		}
	}
}

func TestProvisionalLockThenFinalEntry(t *testing.T) {
	ctx := context.Background()
	_, rdb := newMiniRedis(t)
	key := buildKey("POST", "/loans/l1/repayments", borrowerHex, requestHex)
	body := []byte(`{"tx_hash":"0xabc","amount":"1"}`)

	lock := idempEntry{
		InProgress:  true,
		BodySHA256:  bodyHash(body),
		RequestID:   requestHex,
		RequestAtMS: time.Now().UnixMilli(),
		CreatedAt:   nowUTC(),
	}
	if ok, err := provisionalSet(ctx, rdb, key, lock); err != nil || !ok {
		t.Fatalf("first lock: ok=%v err=%v", ok, err)
	}
	if ttl := rdb.TTL(ctx, key).Val(); ttl <= 0 || ttl > provisionalLockTTL {
		t.Fatalf("lock ttl = %v", ttl)
	}
	if ok, err := provisionalSet(ctx, rdb, key, lock); err != nil || ok {
		t.Fatalf("second lock: ok=%v err=%v, want refused", ok, err)
	}

	got, err := loadEntry(ctx, rdb, key)
	if err != nil || !got.InProgress || got.BodySHA256 != lock.BodySHA256 {
		t.Fatalf("loaded lock = %+v, %v", got, err)
	}

	final := lock
	final.InProgress = false
	final.Code = 200
	final.Body = []byte(`{"status":"active"}`)
	if err := saveFinal(ctx, rdb, key, final, 5*time.Second); err != nil {
		t.Fatalf("saveFinal: %v", err)
	}
	if ttl := rdb.TTL(ctx, key).Val(); ttl <= 0 || ttl > 5*time.Second {
		t.Fatalf("final ttl = %v", ttl)
	}
	got, err = loadEntry(ctx, rdb, key)
	if err != nil || got.InProgress || got.Code != 200 || string(got.Body) != `{"status":"active"}` {
		t.Fatalf("loaded final = %+v, %v", got, err)
	}
}

func TestLoadEntryMissing(t *testing.T) {
	_, rdb := newMiniRedis(t)
	if _, err := loadEntry(context.Background(), rdb, "idemp:avelon:none"); err != redis.Nil {
		t.Fatalf("err = %v, want redis.Nil", err)
	}
}
