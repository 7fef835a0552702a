package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newSessionStoreTest(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = rdb.Close()
		mr.Close()
	})
	return NewStore(rdb, "ks"), mr
}

func testSession(id string) *Session {
	now := time.Now()
	return &Session{
		SessionID:  id,
		UserID:     "u-1",
		AuthMethod: "backup_code",
		Persistent: true,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(time.Hour).Unix(),
	}
}

func TestSaveGetRoundTrip(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("sid-1")

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if ttl := mr.TTL("ks:sid-1"); ttl != time.Hour {
		t.Fatalf("expected 1h ttl, got %s", ttl)
	}

	got, err := store.Get(ctx, "sid-1")
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if got.UserID != "u-1" || got.AuthMethod != "backup_code" || !got.Persistent {
		t.Fatalf("unexpected session: %+v", got)
	}
}

func TestGetExpiredByClockRemovesSession(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("sid-1")
	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}

	store.now = func() time.Time { return time.Unix(sess.ExpiresAt, 0) }
	if _, err := store.Get(ctx, "sid-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if mr.Exists("ks:sid-1") {
		t.Fatal("expected expired session removed")
	}
}

func TestDeleteIdempotent(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()
	sess := testSession("sid-1")

	if err := store.Save(ctx, sess, time.Hour); err != nil {
		t.Fatalf("save session: %v", err)
	}
	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if err := store.Delete(ctx, "sid-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	ids, err := store.ActiveSessionIDs(ctx, "u-1")
	if err != nil {
		t.Fatalf("ActiveSessionIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("expected empty index, got %v", ids)
	}
}

func TestDeleteAllForUser(t *testing.T) {
	store, _ := newSessionStoreTest(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := store.Save(ctx, testSession(id), time.Hour); err != nil {
			t.Fatalf("save session: %v", err)
		}
	}

	n, err := store.DeleteAllForUser(ctx, "u-1")
	if err != nil {
		t.Fatalf("DeleteAllForUser: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 deleted, got %d", n)
	}
	if _, err := store.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	n, err = store.DeleteAllForUser(ctx, "u-1")
	if err != nil || n != 0 {
		t.Fatalf("expected no-op second call, n=%d err=%v", n, err)
	}
}

func TestUserIndexOutlivesLongestSession(t *testing.T) {
	store, mr := newSessionStoreTest(t)
	ctx := context.Background()

	if err := store.Save(ctx, testSession("long"), 14*24*time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Save(ctx, testSession("short"), time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	if ttl := mr.TTL("ksu:u-1"); ttl != 14*24*time.Hour {
		t.Fatalf("expected index ttl 14d, got %s", ttl)
	}
}
