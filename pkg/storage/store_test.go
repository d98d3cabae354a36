package storage

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "calchat.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCacheRoundTrip(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.GetCache("missing"); err != nil || ok {
		t.Fatalf("miss: ok=%v err=%v", ok, err)
	}

	body := bytes.Repeat([]byte(`{"id":1,"name":"Boodschappen"},`), 200)
	if err := s.PutCache("GET get_task_lists.php", "application/json", body); err != nil {
		t.Fatalf("PutCache: %v", err)
	}

	entry, ok, err := s.GetCache("GET get_task_lists.php")
	if err != nil || !ok {
		t.Fatalf("GetCache: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(entry.Body, body) {
		t.Fatalf("body mismatch")
	}
	if entry.ContentType != "application/json" {
		t.Fatalf("content type = %q", entry.ContentType)
	}
	if time.Since(entry.StoredAt) > time.Minute {
		t.Fatalf("stored at = %v", entry.StoredAt)
	}

	st, err := s.CacheStats()
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if st.Entries != 1 || st.RawBytes != int64(len(body)) {
		t.Fatalf("stats = %+v", st)
	}
	if st.CompressedBytes >= st.RawBytes {
		t.Fatalf("expected compression, got %d >= %d", st.CompressedBytes, st.RawBytes)
	}

	n, err := s.ClearCache()
	if err != nil || n != 1 {
		t.Fatalf("ClearCache: n=%d err=%v", n, err)
	}
	st, _ = s.CacheStats()
	if st.Entries != 0 || !st.Oldest.IsZero() {
		t.Fatalf("stats after clear = %+v", st)
	}
}

func TestNotificationTagReplaces(t *testing.T) {
	s := newTestStore(t)

	base := time.Now().Add(-time.Minute)
	records := []NotificationRecord{
		{ID: "n1", Tag: "conversation-7", Title: "Anna", Body: "hoi", Surface: "hub", CreatedAt: base},
		{ID: "n2", Tag: "conversation-8", Title: "Bob", Body: "hey", Surface: "terminal", CreatedAt: base.Add(time.Second)},
		{ID: "n3", Tag: "conversation-7", Title: "Anna", Body: "ben je er?", Surface: "hub", CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range records {
		if err := s.RecordNotification(r); err != nil {
			t.Fatalf("RecordNotification(%s): %v", r.ID, err)
		}
	}

	got, err := s.RecentNotifications(10)
	if err != nil {
		t.Fatalf("RecentNotifications: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 records after tag replacement, got %d", len(got))
	}
	if got[0].ID != "n3" || got[0].Body != "ben je er?" {
		t.Fatalf("newest record = %+v", got[0])
	}
	if got[1].ID != "n2" {
		t.Fatalf("second record = %+v", got[1])
	}
}

func TestDeviceState(t *testing.T) {
	s := newTestStore(t)

	if _, ok, err := s.GetState("push.subscription_id"); err != nil || ok {
		t.Fatalf("unset state: ok=%v err=%v", ok, err)
	}
	if err := s.SetState("push.subscription_id", "a"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetState("push.subscription_id", "b"); err != nil {
		t.Fatal(err)
	}
	v, ok, err := s.GetState("push.subscription_id")
	if err != nil || !ok || v != "b" {
		t.Fatalf("GetState = %q %v %v", v, ok, err)
	}
	if err := s.DeleteState("push.subscription_id"); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := s.GetState("push.subscription_id"); ok {
		t.Fatal("state still present after delete")
	}
}

func TestOpenTwiceKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "calchat.db")
	s, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SetState("k", "v"); err != nil {
		t.Fatal(err)
	}
	_ = s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = s.Close() }()
	if v, ok, _ := s.GetState("k"); !ok || v != "v" {
		t.Fatalf("state lost across reopen: %q %v", v, ok)
	}
}
