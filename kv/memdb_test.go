package kv

import "testing"

func TestMemDatabasePutGet(t *testing.T) {
	db := NewMemDatabase()
	if err := db.Put(Headers, []byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := db.Get(Headers, []byte("k1"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get = %q, want v1", got)
	}
}

func TestMemDatabaseGetMissingReturnsErrKeyNotFound(t *testing.T) {
	db := NewMemDatabase()
	if _, err := db.Get(Headers, []byte("missing")); err != ErrKeyNotFound {
		t.Fatalf("Get on missing key = %v, want ErrKeyNotFound", err)
	}
}

func TestMemDatabaseDelete(t *testing.T) {
	db := NewMemDatabase()
	_ = db.Put(Headers, []byte("k1"), []byte("v1"))
	if err := db.Delete(Headers, []byte("k1")); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ok, _ := db.Has(Headers, []byte("k1")); ok {
		t.Fatal("key still present after Delete")
	}
}

func TestMemDatabaseColumnsAreIsolated(t *testing.T) {
	db := NewMemDatabase()
	_ = db.Put(Headers, []byte("k"), []byte("headers-value"))
	_ = db.Put(StateDiffs, []byte("k"), []byte("state-diffs-value"))

	got, err := db.Get(Headers, []byte("k"))
	if err != nil {
		t.Fatalf("Get Headers: %v", err)
	}
	if string(got) != "headers-value" {
		t.Fatalf("Headers[k] = %q, want headers-value (column isolation broken)", got)
	}
}

func TestMemDatabaseIteratorOrdersKeys(t *testing.T) {
	db := NewMemDatabase()
	_ = db.Put(Headers, []byte("b"), []byte("2"))
	_ = db.Put(Headers, []byte("a"), []byte("1"))
	_ = db.Put(Headers, []byte("c"), []byte("3"))

	it := db.Iterator(Headers, nil, Forward)
	defer it.Close()
	var keys []string
	for it.Next() {
		keys = append(keys, string(it.Key()))
	}
	want := []string{"a", "b", "c"}
	if len(keys) != len(want) {
		t.Fatalf("got %v keys, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("keys = %v, want %v", keys, want)
		}
	}
}

func TestMemDatabaseIteratorPrefixStopsAtBoundary(t *testing.T) {
	db := NewMemDatabase()
	_ = db.Put(Headers, []byte("pfx:1"), []byte("a"))
	_ = db.Put(Headers, []byte("pfx:2"), []byte("b"))
	_ = db.Put(Headers, []byte("other"), []byte("c"))

	it := db.IteratorPrefix(Headers, []byte("pfx:"))
	defer it.Close()
	count := 0
	for it.Next() {
		count++
	}
	if count != 2 {
		t.Fatalf("IteratorPrefix returned %d entries, want 2", count)
	}
}

func TestMemDatabaseRemoveByPrefix(t *testing.T) {
	db := NewMemDatabase()
	_ = db.Put(Headers, []byte("pfx:1"), []byte("a"))
	_ = db.Put(Headers, []byte("pfx:2"), []byte("b"))
	_ = db.Put(Headers, []byte("other"), []byte("c"))

	if err := db.RemoveByPrefix(Headers, []byte("pfx:")); err != nil {
		t.Fatalf("RemoveByPrefix: %v", err)
	}
	if ok, _ := db.Has(Headers, []byte("other")); !ok {
		t.Fatal("RemoveByPrefix deleted a key outside the prefix")
	}
	if ok, _ := db.Has(Headers, []byte("pfx:1")); ok {
		t.Fatal("RemoveByPrefix left a prefixed key behind")
	}
}

func TestMemDatabaseBatchAtomicity(t *testing.T) {
	db := NewMemDatabase()
	batch := db.NewBatch()
	batch.Put(Headers, []byte("k1"), []byte("v1"))
	batch.Put(StateDiffs, []byte("k2"), []byte("v2"))

	if ok, _ := db.Has(Headers, []byte("k1")); ok {
		t.Fatal("batch write visible before Write()")
	}
	if err := batch.Write(); err != nil {
		t.Fatalf("batch.Write: %v", err)
	}
	if ok, _ := db.Has(Headers, []byte("k1")); !ok {
		t.Fatal("batch write not visible after Write()")
	}
	if ok, _ := db.Has(StateDiffs, []byte("k2")); !ok {
		t.Fatal("batch write to second column not visible after Write()")
	}
}

func TestMemDatabaseSnapshotIsolation(t *testing.T) {
	db := NewMemDatabase()
	_ = db.Put(Headers, []byte("k"), []byte("before"))
	snap := db.Snapshot()
	_ = db.Put(Headers, []byte("k"), []byte("after"))

	got, err := snap.Get(Headers, []byte("k"))
	if err != nil {
		t.Fatalf("snapshot Get: %v", err)
	}
	if string(got) != "before" {
		t.Fatalf("snapshot saw %q, want before (snapshot must not see later writes)", got)
	}
}
