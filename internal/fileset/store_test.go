package fileset

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestMemoryStore_RoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if err := s.Put(ctx, "ctx-1", "h1", "p1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, err := s.Get(ctx, "ctx-1", "h1")
	if err != nil || got != "p1" {
		t.Fatalf("Get = %q, %v", got, err)
	}
	if _, err := s.Get(ctx, "ctx-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get missing = %v, want ErrNotFound", err)
	}

	records, err := s.List(ctx, "ctx-1")
	if err != nil || len(records) != 1 {
		t.Fatalf("List = %v, %v", records, err)
	}
	if err := s.Delete(ctx, "ctx-1", "h1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "ctx-1", "h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryStore_ContextsIsolated(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	_ = s.Put(ctx, "a", "h", "pa")
	_ = s.Put(ctx, "b", "h", "pb")

	if got, _ := s.Get(ctx, "a", "h"); got != "pa" {
		t.Errorf("context a payload = %q", got)
	}
	if got, _ := s.Get(ctx, "b", "h"); got != "pb" {
		t.Errorf("context b payload = %q", got)
	}
}

func TestCachedStore_InvalidatesOnWrite(t *testing.T) {
	inner := NewMemoryStore()
	cached := newCachedStore(inner, time.Minute)
	ctx := context.Background()

	_ = cached.Put(ctx, "ctx-1", "h1", "p1")
	if records, _ := cached.List(ctx, "ctx-1"); len(records) != 1 {
		t.Fatalf("primed list = %v", records)
	}

	// A write through the cached store must invalidate the cached list.
	_ = cached.Put(ctx, "ctx-1", "h2", "p2")
	records, _ := cached.List(ctx, "ctx-1")
	if len(records) != 2 {
		t.Errorf("post-write list has %d entries, want 2", len(records))
	}

	_ = cached.Delete(ctx, "ctx-1", "h1")
	records, _ = cached.List(ctx, "ctx-1")
	if len(records) != 1 {
		t.Errorf("post-delete list has %d entries, want 1", len(records))
	}
}

func TestSQLiteStore_GetMapsNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &SQLiteStore{db: db}

	mock.ExpectQuery("SELECT payload FROM fileset_records").
		WithArgs("ctx-1", "h1").
		WillReturnRows(sqlmock.NewRows([]string{"payload"}))

	if _, err := s.Get(context.Background(), "ctx-1", "h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get = %v, want ErrNotFound", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestSQLiteStore_PutWrapsFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &SQLiteStore{db: db}

	mock.ExpectExec("INSERT INTO fileset_records").
		WillReturnError(fmt.Errorf("disk full"))

	if err := s.Put(context.Background(), "ctx-1", "h1", "p1"); err == nil {
		t.Error("Put succeeded, want wrapped driver error")
	}
}

func TestSQLiteStore_DeleteMissingIsNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &SQLiteStore{db: db}

	mock.ExpectExec("DELETE FROM fileset_records").
		WithArgs("ctx-1", "h1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Delete(context.Background(), "ctx-1", "h1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Delete = %v, want ErrNotFound", err)
	}
}

func TestSQLiteStore_ListScansRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	s := &SQLiteStore{db: db}

	mock.ExpectQuery("SELECT hash, payload FROM fileset_records").
		WithArgs("ctx-1").
		WillReturnRows(sqlmock.NewRows([]string{"hash", "payload"}).
			AddRow("h1", "p1").
			AddRow("h2", "p2"))

	records, err := s.List(context.Background(), "ctx-1")
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(records) != 2 || records["h1"] != "p1" || records["h2"] != "p2" {
		t.Errorf("records = %v", records)
	}
}
