package ingest

import (
	"context"
	"fmt"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/ignite/customer-sync/internal/domain"
)

func setupWriterTest(t *testing.T) (*BatchWriter, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBatchWriter(db), mock
}

func item(id, first string) BatchItem {
	c := &domain.Customer{CustomerID: id, FirstName: first}
	return BatchItem{Customer: c, SourceHash: Hash(c)}
}

func TestFlushEmptyBatch(t *testing.T) {
	w, mock := setupWriterTest(t)

	affected, lastHash, err := w.Flush(context.Background(), nil)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if affected != 0 || lastHash != "" {
		t.Errorf("Flush = (%d, %q), want (0, \"\")", affected, lastHash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("database touched for empty batch: %v", err)
	}
}

func TestDedupeLastWins(t *testing.T) {
	a := item("C001", "Alice")
	b := item("C002", "Bob")
	c := item("C001", "Alicia")

	deduped := dedupe([]BatchItem{a, b, c})
	if len(deduped) != 2 {
		t.Fatalf("len(deduped) = %d, want 2", len(deduped))
	}
	// Survivors keep the order of their latest occurrence: C002 then C001.
	if deduped[0].Customer.CustomerID != "C002" {
		t.Errorf("deduped[0] = %s, want C002", deduped[0].Customer.CustomerID)
	}
	if deduped[1].Customer.FirstName != "Alicia" {
		t.Errorf("deduped[1].FirstName = %s, want the later occurrence Alicia", deduped[1].Customer.FirstName)
	}
	if deduped[1].SourceHash != c.SourceHash {
		t.Error("last deduped hash is not the last input row's hash")
	}
}

func TestFlushInsertsNewRows(t *testing.T) {
	w, mock := setupWriterTest(t)
	items := []BatchItem{item("C001", "Ada"), item("C002", "Grace")}

	mock.ExpectQuery(`SELECT customer_id FROM customers WHERE customer_id = ANY`).
		WithArgs(pq.Array([]string{"C001", "C002"})).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO customers`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	affected, lastHash, err := w.Flush(context.Background(), items)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if affected != 2 {
		t.Errorf("affected = %d, want 2", affected)
	}
	if lastHash != items[1].SourceHash {
		t.Errorf("lastHash = %s, want hash of last item", lastHash)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFlushClassifiesInsertAndUpdate(t *testing.T) {
	w, mock := setupWriterTest(t)
	items := []BatchItem{item("C001", "Ada"), item("C002", "Grace")}

	mock.ExpectQuery(`SELECT customer_id FROM customers`).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow("C001"))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO customers`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE customers SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, _, err := w.Flush(context.Background(), items)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if affected != 2 {
		t.Errorf("affected = %d, want 1 insert + 1 update", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFlushAllExistingBecomeUpdates(t *testing.T) {
	w, mock := setupWriterTest(t)
	items := []BatchItem{item("C001", "Ada"), item("C002", "Grace")}

	mock.ExpectQuery(`SELECT customer_id FROM customers`).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}).AddRow("C001").AddRow("C002"))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE customers SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE customers SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, _, err := w.Flush(context.Background(), items)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if affected != 2 {
		t.Errorf("affected = %d, want 2 updates", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFlushConflictRowsNotCounted(t *testing.T) {
	w, mock := setupWriterTest(t)
	items := []BatchItem{item("C001", "Ada"), item("C002", "Grace")}

	// Overlap replay: probe says new, but the insert hits ON CONFLICT and
	// reports only one row actually written.
	mock.ExpectQuery(`SELECT customer_id FROM customers`).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO customers`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, _, err := w.Flush(context.Background(), items)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if affected != 1 {
		t.Errorf("affected = %d, want 1", affected)
	}
}

func TestFlushRetriesDeadlock(t *testing.T) {
	w, mock := setupWriterTest(t)
	items := []BatchItem{item("C001", "Ada")}

	deadlock := &pq.Error{Code: "40P01", Message: "deadlock detected"}

	mock.ExpectQuery(`SELECT customer_id FROM customers`).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO customers`).WillReturnError(deadlock)
	mock.ExpectRollback()

	mock.ExpectQuery(`SELECT customer_id FROM customers`).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO customers`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, _, err := w.Flush(context.Background(), items)
	if err != nil {
		t.Fatalf("Flush after retry: %v", err)
	}
	if affected != 1 {
		t.Errorf("affected = %d, want 1", affected)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestFlushChunksOversizedInsert(t *testing.T) {
	w, mock := setupWriterTest(t)

	items := make([]BatchItem, insertChunkSize+1)
	for i := range items {
		items[i] = item(fmt.Sprintf("C%05d", i), "x")
	}

	mock.ExpectQuery(`SELECT customer_id FROM customers`).
		WillReturnRows(sqlmock.NewRows([]string{"customer_id"}))
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO customers`).
		WillReturnResult(sqlmock.NewResult(0, int64(insertChunkSize)))
	mock.ExpectExec(`INSERT INTO customers`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	affected, _, err := w.Flush(context.Background(), items)
	if err != nil {
		t.Fatalf("Flush: %v", err)
	}
	if affected != int64(insertChunkSize)+1 {
		t.Errorf("affected = %d, want %d", affected, insertChunkSize+1)
	}
}
