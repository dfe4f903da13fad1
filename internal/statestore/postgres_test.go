package statestore

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresSetGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	s := NewPostgres(db)
	ctx := context.Background()

	mock.ExpectExec("insert into agent_state").
		WithArgs("session", []byte(`{"user":"u1"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := s.Set(ctx, "session", []byte(`{"user":"u1"}`)); err != nil {
		t.Fatalf("Set: %v", err)
	}

	mock.ExpectQuery("select value from agent_state").
		WithArgs("session").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"user":"u1"}`)))
	got, err := s.Get(ctx, "session")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != `{"user":"u1"}` {
		t.Fatalf("unexpected value: %s", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresGetMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select value from agent_state").
		WithArgs("absent").
		WillReturnError(sql.ErrNoRows)

	s := NewPostgres(db)
	if _, err := s.Get(context.Background(), "absent"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresDelete(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("delete from agent_state").
		WithArgs("session").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := NewPostgres(db)
	if err := s.Delete(context.Background(), "session"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
