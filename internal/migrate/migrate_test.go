package migrate

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func testFS() fstest.MapFS {
	return fstest.MapFS{
		"sql/0001_init.up.sql":   {Data: []byte("create table t(id int);")},
		"sql/0001_init.down.sql": {Data: []byte("drop table t;")},
		"sql/0002_more.up.sql":   {Data: []byte("alter table t add c int;")},
		"sql/0002_more.down.sql": {Data: []byte("alter table t drop c;")},
		"seeds/0001_data.sql":    {Data: []byte("insert into t(id) values (1);")},
		"sql/README.md":          {Data: []byte("not sql")},
	}
}

func TestUpAppliesPendingInOrder(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`create table if not exists schema_history`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	// 0001 is already recorded, only 0002 should run
	mock.ExpectQuery(`select name from schema_history where kind`).
		WithArgs("migration").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_init.up.sql"))
	mock.ExpectBegin()
	mock.ExpectExec(`alter table t add c int`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`insert into schema_history`).
		WithArgs("0002_more.up.sql", "migration", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	runner := NewRunner(db, testFS())
	ran, err := runner.Up(context.Background())
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if len(ran) != 1 || ran[0] != "0002_more.up.sql" {
		t.Fatalf("ran = %v, want only the pending migration", ran)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`create table if not exists schema_history`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`create table if not exists schema_history`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	applied := time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`select name, kind, applied_at from schema_history`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "kind", "applied_at"}).
			AddRow("0001_init.up.sql", "migration", applied).
			AddRow("0002_more.up.sql", "migration", applied.Add(time.Minute)))
	mock.ExpectBegin()
	mock.ExpectExec(`alter table t drop c`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectExec(`delete from schema_history`).
		WithArgs("0002_more.up.sql", "migration").
		WillReturnResult(sqlmock.NewResult(0, 1))

	runner := NewRunner(db, testFS())
	name, err := runner.Down(context.Background())
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if name != "0002_more.up.sql" {
		t.Fatalf("rolled back %q, want the latest migration", name)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSeedSkipsApplied(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectExec(`create table if not exists schema_history`).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select name from schema_history where kind`).
		WithArgs("seed").
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("0001_data.sql"))

	runner := NewRunner(db, testFS())
	ran, err := runner.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if len(ran) != 0 {
		t.Fatalf("ran = %v, want nothing", ran)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("insert into t values ('a;b'); create table x(id int);")
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2: %v", len(stmts), stmts)
	}
	if got := stmts[0]; got != "insert into t values ('a;b');" {
		t.Fatalf("quoted semicolon split wrong: %q", got)
	}
}
