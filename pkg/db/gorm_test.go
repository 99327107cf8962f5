package db

import "testing"

func TestOpenGormSQLite(t *testing.T) {
	gdb, err := OpenGorm(Config{Driver: "sqlite", DSN: "file::memory:", MaxOpenConns: 1})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer Close(gdb)

	var one int
	if err := gdb.Raw("SELECT 1").Scan(&one).Error; err != nil || one != 1 {
		t.Fatalf("select 1 = %d, %v", one, err)
	}
}

func TestOpenGormUnknownDriver(t *testing.T) {
	if _, err := OpenGorm(Config{Driver: "oracle", DSN: "x"}); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
}
