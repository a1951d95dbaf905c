package repository

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-sql-driver/mysql"
)

func TestIsDuplicate(t *testing.T) {
	dup := &mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}
	if !isDuplicate(fmt.Errorf("insert: %w", dup)) {
		t.Fatal("wrapped 1062 should be a duplicate")
	}
	if isDuplicate(&mysql.MySQLError{Number: 1146}) {
		t.Fatal("1146 is not a duplicate")
	}
	if isDuplicate(errors.New("boom")) {
		t.Fatal("plain errors are not duplicates")
	}
}
