package db

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOperationOf(t *testing.T) {
	t.Parallel()
	tests := map[string]string{
		"SELECT 1":                         "select",
		"\n\t\tUPDATE notifications SET x": "update",
		"WITH due AS (SELECT 1) SELECT *":  "cte",
		"":                                 "unknown",
	}
	for sql, want := range tests {
		assert.Equal(t, want, operationOf(sql), sql)
	}
}
