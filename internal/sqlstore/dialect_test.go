package sqlstore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	q := "UPDATE workflow_status SET updated_at = ? WHERE workflow_id = ? AND executor_id = ?"

	require.Equal(t, q, SQLite.Rebind(q))
	require.Equal(t, q, MySQL.Rebind(q))
	require.Equal(t,
		"UPDATE workflow_status SET updated_at = $1 WHERE workflow_id = $2 AND executor_id = $3",
		Postgres.Rebind(q))
}

func TestDialect_InsertIgnore(t *testing.T) {
	tests := []struct {
		dialect *Dialect
		want    string
	}{
		{SQLite, "INSERT OR IGNORE INTO step_outputs (a, b) VALUES (?, ?)"},
		{Postgres, "INSERT INTO step_outputs (a, b) VALUES (?, ?) ON CONFLICT DO NOTHING"},
		{MySQL, "INSERT IGNORE INTO step_outputs (a, b) VALUES (?, ?)"},
	}

	for _, tt := range tests {
		t.Run(tt.dialect.Name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.dialect.InsertIgnore("step_outputs", "a, b", "?, ?"))
		})
	}
}
