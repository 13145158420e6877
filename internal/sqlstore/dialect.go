package sqlstore

import (
	"strconv"
	"strings"
)

// Dialect captures the differences between the supported SQL databases.
type Dialect struct {
	Name string

	// DollarPlaceholders switches from ? to $n placeholders.
	DollarPlaceholders bool

	// InsertIgnore returns an insert statement for table that silently skips rows violating the
	// primary key.
	InsertIgnore func(table, columns, values string) string

	// UpsertEvent returns the statement writing an event with latest-value-wins semantics.
	UpsertEvent string

	// LockClause is appended to the select picking the next message.
	LockClause string

	// NotifyQuery, when set, is executed inside write transactions with the notification key as its
	// only argument.
	NotifyQuery string
}

func (d *Dialect) Rebind(query string) string {
	if !d.DollarPlaceholders {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)

	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

const upsertEventOnConflict = "INSERT INTO events (workflow_id, event_key, value, updated_at) VALUES (?, ?, ?, ?) " +
	"ON CONFLICT (workflow_id, event_key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at"

var SQLite = &Dialect{
	Name: "sqlite",
	InsertIgnore: func(table, columns, values string) string {
		return "INSERT OR IGNORE INTO " + table + " (" + columns + ") VALUES (" + values + ")"
	},
	UpsertEvent: upsertEventOnConflict,
}

var Postgres = &Dialect{
	Name:               "postgres",
	DollarPlaceholders: true,
	InsertIgnore: func(table, columns, values string) string {
		return "INSERT INTO " + table + " (" + columns + ") VALUES (" + values + ") ON CONFLICT DO NOTHING"
	},
	UpsertEvent: upsertEventOnConflict,
	LockClause:  " FOR UPDATE SKIP LOCKED",
	NotifyQuery: "SELECT pg_notify('" + NotifyChannel + "', ?)",
}

var MySQL = &Dialect{
	Name: "mysql",
	InsertIgnore: func(table, columns, values string) string {
		return "INSERT IGNORE INTO " + table + " (" + columns + ") VALUES (" + values + ")"
	},
	UpsertEvent: "INSERT INTO events (workflow_id, event_key, value, updated_at) VALUES (?, ?, ?, ?) " +
		"ON DUPLICATE KEY UPDATE value = VALUES(value), updated_at = VALUES(updated_at)",
	LockClause: " FOR UPDATE SKIP LOCKED",
}

// NotifyChannel is the postgres channel carrying notification keys.
const NotifyChannel = "durable_notify"
