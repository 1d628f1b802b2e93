package mysql

import (
	"fmt"
	"strings"
)

const recordColumns = "id, type_key, payload, created_at, processed, processed_at, retry_count, last_error, dead_at"

type queries struct {
	selectPending string
	fail          string
	dead          string
	countPending  string
	listFailed    string
	listDead      string
}

func newQueries(table string) queries {
	return queries{
		selectPending: fmt.Sprintf(
			"SELECT %s FROM %s WHERE processed = 0 AND dead_at IS NULL ORDER BY created_at ASC, id ASC LIMIT ? FOR UPDATE SKIP LOCKED",
			recordColumns,
			table,
		),
		// MySQL applies single-table assignments left to right, so dead_at sees the old retry_count.
		fail: fmt.Sprintf(
			"UPDATE %s SET processed_at = ?, last_error = ?, "+
				"dead_at = CASE WHEN ? > 0 AND COALESCE(retry_count, 0) + 1 >= ? THEN ? ELSE NULL END, "+
				"retry_count = COALESCE(retry_count, 0) + 1 "+
				"WHERE id = ? AND processed = 0",
			table,
		),
		dead: fmt.Sprintf(
			"UPDATE %s SET processed_at = ?, last_error = ?, dead_at = ?, retry_count = COALESCE(retry_count, 0) + 1 "+
				"WHERE id = ? AND processed = 0",
			table,
		),
		countPending: fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE processed = 0 AND dead_at IS NULL", table),
		listFailed: fmt.Sprintf(
			"SELECT %s FROM %s WHERE processed = 0 AND (dead_at IS NOT NULL OR retry_count > 0) ORDER BY created_at ASC, id ASC LIMIT ?",
			recordColumns,
			table,
		),
		listDead: fmt.Sprintf(
			"SELECT %s FROM %s WHERE processed = 0 AND dead_at IS NOT NULL ORDER BY created_at ASC, id ASC LIMIT ?",
			recordColumns,
			table,
		),
	}
}

func buildInsertQuery(table string, count int) string {
	rows := make([]string, count)
	for i := range rows {
		rows[i] = "(?, ?, ?, ?)"
	}

	return fmt.Sprintf("INSERT INTO %s (id, type_key, payload, created_at) VALUES %s", table, strings.Join(rows, ", "))
}

func buildAckQuery(table string, count int) string {
	return fmt.Sprintf(
		"UPDATE %s SET processed = 1, processed_at = ?, last_error = NULL WHERE id IN (%s) AND processed = 0",
		table,
		makePlaceholders(count),
	)
}

func buildRequeueQuery(table string, count int) string {
	return fmt.Sprintf(
		"UPDATE %s SET dead_at = NULL, retry_count = NULL, last_error = NULL WHERE id IN (%s) AND processed = 0",
		table,
		makePlaceholders(count),
	)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}

	buf := make([]byte, 0, count*placeholderGrowth)
	for i := 0; i < count; i++ {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = append(buf, '?')
	}

	return string(buf)
}

func indexSuffix(table string) string {
	return strings.ReplaceAll(table, ".", "_")
}
