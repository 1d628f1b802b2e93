package mysql

import "fmt"

const schemaTemplate = `CREATE TABLE IF NOT EXISTS %s (
	id BINARY(16) NOT NULL,
	type_key VARCHAR(255) NOT NULL,
	payload %s NOT NULL,
	created_at TIMESTAMP(6) NOT NULL,
	processed TINYINT(1) NOT NULL DEFAULT 0,
	processed_at TIMESTAMP(6) NULL,
	retry_count INT NULL,
	last_error VARCHAR(1024) NULL,
	dead_at TIMESTAMP(6) NULL,
	PRIMARY KEY (id),
	INDEX idx_%s_pending (processed, dead_at, created_at, id)
);`

const (
	payloadJSON   = "JSON"
	payloadBinary = "LONGBLOB"
)

// Schema returns the DDL of an outbox table with a JSON payload column.
func Schema(table string) (string, error) {
	return buildSchema(table, payloadJSON)
}

// SchemaBinary returns the DDL of an outbox table storing payloads as raw bytes.
// Use it together with WithValidateJSON(false).
func SchemaBinary(table string) (string, error) {
	return buildSchema(table, payloadBinary)
}

func buildSchema(table, payloadType string) (string, error) {
	name, err := sanitizeTableName(table)
	if err != nil {
		return "", err
	}

	return fmt.Sprintf(schemaTemplate, name, payloadType, indexSuffix(name)), nil
}
