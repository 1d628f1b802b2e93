package gormstore

import (
	"encoding/json"
	"time"
	"unicode/utf8"

	outbox "github.com/velmie/txoutbox"
)

// Record is the GORM model of an outbox row.
type Record struct {
	ID          outbox.ID       `gorm:"column:id;type:uuid;primaryKey"`
	TypeKey     string          `gorm:"column:type_key;size:255;not null"`
	Payload     json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null;index:idx_outbox_pending,priority:3"`
	Processed   bool            `gorm:"column:processed;not null;default:false;index:idx_outbox_pending,priority:1"`
	ProcessedAt *time.Time      `gorm:"column:processed_at"`
	RetryCount  *int            `gorm:"column:retry_count"`
	LastError   *string         `gorm:"column:last_error;size:1024"`
	DeadAt      *time.Time      `gorm:"column:dead_at;index:idx_outbox_pending,priority:2"`
}

// Outbox converts the row into the engine's record.
func (r Record) Outbox() outbox.Record {
	record := outbox.Record{
		ID:          r.ID,
		TypeKey:     r.TypeKey,
		Payload:     r.Payload,
		CreatedAt:   r.CreatedAt,
		Processed:   r.Processed,
		ProcessedAt: r.ProcessedAt,
		DeadAt:      r.DeadAt,
	}
	if r.RetryCount != nil {
		record.RetryCount = *r.RetryCount
	}
	if r.LastError != nil {
		record.LastError = *r.LastError
	}

	return record
}

func toRecords(rows []Record) []outbox.Record {
	records := make([]outbox.Record, 0, len(rows))
	for _, row := range rows {
		records = append(records, row.Outbox())
	}

	return records
}

func truncateError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	if utf8.RuneCountInString(msg) <= maxErrorLen {
		return msg
	}

	return string([]rune(msg)[:maxErrorLen])
}
