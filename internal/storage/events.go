package storage

import (
	"strings"
	"time"
)

const defaultEventLimit = 100

// eventWhere builds the WHERE clause shared by the SQLite and ClickHouse
// event repositories. tsArg converts range bounds to the column's type.
func eventWhere(f *EventFilter, tsColumn string, tsArg func(time.Time) any) (string, []any) {
	var conditions []string
	var args []any

	if f.MachineID != "" {
		conditions = append(conditions, "machine_id = ?")
		args = append(args, f.MachineID)
	}
	if f.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, f.EventType)
	}
	if f.SourceIP != "" {
		conditions = append(conditions, "source_ip = ?")
		args = append(args, f.SourceIP)
	}
	if !f.StartTime.IsZero() {
		conditions = append(conditions, tsColumn+" >= ?")
		args = append(args, tsArg(f.StartTime))
	}
	if !f.EndTime.IsZero() {
		conditions = append(conditions, tsColumn+" <= ?")
		args = append(args, tsArg(f.EndTime))
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func (f *EventFilter) limit() int {
	if f.Limit <= 0 || f.Limit > 1000 {
		return defaultEventLimit
	}
	return f.Limit
}
