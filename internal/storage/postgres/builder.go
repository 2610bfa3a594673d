package postgres

import (
	"strconv"
	"strings"
)

// batchInsert renders a multi-row INSERT with positional placeholders.
type batchInsert struct {
	sb   strings.Builder
	args []any
	rows int
}

func newBatchInsert(table string, columns []string) *batchInsert {
	b := &batchInsert{}
	b.sb.WriteString("INSERT INTO ")
	b.sb.WriteString(table)
	b.sb.WriteString(" (")
	b.sb.WriteString(strings.Join(columns, ", "))
	b.sb.WriteString(") VALUES ")
	return b
}

// add appends one row; values must match the column count.
func (b *batchInsert) add(values ...any) {
	if b.rows > 0 {
		b.sb.WriteString(", ")
	}
	b.sb.WriteString("(")
	for i := range values {
		if i > 0 {
			b.sb.WriteString(", ")
		}
		b.sb.WriteString("$")
		b.sb.WriteString(strconv.Itoa(len(b.args) + i + 1))
	}
	b.sb.WriteString(")")
	b.args = append(b.args, values...)
	b.rows++
}

func (b *batchInsert) empty() bool {
	return b.rows == 0
}

func (b *batchInsert) query(suffix string) (string, []any) {
	if suffix != "" {
		b.sb.WriteString(" ")
		b.sb.WriteString(suffix)
	}
	return b.sb.String(), b.args
}

// updateSet renders "col = EXCLUDED.col" assignments for an upsert.
func updateSet(columns []string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		parts[i] = c + " = EXCLUDED." + c
	}
	return strings.Join(parts, ",\n\t\t\t")
}

// upsertOnExternalID updates existing rows unless the stored external
// timestamp is newer than the incoming one. A row with a pending local edit
// is only replaced by a strictly newer external version.
func upsertOnExternalID(table string, columns []string) string {
	return `ON CONFLICT (tenant_id, external_id) DO UPDATE SET
			` + updateSet(columns) + `,
			updated_at = NOW()
		WHERE (` + table + `.sync_status <> 'pending' AND (
				` + table + `.external_updated_at IS NULL
				OR EXCLUDED.external_updated_at IS NULL
				OR ` + table + `.external_updated_at <= EXCLUDED.external_updated_at))
			OR ` + table + `.external_updated_at < EXCLUDED.external_updated_at`
}

// dedupeByExternalID keeps the last record for every external id. A single
// INSERT ... ON CONFLICT cannot touch the same row twice.
func dedupeByExternalID[T any](records []T, key func(T) *string) []T {
	index := make(map[string]int, len(records))
	out := make([]T, 0, len(records))
	for _, r := range records {
		k := key(r)
		if k == nil {
			out = append(out, r)
			continue
		}
		if i, ok := index[*k]; ok {
			out[i] = r
			continue
		}
		index[*k] = len(out)
		out = append(out, r)
	}
	return out
}

const syncMetaColumns = `id, tenant_id, external_id, sync_token, sync_status, active, external_updated_at, updated_at`
