package sqlkit

import (
	"fmt"
	"strings"
	"time"
)

// InterpolateQuery substitutes args into query for logging. The result is
// meant for humans reading debug output, not for execution.
func InterpolateQuery(query string, args []any) string {
	for _, arg := range args {
		var replacement string
		switch v := arg.(type) {
		case string:
			replacement = "'" + strings.ReplaceAll(v, "'", "''") + "'"
		case []byte:
			replacement = "'" + strings.ReplaceAll(string(v), "'", "''") + "'"
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			replacement = fmt.Sprintf("%d", v)
		case float32, float64:
			replacement = fmt.Sprintf("%v", v)
		case bool:
			replacement = "false"
			if v {
				replacement = "true"
			}
		case time.Time:
			replacement = "'" + v.Format(time.RFC3339Nano) + "'"
		case nil:
			replacement = "NULL"
		default:
			replacement = fmt.Sprintf("'%v'", v)
		}
		query = strings.Replace(query, "?", replacement, 1)
	}

	return strings.Join(strings.Fields(query), " ")
}
