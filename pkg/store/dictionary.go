package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/coral-mesh/spanprof/internal/upsert"
)

// Key is one dictionary key, one value per category column.
type Key []any

// Internalize returns the id of key in category, creating the entry with
// count 1 or incrementing the count of the existing one.
func (s *Store) Internalize(ctx context.Context, cat Category, key Key) (int64, error) {
	ids, err := s.InternalizeBatch(ctx, cat, []Key{key})
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// InternalizeBatch internalizes keys in one pass and returns their ids in
// input order. A key repeated in the batch gets one id and adds its
// multiplicity to the count.
func (s *Store) InternalizeBatch(ctx context.Context, cat Category, keys []Key) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	var ids []int64
	err := s.querier(ctx, func(q upsert.Querier) error {
		var err error
		ids, err = s.internalize(ctx, q, cat, keys)
		return err
	})
	return ids, err
}

func (s *Store) internalize(ctx context.Context, q upsert.Querier, cat Category, keys []Key) ([]int64, error) {
	rows := make([][]any, len(keys))
	for i, k := range keys {
		if len(k) != len(cat.Columns) {
			return nil, storageErr("internalize "+cat.Name, fmt.Errorf("key has %d values, want %d", len(k), len(cat.Columns)))
		}
		row := make([]any, 0, len(k)+1)
		row = append(row, k...)
		rows[i] = append(row, int64(1))
	}

	ids, err := s.exec.Exec(ctx, q, upsert.Statement{
		Table:           cat.Table(),
		Columns:         append(append([]string(nil), cat.Columns...), "count"),
		Rows:            rows,
		ConflictColumns: cat.Columns,
		Update:          []upsert.Assignment{upsert.Set("count", upsert.Add(upsert.Col("count"), upsert.Excluded("count")))},
		Returning:       cat.IDColumn(),
		Merge:           sumCount,
		MaxParams:       s.dialect.maxParams,
	})
	if err != nil {
		return nil, storageErr("internalize "+cat.Name, err)
	}
	s.metrics.AddDictionaryKeys(cat.Name, s.exec.Name(), len(keys))
	return ids, nil
}

// sumCount merges duplicate keys by adding their counts; count is always
// the last column.
func sumCount(dst, src []any) []any {
	last := len(dst) - 1
	dst[last] = dst[last].(int64) + src[last].(int64)
	return dst
}

// encodeValue renders a request field value as dictionary text: strings as
// is, booleans as true/false, numbers in their shortest form, nil as the
// empty string and anything else as JSON.
func encodeValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case fmt.Stringer:
		return x.String()
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return fmt.Sprint(x)
		}
		return string(b)
	}
}

// encodeJSON renders an extra value as JSON so that its type survives the
// round trip. Values are validated as encodable before they get here.
func encodeJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}
