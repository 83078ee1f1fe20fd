package archive

import (
	"fmt"
	"sort"
	"strings"
)

// Joiner merges determinand tables into one wide table with a full outer join.
//
// With a declared Key, rows match when every key column is equal. With an empty
// Key every column left after projection is part of the key, and all operands
// must then share the same column set.
type Joiner struct {
	Key []string
}

// NewJoiner creates a Joiner on the given key columns.
func NewJoiner(key ...string) *Joiner {
	return &Joiner{Key: key}
}

// Join combines tables. Every row of every table appears in the result; a row
// with no match in some table holds a nil value in that table's column.
func (j *Joiner) Join(tables ...DeterminandTable) (JoinedTable, error) {
	if len(tables) == 0 {
		return JoinedTable{}, ErrNoTables
	}

	valueCols := make([]string, len(tables))
	seen := make(map[string]bool, len(tables))
	for i, t := range tables {
		name := t.ValueColumn()
		if seen[name] {
			return JoinedTable{}, fmt.Errorf("%w: %q", ErrDuplicateValueCol, name)
		}
		seen[name] = true
		valueCols[i] = name
	}

	projected := make([][]string, len(tables))
	for i, t := range tables {
		projected[i] = project(t.Columns)
	}

	keyCols, shared, err := j.columns(tables, projected)
	if err != nil {
		return JoinedTable{}, err
	}
	for _, c := range shared {
		if seen[c] {
			return JoinedTable{}, fmt.Errorf("%w: value column %q collides with a shared column", ErrSchemaMismatch, c)
		}
	}

	out := JoinedTable{Columns: shared, ValueColumns: valueCols}
	index := make(map[string][]int)

	for ti, t := range tables {
		for _, obs := range t.Rows {
			k := rowKey(obs, keyCols)

			slot := -1
			for _, ri := range index[k] {
				if out.Rows[ri].Values[ti] == nil {
					slot = ri
					break
				}
			}
			if slot < 0 {
				fields := make(map[string]string, len(shared))
				for _, c := range shared {
					fields[c] = obs.Field(c)
				}
				out.Rows = append(out.Rows, JoinedRow{
					Fields: fields,
					Values: make([]*Value, len(tables)),
				})
				slot = len(out.Rows) - 1
				index[k] = append(index[k], slot)
			} else {
				row := out.Rows[slot]
				for _, c := range shared {
					if row.Fields[c] == "" {
						row.Fields[c] = obs.Field(c)
					}
				}
			}

			v := obs.Result
			out.Rows[slot].Values[ti] = &v
		}
	}

	return out, nil
}

// columns resolves the key columns used for matching and the shared columns
// emitted in the output. Tables with no columns (nothing fetched) carry no
// schema and are not checked.
func (j *Joiner) columns(tables []DeterminandTable, projected [][]string) (key, shared []string, err error) {
	var withSchema []int
	for i, t := range tables {
		if len(t.Columns) > 0 {
			withSchema = append(withSchema, i)
		}
	}

	if len(j.Key) == 0 {
		if len(withSchema) == 0 {
			return nil, nil, nil
		}
		ref := projected[withSchema[0]]
		for _, i := range withSchema[1:] {
			if !sameSet(ref, projected[i]) {
				return nil, nil, fmt.Errorf("%w: %q has [%s], %q has [%s]",
					ErrSchemaMismatch,
					tables[withSchema[0]].ValueColumn(), strings.Join(ref, ", "),
					tables[i].ValueColumn(), strings.Join(projected[i], ", "),
				)
			}
		}
		return ref, ref, nil
	}

	for _, k := range j.Key {
		if determinandColumns[k] {
			return nil, nil, fmt.Errorf("%w: key column %q is specific to one determinand", ErrSchemaMismatch, k)
		}
		for _, i := range withSchema {
			if !contains(projected[i], k) {
				return nil, nil, fmt.Errorf("%w: key column %q missing from %q", ErrSchemaMismatch, k, tables[i].ValueColumn())
			}
		}
	}

	shared = append(shared, j.Key...)
	if len(withSchema) == 0 {
		return j.Key, shared, nil
	}
	for _, c := range projected[withSchema[0]] {
		if contains(j.Key, c) {
			continue
		}
		inAll := true
		for _, i := range withSchema[1:] {
			if !contains(projected[i], c) {
				inAll = false
				break
			}
		}
		if inAll {
			shared = append(shared, c)
		}
	}
	return j.Key, shared, nil
}

// project drops the columns that identify a single determinand series.
func project(cols []string) []string {
	out := make([]string, 0, len(cols))
	for _, c := range cols {
		if !determinandColumns[c] {
			out = append(out, c)
		}
	}
	return out
}

func rowKey(obs Observation, cols []string) string {
	parts := make([]string, len(cols))
	for i, c := range cols {
		parts[i] = obs.Field(c)
	}
	return strings.Join(parts, "\x1f")
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}
