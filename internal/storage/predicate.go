package storage

import (
	"fmt"
	"strings"
	"time"
)

// Predicate filters entities. Every predicate renders to SQL and can also
// be evaluated against in-memory objects, so pending changes of a context
// are matched with the same rules as committed rows.
type Predicate interface {
	sql(d *entityDescription) (string, []any)
	match(d *entityDescription, id string, values []any) bool
	keys() []string
}

type compareOp string

const (
	opEq  compareOp = "="
	opGt  compareOp = ">"
	opGte compareOp = ">="
	opLt  compareOp = "<"
	opLte compareOp = "<="
)

type comparison struct {
	key   string
	op    compareOp
	value any
}

// Eq matches objects whose key equals value.
func Eq(key string, value any) Predicate { return comparison{key, opEq, canonical(value)} }

// Gt matches objects whose key is greater than value.
func Gt(key string, value any) Predicate { return comparison{key, opGt, canonical(value)} }

// Gte matches objects whose key is greater than or equal to value.
func Gte(key string, value any) Predicate { return comparison{key, opGte, canonical(value)} }

// Lt matches objects whose key is less than value.
func Lt(key string, value any) Predicate { return comparison{key, opLt, canonical(value)} }

// Lte matches objects whose key is less than or equal to value.
func Lte(key string, value any) Predicate { return comparison{key, opLte, canonical(value)} }

// Between matches from <= key < to.
func Between(key string, from, to time.Time) Predicate {
	return And(Gte(key, from), Lt(key, to))
}

func (c comparison) sql(d *entityDescription) (string, []any) {
	return c.key + " " + string(c.op) + " ?", []any{sqlArg(c.value)}
}

func (c comparison) match(d *entityDescription, id string, values []any) bool {
	cmp, ok := compareValues(lookup(d, id, values, c.key), c.value)
	if !ok {
		return false
	}
	switch c.op {
	case opEq:
		return cmp == 0
	case opGt:
		return cmp > 0
	case opGte:
		return cmp >= 0
	case opLt:
		return cmp < 0
	default:
		return cmp <= 0
	}
}

func (c comparison) keys() []string { return []string{c.key} }

type nullCheck struct {
	key  string
	null bool
}

// IsNull matches objects whose optional key is unset.
func IsNull(key string) Predicate { return nullCheck{key: key, null: true} }

// NotNull matches objects whose optional key is set.
func NotNull(key string) Predicate { return nullCheck{key: key} }

func (n nullCheck) sql(*entityDescription) (string, []any) {
	if n.null {
		return n.key + " IS NULL", nil
	}
	return n.key + " IS NOT NULL", nil
}

func (n nullCheck) match(d *entityDescription, id string, values []any) bool {
	v := lookup(d, id, values, n.key)
	isNull := v == nil || v == ""
	return isNull == n.null
}

func (n nullCheck) keys() []string { return []string{n.key} }

type inSet struct {
	key    string
	values []any
}

// In matches objects whose key equals one of values. An empty set
// matches nothing.
func In[V any](key string, values []V) Predicate {
	set := make([]any, len(values))
	for i, v := range values {
		set[i] = canonical(v)
	}
	return inSet{key: key, values: set}
}

func (s inSet) sql(*entityDescription) (string, []any) {
	if len(s.values) == 0 {
		return "0", nil
	}
	args := make([]any, len(s.values))
	for i, v := range s.values {
		args[i] = sqlArg(v)
	}
	return s.key + " IN (" + strings.TrimSuffix(strings.Repeat("?, ", len(s.values)), ", ") + ")", args
}

func (s inSet) match(d *entityDescription, id string, values []any) bool {
	v := lookup(d, id, values, s.key)
	for _, candidate := range s.values {
		if cmp, ok := compareValues(v, candidate); ok && cmp == 0 {
			return true
		}
	}
	return false
}

func (s inSet) keys() []string { return []string{s.key} }

type conjunction []Predicate

// And matches objects matching every predicate. Nil predicates are
// ignored; And() matches everything.
func And(preds ...Predicate) Predicate {
	out := make(conjunction, 0, len(preds))
	for _, p := range preds {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (c conjunction) sql(d *entityDescription) (string, []any) {
	if len(c) == 0 {
		return "1", nil
	}
	parts := make([]string, len(c))
	var args []any
	for i, p := range c {
		clause, a := p.sql(d)
		parts[i] = "(" + clause + ")"
		args = append(args, a...)
	}
	return strings.Join(parts, " AND "), args
}

func (c conjunction) match(d *entityDescription, id string, values []any) bool {
	for _, p := range c {
		if !p.match(d, id, values) {
			return false
		}
	}
	return true
}

func (c conjunction) keys() []string {
	var out []string
	for _, p := range c {
		out = append(out, p.keys()...)
	}
	return out
}

// SortDescriptor orders fetch results by one key.
type SortDescriptor struct {
	Key       string
	Ascending bool
}

// Asc sorts ascending by key.
func Asc(key string) SortDescriptor { return SortDescriptor{Key: key, Ascending: true} }

// Desc sorts descending by key.
func Desc(key string) SortDescriptor { return SortDescriptor{Key: key} }

func validateKeys(d *entityDescription, pred Predicate, sorts []SortDescriptor) error {
	if pred != nil {
		for _, k := range pred.keys() {
			if !d.hasKey(k) {
				return fmt.Errorf("%w %q for %s", ErrUnknownKey, k, d.name)
			}
		}
	}
	for _, s := range sorts {
		if !d.hasKey(s.Key) {
			return fmt.Errorf("%w %q for %s", ErrUnknownKey, s.Key, d.name)
		}
	}
	return nil
}

func lookup(d *entityDescription, id string, values []any, key string) any {
	if key == "id" {
		return id
	}
	i, ok := d.columnIndex(key)
	if !ok {
		return nil
	}
	return values[i]
}

// canonical widens integers to int64 so they compare with stored values.
func canonical(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case *string:
		if x == nil {
			return ""
		}
		return *x
	}
	return v
}

func sqlArg(v any) any {
	if t, ok := v.(time.Time); ok {
		return formatTimestamp(t)
	}
	return v
}

// compareValues orders two canonical values of the same kind.
func compareValues(a, b any) (int, bool) {
	switch x := a.(type) {
	case string:
		y, ok := b.(string)
		if !ok {
			return 0, false
		}
		return strings.Compare(x, y), true
	case int64:
		y, ok := b.(int64)
		if !ok {
			return 0, false
		}
		switch {
		case x < y:
			return -1, true
		case x > y:
			return 1, true
		}
		return 0, true
	case time.Time:
		y, ok := b.(time.Time)
		if !ok {
			return 0, false
		}
		return x.Compare(y), true
	}
	return 0, false
}

func valuesEqual(a, b any) bool {
	cmp, ok := compareValues(a, b)
	return ok && cmp == 0
}

// naturalKeyLookup reports the encoded natural key when pred pins every
// natural-key column of d with an equality.
func naturalKeyLookup(d *entityDescription, pred Predicate) (string, bool) {
	if pred == nil || len(d.naturalKey) == 0 {
		return "", false
	}
	eqs := make(map[string]any)
	collectEqualities(pred, eqs)
	values := make([]any, len(d.naturalKey))
	for i, k := range d.naturalKey {
		v, ok := eqs[k]
		if !ok {
			return "", false
		}
		values[i] = v
	}
	return encodeKey(values), true
}

func collectEqualities(pred Predicate, into map[string]any) {
	switch p := pred.(type) {
	case comparison:
		if p.op != opEq {
			return
		}
		if _, ok := into[p.key]; !ok {
			into[p.key] = p.value
		}
	case conjunction:
		for _, sub := range p {
			collectEqualities(sub, into)
		}
	}
}

// naturalKeyOf encodes the natural key of an object's column values. It
// reports false while a text column of the key is still empty.
func (d *entityDescription) naturalKeyOf(values []any) (string, bool) {
	key := make([]any, len(d.naturalKey))
	for i, k := range d.naturalKey {
		idx, ok := d.columnIndex(k)
		if !ok {
			return "", false
		}
		v := canonical(values[idx])
		if s, isText := v.(string); isText && s == "" {
			return "", false
		}
		key[i] = v
	}
	return encodeKey(key), true
}

func encodeKey(values []any) string {
	var b strings.Builder
	for _, v := range values {
		fmt.Fprintf(&b, "%T:%v\x1f", v, v)
	}
	return b.String()
}
