package storage

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Entity is implemented by every persisted type. Object identity is the
// UUIDv7 string assigned on creation.
type Entity interface {
	ObjectID() string
	setObjectID(id string)
	entity() *entityDescription
	columnValues() []any
	setColumnValues(v []any) error
}

type columnKind int

const (
	kindText columnKind = iota
	kindInt
	kindTime
	// kindNullText maps the empty string to SQL NULL.
	kindNullText
)

type column struct {
	name       string
	kind       columnKind
	references string
}

type entityDescription struct {
	name       string
	table      string
	columns    []column
	naturalKey []string
}

func (d *entityDescription) columnIndex(name string) (int, bool) {
	for i, c := range d.columns {
		if c.name == name {
			return i, true
		}
	}
	return -1, false
}

// hasKey reports whether name is "id" or one of the entity's columns.
func (d *entityDescription) hasKey(name string) bool {
	if name == "id" {
		return true
	}
	_, ok := d.columnIndex(name)
	return ok
}

func (d *entityDescription) hasReferences() bool {
	for _, c := range d.columns {
		if c.references != "" {
			return true
		}
	}
	return false
}

func (d *entityDescription) columnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.name
	}
	return names
}

func (d *entityDescription) selectList() string {
	return "id, " + strings.Join(d.columnNames(), ", ")
}

// scanTargets returns scan destinations for "id" followed by every column.
func (d *entityDescription) scanTargets() []any {
	targets := make([]any, len(d.columns)+1)
	targets[0] = new(string)
	for i, c := range d.columns {
		switch c.kind {
		case kindInt:
			targets[i+1] = new(int64)
		default:
			targets[i+1] = new(sql.NullString)
		}
	}
	return targets
}

// decodeRow converts scanned targets into canonical in-memory values.
func (d *entityDescription) decodeRow(targets []any) (string, []any, error) {
	id := *targets[0].(*string)
	values := make([]any, len(d.columns))
	for i, c := range d.columns {
		switch c.kind {
		case kindInt:
			values[i] = *targets[i+1].(*int64)
		case kindTime:
			ns := targets[i+1].(*sql.NullString)
			t, err := parseTimestamp(ns.String)
			if err != nil {
				return "", nil, fmt.Errorf("decode %s.%s: %w", d.table, c.name, err)
			}
			values[i] = t
		default:
			values[i] = targets[i+1].(*sql.NullString).String
		}
	}
	return id, values, nil
}

// driverValue converts a canonical value into what is written to SQLite.
func (c column) driverValue(v any) any {
	switch c.kind {
	case kindTime:
		return formatTimestamp(v.(time.Time))
	case kindNullText:
		if v.(string) == "" {
			return nil
		}
	}
	return v
}

// Model is the compiled data model: the set of entities and the
// migrations that create their tables.
type Model struct {
	name       string
	entities   []*entityDescription
	migrations []migration
}

// NewModel returns an empty model. Open rejects it with ErrMissingSchema.
func NewModel(name string) *Model {
	return &Model{name: name}
}

// DefaultModel returns the pagelog data model.
func DefaultModel() *Model {
	return &Model{
		name: "pagelog",
		entities: []*entityDescription{
			pageEntity,
			saveInfoEntity,
			categoryEntity,
			pageViewEntity,
			pageViewCategoryEntity,
		},
		migrations: []migration{
			{Version: 1, Name: "initial_schema", Apply: migrateV001},
		},
	}
}

// Name returns the model name.
func (m *Model) Name() string { return m.name }

// entityRank orders entities so parents are written before children.
func (m *Model) entityRank(d *entityDescription) int {
	for i, e := range m.entities {
		if e == d {
			return i
		}
	}
	return len(m.entities)
}

// ── timestamps ──────────────────────────────────────────────────────

// timestampLayout is fixed width so lexical order equals time order.
const timestampLayout = "2006-01-02T15:04:05.000000000Z"

func formatTimestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

// parseTimestamp accepts the storage layout plus the RFC 3339 and SQLite
// forms that older rows or hand-edited databases may carry.
func parseTimestamp(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{
		timestampLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05Z",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp %q", s)
}
