package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ExecutionContext is an isolated, queue-confined scope for store work.
// Objects fetched through a context are uniqued by ID, and changes made
// to them stay private until SaveIfNeeded commits them.
//
// Every method except Perform must be called from inside a Perform
// callback of the same context.
type ExecutionContext struct {
	name  string
	store *Store
	view  bool
	sem   chan struct{}

	objects   map[string]Entity
	registry  map[*entityDescription]map[string]Entity
	snapshots map[string][]any
	inserted  map[string]Entity
	insertSeq []string
	pending   map[*entityDescription]*pendingInserts
	remapped  map[string]string
	deleted   map[string]Entity

	mergeMu sync.Mutex
	merges  []*changeSet
}

func newExecutionContext(s *Store, name string, view bool) *ExecutionContext {
	return &ExecutionContext{
		name:      name,
		store:     s,
		view:      view,
		sem:       make(chan struct{}, 1),
		objects:   make(map[string]Entity),
		registry:  make(map[*entityDescription]map[string]Entity),
		snapshots: make(map[string][]any),
		inserted:  make(map[string]Entity),
		pending:   make(map[*entityDescription]*pendingInserts),
		deleted:   make(map[string]Entity),
	}
}

// Name returns the context's name as recorded in the change log.
func (ec *ExecutionContext) Name() string { return ec.name }

// Perform runs fn confined to the context. Calls are sequential within a
// context; the caller blocks until fn returns. If ctx is cancelled while
// waiting for the context, fn is not run and ctx.Err() is returned.
func (ec *ExecutionContext) Perform(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case ec.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-ec.sem }()

	ec.applyMerges()
	return fn(ctx)
}

// PerformValue runs fn confined to ec and returns its result.
func PerformValue[V any](ctx context.Context, ec *ExecutionContext, fn func(ctx context.Context) (V, error)) (V, error) {
	var out V
	err := ec.Perform(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}

// FetchRequest describes a fetch: an optional predicate, sort order and
// limit. A zero Limit means no limit.
type FetchRequest struct {
	Predicate Predicate
	SortBy    []SortDescriptor
	Limit     int
}

// Fetch returns the objects of type T matching req. Pending inserts and
// edits of the context are matched in memory; pending deletes are hidden.
func Fetch[T any, PT interface {
	*T
	Entity
}](ctx context.Context, ec *ExecutionContext, req FetchRequest) ([]PT, error) {
	objs, err := ec.fetch(ctx, PT(new(T)).entity(), req, func() Entity { return PT(new(T)) })
	if err != nil {
		return nil, err
	}
	out := make([]PT, len(objs))
	for i, o := range objs {
		out[i] = o.(PT)
	}
	return out, nil
}

// FetchOrCreate returns the first object matching pred, or a new blank
// object registered for insertion.
func FetchOrCreate[T any, PT interface {
	*T
	Entity
}](ctx context.Context, ec *ExecutionContext, pred Predicate) (PT, bool, error) {
	found, err := Fetch[T, PT](ctx, ec, FetchRequest{Predicate: pred, Limit: 1})
	if err != nil {
		return nil, false, err
	}
	if len(found) > 0 {
		return found[0], false, nil
	}
	return Create[T, PT](ec), true, nil
}

// Create registers a new blank object with a fresh UUIDv7 for insertion.
func Create[T any, PT interface {
	*T
	Entity
}](ec *ExecutionContext) PT {
	obj := PT(new(T))
	obj.setObjectID(newObjectID())
	ec.insert(obj)
	return obj
}

func newObjectID() string {
	return uuid.Must(uuid.NewV7()).String()
}

func (ec *ExecutionContext) insert(obj Entity) {
	id := obj.ObjectID()
	ec.register(obj)
	ec.inserted[id] = obj
	ec.insertSeq = append(ec.insertSeq, id)
	ec.pendingFor(obj.entity()).add(obj)
}

// register adds obj to the identity map.
func (ec *ExecutionContext) register(obj Entity) {
	id, d := obj.ObjectID(), obj.entity()
	ec.objects[id] = obj
	m := ec.registry[d]
	if m == nil {
		m = make(map[string]Entity)
		ec.registry[d] = m
	}
	m[id] = obj
}

// unregister removes id from the identity map.
func (ec *ExecutionContext) unregister(id string) {
	if obj, ok := ec.objects[id]; ok {
		delete(ec.registry[obj.entity()], id)
	}
	delete(ec.objects, id)
}

func (ec *ExecutionContext) pendingFor(d *entityDescription) *pendingInserts {
	p := ec.pending[d]
	if p == nil {
		p = &pendingInserts{}
		ec.pending[d] = p
	}
	return p
}

// clearPending forgets every pending insert.
func (ec *ExecutionContext) clearPending() {
	ec.inserted = make(map[string]Entity)
	ec.insertSeq = nil
	ec.pending = make(map[*entityDescription]*pendingInserts)
}

// Delete marks obj for deletion. A pending insert is simply dropped.
func (ec *ExecutionContext) Delete(obj Entity) {
	id := obj.ObjectID()
	if _, ok := ec.inserted[id]; ok {
		delete(ec.inserted, id)
		ec.unregister(id)
		ec.dropInsertSeq(id)
		ec.pendingFor(obj.entity()).remove(obj)
		return
	}
	ec.deleted[id] = obj
}

// ObjectWithID returns the registered object with the given ID, or nil.
func (ec *ExecutionContext) ObjectWithID(id string) Entity {
	return ec.objects[id]
}

// HasChanges reports whether the context holds uncommitted inserts,
// edits or deletes.
func (ec *ExecutionContext) HasChanges() bool {
	if len(ec.inserted) > 0 || len(ec.deleted) > 0 {
		return true
	}
	for id, obj := range ec.objects {
		if len(ec.changedColumns(id, obj)) > 0 {
			return true
		}
	}
	return false
}

// SaveIfNeeded commits pending changes. It does nothing when the context
// is clean, so a second call in a row has no effect.
func (ec *ExecutionContext) SaveIfNeeded(ctx context.Context) error {
	if !ec.HasChanges() {
		return nil
	}
	return ec.store.commit(ctx, ec)
}

// Rollback discards every pending change of the context.
func (ec *ExecutionContext) Rollback() {
	for id := range ec.inserted {
		ec.unregister(id)
	}
	ec.clearPending()
	ec.deleted = make(map[string]Entity)
	for id, obj := range ec.objects {
		if snap, ok := ec.snapshots[id]; ok && len(ec.changedColumns(id, obj)) > 0 {
			_ = obj.setColumnValues(cloneValues(snap))
		}
	}
}

// Reset discards pending changes and forgets every registered object.
// Queued merges are dropped too; the next fetch reads committed state.
func (ec *ExecutionContext) Reset() {
	ec.objects = make(map[string]Entity)
	ec.registry = make(map[*entityDescription]map[string]Entity)
	ec.snapshots = make(map[string][]any)
	ec.clearPending()
	ec.deleted = make(map[string]Entity)

	ec.mergeMu.Lock()
	ec.merges = nil
	ec.mergeMu.Unlock()
}

// changedColumns returns the indexes of columns edited since the object
// was last fetched or committed. Pending inserts report nothing.
func (ec *ExecutionContext) changedColumns(id string, obj Entity) []int {
	snap, ok := ec.snapshots[id]
	if !ok {
		return nil
	}
	var changed []int
	for i, v := range obj.columnValues() {
		if !valuesEqual(v, snap[i]) {
			changed = append(changed, i)
		}
	}
	return changed
}

func (ec *ExecutionContext) hasPending(d *entityDescription) bool {
	if p := ec.pending[d]; p != nil && len(p.seq) > 0 {
		return true
	}
	for _, obj := range ec.deleted {
		if obj.entity() == d {
			return true
		}
	}
	for id, obj := range ec.registry[d] {
		if len(ec.changedColumns(id, obj)) > 0 {
			return true
		}
	}
	return false
}

func (ec *ExecutionContext) fetch(ctx context.Context, d *entityDescription, req FetchRequest, newObj func() Entity) ([]Entity, error) {
	if err := validateKeys(d, req.Predicate, req.SortBy); err != nil {
		return nil, err
	}
	db, err := ec.store.handle()
	if err != nil {
		return nil, err
	}

	// A fetch by natural key reads pending inserts from the key index and
	// needs no scan of the other pending objects.
	key, keyed := naturalKeyLookup(d, req.Predicate)
	pending := !keyed && ec.hasPending(d)
	query := "SELECT " + d.selectList() + " FROM " + d.table
	var args []any
	if req.Predicate != nil {
		clause, a := req.Predicate.sql(d)
		query += " WHERE " + clause
		args = a
	}
	if len(req.SortBy) > 0 {
		query += " ORDER BY " + orderClause(req.SortBy)
	}
	if req.Limit > 0 && !pending {
		query += fmt.Sprintf(" LIMIT %d", req.Limit)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", d.name, err)
	}
	defer rows.Close()

	var results []Entity
	seen := make(map[string]bool)
	for rows.Next() {
		targets := d.scanTargets()
		if err := rows.Scan(targets...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", d.name, err)
		}
		id, values, err := d.decodeRow(targets)
		if err != nil {
			return nil, err
		}
		seen[id] = true
		if _, gone := ec.deleted[id]; gone {
			continue
		}
		obj, err := ec.materialize(id, values, newObj)
		if err != nil {
			return nil, err
		}
		results = append(results, obj)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", d.name, err)
	}

	switch {
	case keyed:
		if p := ec.pending[d]; p != nil {
			results = append(results, p.lookup(d, key)...)
		}
	case pending:
		if p := ec.pending[d]; p != nil {
			results = append(results, p.seq...)
		}
		results = ec.appendDirty(d, seen, results)
	default:
		return results, nil
	}

	if req.Predicate != nil {
		filtered := results[:0]
		for _, obj := range results {
			if req.Predicate.match(d, obj.ObjectID(), obj.columnValues()) {
				filtered = append(filtered, obj)
			}
		}
		results = filtered
	}
	sortEntities(d, results, req.SortBy)
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// appendDirty adds registered objects of d with unsaved edits that the
// query did not return.
func (ec *ExecutionContext) appendDirty(d *entityDescription, seen map[string]bool, results []Entity) []Entity {
	for id, obj := range ec.registry[d] {
		if seen[id] {
			continue
		}
		if _, ins := ec.inserted[id]; ins {
			continue
		}
		if _, gone := ec.deleted[id]; gone {
			continue
		}
		if len(ec.changedColumns(id, obj)) > 0 {
			results = append(results, obj)
		}
	}
	return results
}

// materialize returns the registered object for id, refreshing it from
// the row unless it carries unsaved edits, or registers a new one.
func (ec *ExecutionContext) materialize(id string, values []any, newObj func() Entity) (Entity, error) {
	if obj, ok := ec.objects[id]; ok {
		if len(ec.changedColumns(id, obj)) == 0 {
			if err := obj.setColumnValues(values); err != nil {
				return nil, err
			}
			ec.snapshots[id] = cloneValues(values)
		}
		return obj, nil
	}
	obj := newObj()
	obj.setObjectID(id)
	if err := obj.setColumnValues(values); err != nil {
		return nil, err
	}
	ec.register(obj)
	ec.snapshots[id] = cloneValues(values)
	return obj, nil
}

// remapID re-keys a pending insert that was folded into an existing row.
// References to the old ID are re-pointed by the next repoint call.
func (ec *ExecutionContext) remapID(obj Entity, newID string) {
	oldID := obj.ObjectID()
	ec.unregister(oldID)
	delete(ec.inserted, oldID)
	obj.setObjectID(newID)
	ec.register(obj)
	ec.inserted[newID] = obj
	if ec.remapped == nil {
		ec.remapped = make(map[string]string)
	}
	ec.remapped[oldID] = newID
}

// repoint rewrites every registered reference to a remapped ID in one
// pass.
func (ec *ExecutionContext) repoint() {
	if len(ec.remapped) == 0 {
		return
	}
	for i, id := range ec.insertSeq {
		if to, ok := ec.remapped[id]; ok {
			ec.insertSeq[i] = to
		}
	}
	for d, objs := range ec.registry {
		if !d.hasReferences() {
			continue
		}
		for _, obj := range objs {
			values := obj.columnValues()
			changed := false
			for i, c := range d.columns {
				if c.references == "" {
					continue
				}
				if ref, ok := values[i].(string); ok {
					if to, ok := ec.remapped[ref]; ok {
						values[i] = to
						changed = true
					}
				}
			}
			if changed {
				_ = obj.setColumnValues(values)
			}
		}
	}
	ec.remapped = nil
	// Re-pointed references can change natural keys.
	for _, p := range ec.pending {
		p.invalidate()
	}
}

func (ec *ExecutionContext) dropInsertSeq(id string) {
	for i, v := range ec.insertSeq {
		if v == id {
			ec.insertSeq = append(ec.insertSeq[:i], ec.insertSeq[i+1:]...)
			return
		}
	}
}

// evict forgets persisted objects removed from the store behind the
// context's back.
func (ec *ExecutionContext) evict(ids []string) {
	for _, id := range ids {
		if _, ins := ec.inserted[id]; ins {
			continue
		}
		ec.unregister(id)
		delete(ec.snapshots, id)
		delete(ec.deleted, id)
	}
}

func orderClause(sorts []SortDescriptor) string {
	parts := make([]string, len(sorts))
	for i, s := range sorts {
		dir := "DESC"
		if s.Ascending {
			dir = "ASC"
		}
		parts[i] = s.Key + " " + dir
	}
	return strings.Join(parts, ", ")
}

func sortEntities(d *entityDescription, objs []Entity, sorts []SortDescriptor) {
	if len(sorts) == 0 {
		return
	}
	sort.SliceStable(objs, func(i, j int) bool {
		a, b := objs[i], objs[j]
		av, bv := a.columnValues(), b.columnValues()
		for _, s := range sorts {
			cmp, ok := compareValues(lookup(d, a.ObjectID(), av, s.Key), lookup(d, b.ObjectID(), bv, s.Key))
			if !ok || cmp == 0 {
				continue
			}
			if s.Ascending {
				return cmp < 0
			}
			return cmp > 0
		}
		return false
	})
}

func cloneValues(v []any) []any {
	out := make([]any, len(v))
	copy(out, v)
	return out
}

// pendingInserts holds the pending inserts of one entity in insertion
// order, with a natural-key index built lazily on lookup. Natural-key
// columns are identity: once set they are not edited.
type pendingInserts struct {
	seq     []Entity
	indexed int
	byKey   map[string][]Entity

	// blank holds indexed objects whose key columns were all unset.
	blank []Entity
}

func (p *pendingInserts) add(obj Entity) {
	p.seq = append(p.seq, obj)
}

func (p *pendingInserts) remove(obj Entity) {
	for i, o := range p.seq {
		if o == obj {
			p.seq = append(p.seq[:i], p.seq[i+1:]...)
			break
		}
	}
	p.invalidate()
}

// invalidate drops the key index; the next lookup rebuilds it.
func (p *pendingInserts) invalidate() {
	p.indexed = 0
	p.byKey = nil
	p.blank = nil
}

// lookup returns the pending inserts whose natural key is key.
func (p *pendingInserts) lookup(d *entityDescription, key string) []Entity {
	if p.byKey == nil {
		p.byKey = make(map[string][]Entity)
	}
	if len(p.blank) > 0 {
		blank := p.blank
		p.blank = nil
		for _, obj := range blank {
			p.index(d, obj)
		}
	}
	for ; p.indexed < len(p.seq); p.indexed++ {
		p.index(d, p.seq[p.indexed])
	}
	return p.byKey[key]
}

func (p *pendingInserts) index(d *entityDescription, obj Entity) {
	k, ok := d.naturalKeyOf(obj.columnValues())
	if !ok {
		p.blank = append(p.blank, obj)
		return
	}
	p.byKey[k] = append(p.byKey[k], obj)
}
