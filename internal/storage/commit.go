package storage

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"
)

type changeOp string

const (
	opInsert changeOp = "insert"
	opUpdate changeOp = "update"
	opDelete changeOp = "delete"
)

// objectChange is one committed change to one object. values holds the
// full column set after the commit; columns lists the ones written.
type objectChange struct {
	entity  *entityDescription
	id      string
	op      changeOp
	columns []int
	values  []any
}

// changeSet is everything one commit wrote.
type changeSet struct {
	id          string
	context     string
	committedAt time.Time
	changes     []objectChange
}

func (cs *changeSet) deletedIDs() []string {
	var ids []string
	for _, ch := range cs.changes {
		if ch.op == opDelete {
			ids = append(ids, ch.id)
		}
	}
	return ids
}

type pendingUpdate struct {
	obj     Entity
	columns []int
}

// commit writes the context's pending changes in one transaction under
// the store's writer lock.
func (s *Store) commit(ctx context.Context, ec *ExecutionContext) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	db, err := s.handle()
	if err != nil {
		return err
	}

	inserts := make([]Entity, 0, len(ec.insertSeq))
	for _, id := range ec.insertSeq {
		inserts = append(inserts, ec.inserted[id])
	}
	sort.SliceStable(inserts, func(i, j int) bool {
		return s.model.entityRank(inserts[i].entity()) < s.model.entityRank(inserts[j].entity())
	})

	deletes := make([]Entity, 0, len(ec.deleted))
	for _, obj := range ec.deleted {
		deletes = append(deletes, obj)
	}
	// Children go first so cascades do not race explicit deletes.
	sort.SliceStable(deletes, func(i, j int) bool {
		return s.model.entityRank(deletes[i].entity()) > s.model.entityRank(deletes[j].entity())
	})

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin commit: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, "PRAGMA defer_foreign_keys = ON"); err != nil {
		return fmt.Errorf("defer foreign keys: %w", err)
	}

	cs := &changeSet{id: newObjectID(), context: ec.name, committedAt: s.now()}

	var last *entityDescription
	for _, obj := range inserts {
		d := obj.entity()
		if d != last {
			ec.repoint()
			last = d
		}
		id, err := insertObject(ctx, tx, obj)
		if err != nil {
			return fmt.Errorf("insert %s: %w", d.name, err)
		}
		op := opInsert
		if id != obj.ObjectID() {
			s.logger.Debug("folded insert into existing row",
				"entity", d.name, "pending_id", obj.ObjectID(), "id", id)
			ec.remapID(obj, id)
			op = opUpdate
		}
		cs.changes = append(cs.changes, objectChange{
			entity: d, id: id, op: op, columns: allColumns(d), values: obj.columnValues(),
		})
	}

	ec.repoint()

	// Collected after the inserts: a remap may re-point persisted objects.
	var updates []pendingUpdate
	for id, obj := range ec.objects {
		if _, gone := ec.deleted[id]; gone {
			continue
		}
		if cols := ec.changedColumns(id, obj); len(cols) > 0 {
			updates = append(updates, pendingUpdate{obj: obj, columns: cols})
		}
	}

	var vanished []string
	for _, u := range updates {
		d := u.obj.entity()
		n, err := updateObject(ctx, tx, u.obj, u.columns)
		if err != nil {
			return fmt.Errorf("update %s: %w", d.name, err)
		}
		if n == 0 {
			vanished = append(vanished, u.obj.ObjectID())
			continue
		}
		cs.changes = append(cs.changes, objectChange{
			entity: d, id: u.obj.ObjectID(), op: opUpdate, columns: u.columns, values: u.obj.columnValues(),
		})
	}

	for _, obj := range deletes {
		d := obj.entity()
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+d.table+" WHERE id = ?", obj.ObjectID()); err != nil {
			return fmt.Errorf("delete %s: %w", d.name, err)
		}
		cs.changes = append(cs.changes, objectChange{entity: d, id: obj.ObjectID(), op: opDelete})
	}

	if err := writeHistory(ctx, tx, cs); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", ec.name, err)
	}

	ec.didCommit(cs, vanished)
	s.broadcast(ec, cs)

	s.logger.Debug("committed context",
		"context", ec.name, "transaction", cs.id, "changes", len(cs.changes))
	return nil
}

// insertObject writes obj and returns the ID of the stored row. Entities
// with a natural key are upserted: on conflict the existing row keeps its
// ID and takes the new values.
func insertObject(ctx context.Context, tx *sql.Tx, obj Entity) (string, error) {
	d := obj.entity()
	values := obj.columnValues()
	args := make([]any, 0, len(values)+1)
	args = append(args, obj.ObjectID())
	for i, c := range d.columns {
		args = append(args, c.driverValue(values[i]))
	}
	query := "INSERT INTO " + d.table + " (" + d.selectList() + ") VALUES (" +
		strings.TrimSuffix(strings.Repeat("?, ", len(args)), ", ") + ")"

	if len(d.naturalKey) == 0 {
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return "", err
		}
		return obj.ObjectID(), nil
	}

	var sets []string
	for _, c := range d.columns {
		if !contains(d.naturalKey, c.name) {
			sets = append(sets, c.name+" = excluded."+c.name)
		}
	}
	if len(sets) == 0 {
		sets = []string{d.naturalKey[0] + " = excluded." + d.naturalKey[0]}
	}
	query += " ON CONFLICT(" + strings.Join(d.naturalKey, ", ") + ") DO UPDATE SET " +
		strings.Join(sets, ", ") + " RETURNING id"

	var id string
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return "", err
	}
	return id, nil
}

// updateObject writes only the changed columns of obj.
func updateObject(ctx context.Context, tx *sql.Tx, obj Entity, columns []int) (int64, error) {
	d := obj.entity()
	values := obj.columnValues()
	sets := make([]string, len(columns))
	args := make([]any, 0, len(columns)+1)
	for i, idx := range columns {
		c := d.columns[idx]
		sets[i] = c.name + " = ?"
		args = append(args, c.driverValue(values[idx]))
	}
	args = append(args, obj.ObjectID())
	res, err := tx.ExecContext(ctx,
		"UPDATE "+d.table+" SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func writeHistory(ctx context.Context, tx *sql.Tx, cs *changeSet) error {
	if len(cs.changes) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO transaction_history
			(transaction_id, context, entity, object_id, operation, columns, committed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare history insert: %w", err)
	}
	defer stmt.Close()

	at := formatTimestamp(cs.committedAt)
	for _, ch := range cs.changes {
		names := make([]string, len(ch.columns))
		for i, idx := range ch.columns {
			names[i] = ch.entity.columns[idx].name
		}
		if _, err := stmt.ExecContext(ctx,
			cs.id, cs.context, ch.entity.name, ch.id, string(ch.op), strings.Join(names, ","), at,
		); err != nil {
			return fmt.Errorf("record history: %w", err)
		}
	}
	return nil
}

// didCommit makes the committed state the context's new baseline.
func (ec *ExecutionContext) didCommit(cs *changeSet, vanished []string) {
	for _, ch := range cs.changes {
		if ch.op == opDelete {
			ec.unregister(ch.id)
			delete(ec.snapshots, ch.id)
			continue
		}
		if obj, ok := ec.objects[ch.id]; ok {
			ec.snapshots[ch.id] = obj.columnValues()
		}
	}
	ec.evict(vanished)
	ec.clearPending()
	ec.deleted = make(map[string]Entity)
}

// broadcast queues a committed change set for merging into the view
// context.
func (s *Store) broadcast(origin *ExecutionContext, cs *changeSet) {
	s.viewMu.Lock()
	view := s.view
	s.viewMu.Unlock()
	if view == nil || view == origin {
		return
	}
	view.enqueueMerge(cs)
}

func (ec *ExecutionContext) enqueueMerge(cs *changeSet) {
	ec.mergeMu.Lock()
	ec.merges = append(ec.merges, cs)
	ec.mergeMu.Unlock()
}

// applyMerges folds queued change sets into registered objects. Each
// committed property overwrites the in-memory value, while properties the
// commit did not touch keep their unsaved edits.
func (ec *ExecutionContext) applyMerges() {
	ec.mergeMu.Lock()
	merges := ec.merges
	ec.merges = nil
	ec.mergeMu.Unlock()

	for _, cs := range merges {
		for _, ch := range cs.changes {
			if ch.op == opDelete {
				ec.evict([]string{ch.id})
				continue
			}
			obj, ok := ec.objects[ch.id]
			if !ok {
				continue
			}
			if _, ins := ec.inserted[ch.id]; ins {
				continue
			}
			current := obj.columnValues()
			snap, ok := ec.snapshots[ch.id]
			if !ok {
				snap = cloneValues(current)
			}
			for _, idx := range ch.columns {
				current[idx] = ch.values[idx]
				snap[idx] = ch.values[idx]
			}
			_ = obj.setColumnValues(current)
			ec.snapshots[ch.id] = snap
		}
	}
}

func allColumns(d *entityDescription) []int {
	out := make([]int, len(d.columns))
	for i := range out {
		out[i] = i
	}
	return out
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
