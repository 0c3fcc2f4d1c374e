package orm

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"dbtour/internal/dialect"
	"dbtour/internal/engine"
	"dbtour/internal/logger"
)

const (
	statePending = iota
	statePersistent
	stateDeleted
)

// instance is the session's bookkeeping for one mapped object.
type instance struct {
	mapper   *Mapper
	value    reflect.Value // addressable struct
	ptr      any
	status   int
	snapshot []any
}

func (st *instance) field(b *binding) reflect.Value {
	return st.value.FieldByIndex(b.index)
}

func (st *instance) key() identityKey {
	return identityKey{st.mapper, normalizeKey(columnValue(st.field(st.mapper.pk)))}
}

type identityKey struct {
	mapper *Mapper
	pk     any
}

// Session is a unit of work. Objects added to it are inserted, updated and
// deleted on Flush; rows it loads are kept in an identity map so each
// primary key yields one object. The session checks out one Connection on
// first use and holds it until Commit, Rollback or Close.
//
// A Session must not be shared between goroutines.
type Session struct {
	engine   *engine.Engine
	registry *Registry
	conn     *engine.Connection
	states   map[any]*instance
	order    []*instance
	identity map[identityKey]*instance
	// gone holds objects whose rows this session deleted, so cascade
	// does not pick them up again from a collection still holding them.
	gone   map[any]struct{}
	closed bool
}

func NewSession(e *engine.Engine, r *Registry) *Session {
	return &Session{
		engine:   e,
		registry: r,
		states:   make(map[any]*instance),
		identity: make(map[identityKey]*instance),
		gone:     make(map[any]struct{}),
	}
}

func (s *Session) connection(ctx context.Context) (*engine.Connection, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	if s.conn == nil {
		c, err := s.engine.Connect(ctx)
		if err != nil {
			return nil, err
		}
		s.conn = c
	}
	return s.conn, nil
}

// Execute runs a text statement on the session's connection, exactly as
// Connection.Execute does.
func (s *Session) Execute(ctx context.Context, stmt *engine.TextClause, params ...engine.Params) (*engine.Result, error) {
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}
	return conn.Execute(ctx, stmt, params...)
}

// Add puts a pointer to a mapped struct into the session. It is inserted on
// the next Flush along with every object reachable through relationships.
func (s *Session) Add(objs ...any) error {
	if s.closed {
		return ErrSessionClosed
	}
	for _, obj := range objs {
		st, err := s.track(obj)
		if err != nil {
			return err
		}
		if st.status == stateDeleted {
			st.status = statePersistent
		}
	}
	return nil
}

func (s *Session) track(obj any) (*instance, error) {
	if st, ok := s.states[obj]; ok {
		return st, nil
	}
	delete(s.gone, obj)
	rv := reflect.ValueOf(obj)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return nil, fmt.Errorf("session needs a non-nil pointer to a mapped struct, got %T", obj)
	}
	m, err := s.registry.MapperFor(rv.Type())
	if err != nil {
		return nil, err
	}
	st := &instance{mapper: m, value: rv.Elem(), ptr: obj, status: statePending}
	s.states[obj] = st
	s.order = append(s.order, st)
	return st, nil
}

// Delete marks a persistent object for deletion on the next Flush. A pending
// object is simply removed from the session.
func (s *Session) Delete(obj any) error {
	if s.closed {
		return ErrSessionClosed
	}
	st, ok := s.states[obj]
	if !ok {
		return fmt.Errorf("%T is not in this session", obj)
	}
	if st.status == statePending {
		s.expunge(st)
		return nil
	}
	st.status = stateDeleted
	return nil
}

// Contains reports whether obj is pending or persistent in the session.
func (s *Session) Contains(obj any) bool {
	st, ok := s.states[obj]
	return ok && st.status != stateDeleted
}

func (s *Session) expunge(st *instance) {
	delete(s.states, st.ptr)
	if k := st.key(); s.identity[k] == st {
		delete(s.identity, k)
	}
	for i, o := range s.order {
		if o == st {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Flush writes pending changes inside the session's transaction: inserts
// parents before children, then updates, then deletes children first.
func (s *Session) Flush(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.registry.Configure(); err != nil {
		return err
	}
	if err := s.cascade(); err != nil {
		return err
	}
	s.syncBackrefs()
	owners := s.owners()

	var pending, dirty, deleted []*instance
	for _, st := range s.order {
		switch st.status {
		case statePending:
			pending = append(pending, st)
		case stateDeleted:
			deleted = append(deleted, st)
		}
	}
	if len(pending) == 0 && len(deleted) == 0 && !s.anyDirty(owners) {
		return nil
	}
	conn, err := s.connection(ctx)
	if err != nil {
		return err
	}

	inserts, err := s.insertOrder(pending, owners)
	if err != nil {
		return err
	}
	for _, st := range inserts {
		s.syncForeignKeys(st, owners)
		if err := s.insert(ctx, conn, st); err != nil {
			return err
		}
	}

	for _, st := range s.order {
		if st.status != statePersistent {
			continue
		}
		s.syncForeignKeys(st, owners)
		if s.isDirty(st) {
			dirty = append(dirty, st)
		}
	}
	for _, st := range dirty {
		if err := s.update(ctx, conn, st); err != nil {
			return err
		}
	}

	sort.SliceStable(deleted, func(i, j int) bool {
		return s.registry.rank(deleted[i].mapper) > s.registry.rank(deleted[j].mapper)
	})
	for _, st := range deleted {
		if err := s.delete(ctx, conn, st); err != nil {
			return err
		}
	}
	return nil
}

// Commit flushes, commits and releases the connection. Objects stay in the
// session with their current values.
func (s *Session) Commit(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	if s.conn == nil {
		return nil
	}
	err := s.conn.Commit(ctx)
	if cerr := s.conn.Close(); err == nil {
		err = cerr
	}
	s.conn = nil
	return err
}

// Rollback discards the transaction and releases the connection. Every
// object is removed from the session, since none of them can be trusted to
// match the database any more.
func (s *Session) Rollback(ctx context.Context) error {
	if s.closed {
		return ErrSessionClosed
	}
	var err error
	if s.conn != nil {
		err = s.conn.Rollback(ctx)
		if cerr := s.conn.Close(); err == nil {
			err = cerr
		}
		s.conn = nil
	}
	s.states = make(map[any]*instance)
	s.identity = make(map[identityKey]*instance)
	s.gone = make(map[any]struct{})
	s.order = nil
	return err
}

// Close rolls back anything uncommitted and releases the connection. The
// session can't be used afterwards; closing twice is a no-op.
func (s *Session) Close() error {
	if s.closed {
		return nil
	}
	err := s.Rollback(context.Background())
	s.closed = true
	return err
}

// related lists the objects a relationship field currently holds.
func related(st *instance, rel *Relationship) []reflect.Value {
	f := st.value.FieldByIndex(rel.index)
	if !rel.many {
		if f.IsNil() {
			return nil
		}
		return []reflect.Value{f}
	}
	out := make([]reflect.Value, 0, f.Len())
	for i := 0; i < f.Len(); i++ {
		if e := f.Index(i); !e.IsNil() {
			out = append(out, e)
		}
	}
	return out
}

// cascade adds every object reachable through relationships.
func (s *Session) cascade() error {
	queue := make([]*instance, 0, len(s.order))
	for _, st := range s.order {
		if st.status != stateDeleted {
			queue = append(queue, st)
		}
	}
	for i := 0; i < len(queue); i++ {
		for _, rel := range queue[i].mapper.rels {
			for _, v := range related(queue[i], rel) {
				obj := v.Interface()
				if _, ok := s.states[obj]; ok {
					continue
				}
				if _, ok := s.gone[obj]; ok {
					continue
				}
				st, err := s.track(obj)
				if err != nil {
					return fmt.Errorf("cascade %s: %w", rel, err)
				}
				queue = append(queue, st)
			}
		}
	}
	return nil
}

// syncBackrefs makes both sides of back_populates pairs agree: a child in a
// collection points back at its parent, and a child pointing at a parent is
// in that parent's collection.
func (s *Session) syncBackrefs() {
	for _, st := range s.order {
		if st.status == stateDeleted {
			continue
		}
		self := reflect.ValueOf(st.ptr)
		for _, rel := range st.mapper.rels {
			if rel.partner == nil {
				continue
			}
			for _, v := range related(st, rel) {
				back := v.Elem().FieldByIndex(rel.partner.index)
				if rel.many {
					if back.IsNil() {
						back.Set(self)
					}
					continue
				}
				if !containsPtr(back, st.ptr) {
					back.Set(reflect.Append(back, self))
				}
			}
		}
	}
}

func containsPtr(slice reflect.Value, ptr any) bool {
	for i := 0; i < slice.Len(); i++ {
		if slice.Index(i).Interface() == ptr {
			return true
		}
	}
	return false
}

// owner is a parent holding a child in a one-to-many collection.
type owner struct {
	parent *instance
	rel    *Relationship
}

func (s *Session) owners() map[*instance][]owner {
	out := map[*instance][]owner{}
	for _, st := range s.order {
		if st.status == stateDeleted {
			continue
		}
		for _, rel := range st.mapper.rels {
			if !rel.many {
				continue
			}
			for _, v := range related(st, rel) {
				if child, ok := s.states[v.Interface()]; ok {
					out[child] = append(out[child], owner{st, rel})
				}
			}
		}
	}
	return out
}

// parents are the instances whose keys st's foreign keys need.
func (s *Session) parents(st *instance, owners map[*instance][]owner) []*instance {
	var out []*instance
	for _, rel := range st.mapper.rels {
		if rel.many {
			continue
		}
		for _, v := range related(st, rel) {
			if p, ok := s.states[v.Interface()]; ok {
				out = append(out, p)
			}
		}
	}
	for _, o := range owners[st] {
		out = append(out, o.parent)
	}
	return out
}

func (s *Session) insertOrder(pending []*instance, owners map[*instance][]owner) ([]*instance, error) {
	const (
		visiting = 1
		done     = 2
	)
	mark := map[*instance]int{}
	var out []*instance
	var visit func(st *instance) error
	visit = func(st *instance) error {
		switch mark[st] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("flush: objects of %s depend on each other in a cycle", st.mapper.Name())
		}
		mark[st] = visiting
		for _, p := range s.parents(st, owners) {
			if p == st {
				continue
			}
			if err := visit(p); err != nil {
				return err
			}
		}
		mark[st] = done
		if st.status == statePending {
			out = append(out, st)
		}
		return nil
	}
	for _, st := range pending {
		if err := visit(st); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// syncForeignKeys copies related parents' keys into st's foreign key fields.
func (s *Session) syncForeignKeys(st *instance, owners map[*instance][]owner) {
	set := func(fk *binding, from *instance, ref *binding) {
		val := columnValue(from.field(ref))
		if isZeroKey(val) {
			return
		}
		if err := assign(st.field(fk), val); err != nil {
			logger.Warn("sync %s.%s: %v", st.mapper.Name(), fk.field.Name, err)
		}
	}
	for _, rel := range st.mapper.rels {
		if rel.many {
			continue
		}
		for _, v := range related(st, rel) {
			if p, ok := s.states[v.Interface()]; ok {
				set(rel.fkCol, p, rel.refCol)
			}
		}
	}
	for _, o := range owners[st] {
		set(o.rel.fkCol, o.parent, o.rel.refCol)
	}
}

func (s *Session) snapshot(st *instance) []any {
	snap := make([]any, len(st.mapper.fields))
	for i, b := range st.mapper.fields {
		snap[i] = columnValue(st.field(b))
	}
	return snap
}

func (s *Session) isDirty(st *instance) bool {
	for i, b := range st.mapper.fields {
		if !reflect.DeepEqual(st.snapshot[i], columnValue(st.field(b))) {
			return true
		}
	}
	return false
}

func (s *Session) anyDirty(owners map[*instance][]owner) bool {
	for _, st := range s.order {
		if st.status != statePersistent {
			continue
		}
		s.syncForeignKeys(st, owners)
		if s.isDirty(st) {
			return true
		}
	}
	return false
}

// params collects named values :p0, :p1, ... for one statement.
type params struct {
	p engine.Params
}

func (ps *params) add(v any) string {
	if ps.p == nil {
		ps.p = engine.Params{}
	}
	name := fmt.Sprintf("p%d", len(ps.p))
	ps.p[name] = v
	return ":" + name
}

func (s *Session) insert(ctx context.Context, conn *engine.Connection, st *instance) error {
	m := st.mapper
	d := conn.Dialect()
	pkField := st.field(m.pk)
	generate := m.pk.column.IsAutoincrement() && isZeroKey(columnValue(pkField))

	var cols, values []string
	var ps params
	for _, b := range m.fields {
		v := columnValue(st.field(b))
		if b == m.pk && generate {
			continue
		}
		if _, hasDefault := b.column.Default(); hasDefault && v == nil {
			continue
		}
		cols = append(cols, d.Quote(b.column.Name()))
		values = append(values, ps.add(v))
	}

	var q strings.Builder
	q.WriteString("INSERT INTO ")
	q.WriteString(d.QuoteQualified(m.table.Name()))
	if len(cols) > 0 {
		fmt.Fprintf(&q, " (%s)", strings.Join(cols, ", "))
	}
	pk := d.Quote(m.pk.column.Name())
	if generate && d.Keys == dialect.KeysOutput {
		fmt.Fprintf(&q, " OUTPUT INSERTED.%s", pk)
	}
	switch {
	case len(cols) > 0:
		fmt.Fprintf(&q, " VALUES (%s)", strings.Join(values, ", "))
	case d == dialect.MySQL:
		q.WriteString(" () VALUES ()")
	default:
		q.WriteString(" DEFAULT VALUES")
	}
	if generate {
		switch d.Keys {
		case dialect.KeysReturning:
			fmt.Fprintf(&q, " RETURNING %s", pk)
		case dialect.KeysUnsupported:
			return fmt.Errorf("insert %s: dialect %s can't return generated keys, set %s", m.Name(), d, m.pk.field.Name)
		}
	}

	res, err := conn.Execute(ctx, engine.Text(q.String()), ps.p)
	if err != nil {
		return fmt.Errorf("insert %s: %w", m.Name(), err)
	}
	if generate {
		var key any
		switch d.Keys {
		case dialect.KeysLastInsertID:
			id, ok := res.LastInsertID()
			if !ok {
				return fmt.Errorf("insert %s: driver returned no insert id", m.Name())
			}
			key = id
		default:
			row, ok := res.First()
			if !ok {
				return fmt.Errorf("insert %s: no generated key returned", m.Name())
			}
			key = row.At(0)
		}
		if err := assign(pkField, key); err != nil {
			return fmt.Errorf("insert %s: store key: %w", m.Name(), err)
		}
	}

	st.status = statePersistent
	st.snapshot = s.snapshot(st)
	s.identity[st.key()] = st
	return nil
}

func (s *Session) update(ctx context.Context, conn *engine.Connection, st *instance) error {
	m := st.mapper
	d := conn.Dialect()
	var sets []string
	var ps params
	pkIndex := -1
	for i, b := range m.fields {
		if b == m.pk {
			pkIndex = i
		}
		v := columnValue(st.field(b))
		if reflect.DeepEqual(st.snapshot[i], v) {
			continue
		}
		if b == m.pk {
			return fmt.Errorf("update %s: primary key changed from %v to %v", m.Name(), st.snapshot[i], v)
		}
		sets = append(sets, d.Quote(b.column.Name())+"="+ps.add(v))
	}
	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		d.QuoteQualified(m.table.Name()), strings.Join(sets, ", "),
		d.Quote(m.pk.column.Name()), ps.add(st.snapshot[pkIndex]))
	res, err := conn.Execute(ctx, engine.Text(q), ps.p)
	if err != nil {
		return fmt.Errorf("update %s: %w", m.Name(), err)
	}
	if n := res.RowsAffected(); n != 1 {
		return fmt.Errorf("update %s: expected to update 1 row, updated %d", m.Name(), n)
	}
	st.snapshot = s.snapshot(st)
	return nil
}

func (s *Session) delete(ctx context.Context, conn *engine.Connection, st *instance) error {
	m := st.mapper
	d := conn.Dialect()
	var ps params
	q := fmt.Sprintf("DELETE FROM %s WHERE %s = %s",
		d.QuoteQualified(m.table.Name()), d.Quote(m.pk.column.Name()), ps.add(columnValue(st.field(m.pk))))
	if _, err := conn.Execute(ctx, engine.Text(q), ps.p); err != nil {
		return fmt.Errorf("delete %s: %w", m.Name(), err)
	}
	s.detach(st)
	s.expunge(st)
	s.gone[st.ptr] = struct{}{}
	return nil
}

// detach unlinks a deleted object from the objects on the other side of
// its back_populates pairs: it leaves its parents' collections, and
// children stop pointing at it.
func (s *Session) detach(st *instance) {
	self := st.ptr
	for _, rel := range st.mapper.rels {
		f := st.value.FieldByIndex(rel.index)
		if rel.partner != nil {
			for _, v := range related(st, rel) {
				back := v.Elem().FieldByIndex(rel.partner.index)
				if rel.many {
					if !back.IsNil() && back.Interface() == self {
						back.Set(reflect.Zero(back.Type()))
					}
					continue
				}
				back.Set(withoutPtr(back, self))
			}
		}
		if !rel.many {
			f.Set(reflect.Zero(f.Type()))
		}
	}
}

// withoutPtr returns slice minus every element equal to ptr.
func withoutPtr(slice reflect.Value, ptr any) reflect.Value {
	out := reflect.MakeSlice(slice.Type(), 0, slice.Len())
	for i := 0; i < slice.Len(); i++ {
		if e := slice.Index(i); e.Interface() != ptr {
			out = reflect.Append(out, e)
		}
	}
	return out
}

// query loads rows of m's table, reusing objects already in the identity map.
func (s *Session) query(ctx context.Context, m *Mapper, where string, p engine.Params) ([]*instance, error) {
	if err := s.Flush(ctx); err != nil {
		return nil, err
	}
	conn, err := s.connection(ctx)
	if err != nil {
		return nil, err
	}
	d := conn.Dialect()
	cols := make([]string, len(m.fields))
	pkIndex := 0
	for i, b := range m.fields {
		cols[i] = d.Quote(b.column.Name())
		if b == m.pk {
			pkIndex = i
		}
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), d.QuoteQualified(m.table.Name()))
	if where != "" {
		q += " WHERE " + where
	}
	q += " ORDER BY " + d.Quote(m.pk.column.Name())

	res, err := conn.Execute(ctx, engine.Text(q), p)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", m.Name(), err)
	}
	var out []*instance
	for row := range res.Rows() {
		key := identityKey{m, normalizeKey(row.At(pkIndex))}
		if st, ok := s.identity[key]; ok {
			if st.status != stateDeleted {
				out = append(out, st)
			}
			continue
		}
		ptr := reflect.New(m.typ)
		st := &instance{mapper: m, value: ptr.Elem(), ptr: ptr.Interface(), status: statePersistent}
		for i, b := range m.fields {
			if err := assign(st.field(b), row.At(i)); err != nil {
				return nil, fmt.Errorf("load %s.%s: %w", m.Name(), b.field.Name, err)
			}
		}
		st.snapshot = s.snapshot(st)
		s.states[st.ptr] = st
		s.order = append(s.order, st)
		s.identity[st.key()] = st
		out = append(out, st)
	}
	return out, nil
}

// Find loads the T objects matching a where clause written with :name
// parameters. An empty clause loads every row. Pending changes are flushed
// first.
func Find[T any](ctx context.Context, s *Session, where string, p engine.Params) ([]*T, error) {
	m, err := s.registry.MapperFor(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	sts, err := s.query(ctx, m, where, p)
	if err != nil {
		return nil, err
	}
	out := make([]*T, len(sts))
	for i, st := range sts {
		out[i] = st.ptr.(*T)
	}
	return out, nil
}

// Get returns the T with primary key pk, from the identity map when the
// session already holds it.
func Get[T any](ctx context.Context, s *Session, pk any) (*T, error) {
	if s.closed {
		return nil, ErrSessionClosed
	}
	m, err := s.registry.MapperFor(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	if st, ok := s.identity[identityKey{m, normalizeKey(pk)}]; ok && st.status != stateDeleted {
		return st.ptr.(*T), nil
	}
	where := s.engine.Dialect().Quote(m.pk.column.Name()) + " = :pk"
	sts, err := s.query(ctx, m, where, engine.Params{"pk": pk})
	if err != nil {
		return nil, err
	}
	if len(sts) == 0 {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, m.Name(), pk)
	}
	return sts[0].ptr.(*T), nil
}

// Load fills the named relationship field of obj from the database.
func (s *Session) Load(ctx context.Context, obj any, relName string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if err := s.registry.Configure(); err != nil {
		return err
	}
	st, ok := s.states[obj]
	if !ok {
		return fmt.Errorf("%T is not in this session", obj)
	}
	rel := st.mapper.Relationship(relName)
	if rel == nil {
		return fmt.Errorf("%s has no relationship %q", st.mapper.Name(), relName)
	}
	d := s.engine.Dialect()
	field := st.value.FieldByIndex(rel.index)

	if rel.many {
		ref := columnValue(st.field(rel.refCol))
		children, err := s.query(ctx, rel.target, d.Quote(rel.fkCol.column.Name())+" = :ref", engine.Params{"ref": ref})
		if err != nil {
			return err
		}
		slice := reflect.MakeSlice(field.Type(), 0, len(children))
		self := reflect.ValueOf(obj)
		for _, c := range children {
			slice = reflect.Append(slice, reflect.ValueOf(c.ptr))
			if rel.partner != nil {
				back := c.value.FieldByIndex(rel.partner.index)
				if back.IsNil() {
					back.Set(self)
				}
			}
		}
		field.Set(slice)
		return nil
	}

	fk := columnValue(st.field(rel.fkCol))
	if fk == nil {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	targets, err := s.query(ctx, rel.target, d.Quote(rel.refCol.column.Name())+" = :ref", engine.Params{"ref": fk})
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		field.Set(reflect.Zero(field.Type()))
		return nil
	}
	field.Set(reflect.ValueOf(targets[0].ptr))
	return nil
}
