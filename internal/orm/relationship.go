package orm

import (
	"fmt"
	"reflect"
)

// Relationship is a struct field holding related objects: []*U for
// one-to-many or *U for many-to-one.
type Relationship struct {
	Name string

	parent        *Mapper
	index         []int
	many          bool
	targetType    reflect.Type
	backPopulates string
	foreignKey    string

	// set by Registry.Configure
	target  *Mapper
	fkCol   *binding // on the mapper whose table holds the foreign key
	refCol  *binding // the column fkCol refers to
	partner *Relationship
}

func parseRelationship(m *Mapper, f reflect.StructField, tag string) (*Relationship, error) {
	rel := &Relationship{Name: f.Name, parent: m, index: f.Index}
	t := f.Type
	if t.Kind() == reflect.Slice {
		rel.many = true
		t = t.Elem()
	}
	if t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("relationship %s.%s must be *T or []*T, got %s", m.typ.Name(), f.Name, f.Type)
	}
	rel.targetType = t.Elem()
	opts := parseOptions(tag)
	rel.backPopulates = opts["back_populates"]
	rel.foreignKey = opts["foreign_key"]
	return rel, nil
}

// Target is the related mapper, nil until the registry is configured.
func (rel *Relationship) Target() *Mapper { return rel.target }

// Many reports a one-to-many relationship.
func (rel *Relationship) Many() bool { return rel.many }

func (rel *Relationship) BackPopulates() string { return rel.backPopulates }

func (rel *Relationship) String() string {
	dir := "many-to-one"
	if rel.many {
		dir = "one-to-many"
	}
	return fmt.Sprintf("%s.%s (%s %s)", rel.parent.Name(), rel.Name, dir, rel.targetType.Name())
}

// fkMapper is the side whose rows carry the foreign key.
func (rel *Relationship) fkMapper() *Mapper {
	if rel.many {
		return rel.target
	}
	return rel.parent
}

func (rel *Relationship) refMapper() *Mapper {
	if rel.many {
		return rel.parent
	}
	return rel.target
}

func (rel *Relationship) resolve(byName map[string]*Mapper) error {
	target, ok := byName[rel.targetType.Name()]
	if !ok || target.typ != rel.targetType {
		return fmt.Errorf("relationship %s: %w: %s (mapped: %v)", rel, ErrNotMapped, rel.targetType, sortedKeys(byName))
	}
	rel.target = target

	fkSide, refSide := rel.fkMapper(), rel.refMapper()
	var found *binding
	for _, b := range fkSide.fields {
		fk := b.column.ForeignKey()
		if fk == nil || fk.TargetTable() != refSide.table.Name() {
			continue
		}
		if rel.foreignKey != "" && b.column.Name() != rel.foreignKey {
			continue
		}
		if found != nil {
			return fmt.Errorf("relationship %s: more than one foreign key from %s to %s, name one with foreign_key",
				rel, fkSide.table.Name(), refSide.table.Name())
		}
		found = b
	}
	if found == nil {
		return fmt.Errorf("relationship %s: no foreign key from %s to %s", rel, fkSide.table.Name(), refSide.table.Name())
	}

	refName := found.column.ForeignKey().TargetColumn()
	if refName == "" {
		refName = refSide.pk.column.Name()
	}
	ref, ok := refSide.byColumn[refName]
	if !ok {
		return fmt.Errorf("relationship %s: %s has no field for column %q", rel, refSide.Name(), refName)
	}
	rel.fkCol, rel.refCol = found, ref
	return nil
}

func (rel *Relationship) pair() error {
	if rel.backPopulates == "" {
		return nil
	}
	p := rel.target.Relationship(rel.backPopulates)
	switch {
	case p == nil:
		return fmt.Errorf("relationship %s: back_populates names missing relationship %s.%s", rel, rel.target.Name(), rel.backPopulates)
	case p.target != rel.parent:
		return fmt.Errorf("relationship %s: back_populates partner %s points at %s", rel, p, p.targetType.Name())
	case p.many == rel.many:
		return fmt.Errorf("relationship %s: back_populates partner %s has the same direction", rel, p)
	case p.backPopulates != rel.Name:
		return fmt.Errorf("relationship %s: partner %s does not back_populate %s", rel, p, rel.Name)
	case p.fkCol != rel.fkCol:
		return fmt.Errorf("relationship %s: partner %s joins on a different foreign key", rel, p)
	}
	rel.partner = p
	return nil
}
