package tour

import (
	"context"
	"fmt"
	"io"

	"dbtour/internal/engine"
	"dbtour/internal/orm"
	"dbtour/internal/schema"
)

// User and Address are declared through the registry: their tables come
// from the struct tags.
type User struct {
	ID        int    `orm:"pk"`
	Name      string `orm:"size:30"`
	Fullname  *string
	Addresses []*Address `rel:"back_populates:User"`
}

type Address struct {
	ID           int    `orm:"pk"`
	EmailAddress string `orm:"notnull"`
	UserID       *int   `orm:"fk:user_account.id"`
	User         *User  `rel:"back_populates:Addresses"`
}

// UserHybrid and AddressHybrid are mapped onto tables declared by hand.
type UserHybrid struct {
	ID        int
	Name      string
	Fullname  *string
	Addresses []*AddressHybrid `rel:"back_populates:User"`
}

type AddressHybrid struct {
	ID           int
	UserID       int
	EmailAddress string
	User         *UserHybrid `rel:"back_populates:Addresses"`
}

// Opener returns a new engine; every call to the default one is a separate
// in-memory database.
type Opener func(ctx context.Context) (*engine.Engine, error)

// Metadata walks through declaring tables, creating them, mapping structs
// onto them in both styles, persisting objects through a Session and
// reflecting a table from one database into another.
func Metadata(ctx context.Context, open Opener, w io.Writer) error {
	md := schema.NewMetaData()
	userTable, err := schema.NewTable("user_account", md,
		schema.Col("id", schema.Integer{}, schema.PrimaryKey()),
		schema.Col("name", schema.String{Length: 30}),
		schema.Col("fullname", schema.String{}),
	)
	if err != nil {
		return err
	}
	// a column knows its table
	fmt.Fprintf(w, "%#v\n", userTable.C("name"))
	fmt.Fprintln(w, userTable.Keys())
	fmt.Fprintln(w, userTable.PrimaryKey())

	addressTable, err := schema.NewTable("address", md,
		schema.Col("id", schema.Integer{}, schema.PrimaryKey()),
		schema.Col("user_id", nil, schema.References("user_account.id"), schema.NotNull()),
		schema.Col("email_address", schema.String{}, schema.NotNull()),
	)
	if err != nil {
		return err
	}

	e, err := open(ctx)
	if err != nil {
		return err
	}
	defer e.Close()
	if err := md.CreateAll(ctx, e); err != nil {
		return err
	}

	r := orm.NewRegistry()
	fmt.Fprintln(w, r.MetaData())
	userMapper, err := orm.Map[User](r, "user_account")
	if err != nil {
		return err
	}
	if _, err := orm.Map[Address](r, "address"); err != nil {
		return err
	}
	fmt.Fprintf(w, "%#v\n", userMapper.Table())

	sandy := &User{Name: "sandy", Fullname: ptr("Sandy Cheeks")}
	fmt.Fprintln(w, r.Repr(sandy))

	if _, err := orm.MapTable[UserHybrid](r, userTable); err != nil {
		return err
	}
	if _, err := orm.MapTable[AddressHybrid](r, addressTable); err != nil {
		return err
	}
	if err := r.Configure(); err != nil {
		return err
	}
	for _, m := range r.Mappers() {
		for _, rel := range m.Relationships() {
			fmt.Fprintln(w, rel)
		}
	}
	john := &UserHybrid{Name: "john", Fullname: ptr("John Doe")}
	fmt.Fprintln(w, r.Repr(john))

	if err := persist(ctx, e, r, sandy, w); err != nil {
		return err
	}
	return crossEngineReflection(ctx, open, w)
}

// persist saves sandy with two addresses and reads them back in a second
// session.
func persist(ctx context.Context, e *engine.Engine, r *orm.Registry, sandy *User, w io.Writer) error {
	sandy.Addresses = []*Address{
		{EmailAddress: "sandy@sqlalchemy.org"},
		{EmailAddress: "sandy@squirrelpower.org"},
	}
	s := orm.NewSession(e, r)
	if err := s.Add(sandy); err != nil {
		s.Close()
		return err
	}
	if err := s.Commit(ctx); err != nil {
		s.Close()
		return err
	}
	fmt.Fprintln(w, r.Repr(sandy))
	if err := s.Close(); err != nil {
		return err
	}

	s = orm.NewSession(e, r)
	defer s.Close()
	loaded, err := orm.Get[User](ctx, s, sandy.ID)
	if err != nil {
		return err
	}
	if err := s.Load(ctx, loaded, "Addresses"); err != nil {
		return err
	}
	for _, a := range loaded.Addresses {
		fmt.Fprintln(w, r.Repr(a))
	}
	return nil
}

// crossEngineReflection creates reflected_table in one database, reflects
// it and creates the copy in another.
func crossEngineReflection(ctx context.Context, open Opener, w io.Writer) error {
	e1, err := open(ctx)
	if err != nil {
		return err
	}
	defer e1.Close()
	md1 := schema.NewMetaData()
	if _, err := schema.NewTable("reflected_table", md1,
		schema.Col("id", schema.Integer{}, schema.PrimaryKey()),
		schema.Col("column", schema.String{}),
	); err != nil {
		return err
	}
	if err := md1.CreateAll(ctx, e1); err != nil {
		return err
	}

	e2, err := open(ctx)
	if err != nil {
		return err
	}
	defer e2.Close()
	md2 := schema.NewMetaData()
	t2, err := md2.ReflectTable(ctx, e1, "reflected_table")
	if err != nil {
		return err
	}
	if err := md2.CreateAll(ctx, e2); err != nil {
		return err
	}
	fmt.Fprintln(w, t2.C("column"))
	return nil
}

func ptr[T any](v T) *T { return &v }
