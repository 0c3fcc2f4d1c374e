//go:build integration

package orm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"dbtour/internal/engine"
	"dbtour/internal/schema"
	"dbtour/pkg/config"
)

// Run with: go test -tags integration ./internal/orm/...
func TestPostgres(t *testing.T) {
	ctx := context.Background()
	ctr, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("tour"),
		postgres.WithUsername("scott"),
		postgres.WithPassword("tiger"),
		postgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, ctr)
	require.NoError(t, err)

	dsn, err := ctr.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	for _, driver := range []string{"pgx", "postgres"} {
		t.Run(driver, func(t *testing.T) {
			e, err := engine.Open(ctx, config.DBConfig{Type: "postgres", Driver: driver, DSN: dsn, Timeout: 10})
			require.NoError(t, err)
			defer e.Close()

			r := newRegistry(t)
			require.NoError(t, r.MetaData().CreateAll(ctx, e))
			defer func() { assert.NoError(t, r.MetaData().DropAll(ctx, e)) }()

			sandy := &User{
				Name:     "sandy",
				Fullname: strPtr("Sandy Cheeks"),
				Addresses: []*Address{
					{EmailAddress: "sandy@sqlalchemy.org"},
					{EmailAddress: "sandy@squirrelpower.org"},
				},
			}
			s := NewSession(e, r)
			require.NoError(t, s.Add(sandy))
			require.NoError(t, s.Commit(ctx))
			require.NoError(t, s.Close())
			assert.Equal(t, 1, sandy.ID, "id comes back through RETURNING")
			assert.Equal(t, 2, sandy.Addresses[1].ID)

			s2 := NewSession(e, r)
			loaded, err := Get[User](ctx, s2, 1)
			require.NoError(t, err)
			require.NoError(t, s2.Load(ctx, loaded, "Addresses"))
			assert.Len(t, loaded.Addresses, 2)
			assert.Equal(t, `User(id=1, name="sandy", fullname="Sandy Cheeks")`, r.Repr(loaded))
			require.NoError(t, s2.Close())

			md := schema.NewMetaData()
			address, err := md.ReflectTable(ctx, e, "address")
			require.NoError(t, err)
			assert.Equal(t, []string{"id", "email_address", "user_id"}, address.Keys())
			user, ok := md.Table("user_account")
			require.True(t, ok, "referenced table is reflected along with address")
			assert.Equal(t, schema.String{Length: 30}, user.C("name").Type())
			assert.True(t, address.References(user))
		})
	}
}
