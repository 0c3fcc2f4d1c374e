package tour

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbtour/internal/engine"
	"dbtour/internal/logger"
)

func memoryOpener(echo bool) Opener {
	return func(ctx context.Context) (*engine.Engine, error) {
		return engine.OpenURL(ctx, "sqlite:///:memory:", echo)
	}
}

func TestTransactions(t *testing.T) {
	ctx := context.Background()
	var logs bytes.Buffer
	logger.SetOutput(&logs)
	defer logger.SetOutput(os.Stderr)

	e, err := memoryOpener(true)(ctx)
	require.NoError(t, err)
	defer e.Close()

	var out bytes.Buffer
	require.NoError(t, Transactions(ctx, e, &out))

	want := []string{
		`[("hello world")]`,
		"row.x=1 row.y=1",
		"row.x=2 row.y=2",
		"row.x=6 row.y=8",
		"row.x=9 row.y=10",
		"row[0]=6 row[1]=8",
		"row[0]=9 row[1]=10",
		"row['x']=6 row['y']=8",
		"row['x']=9 row['y']=10",
		"updated 1 row(s)",
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if !assert.Equal(t, want, got) {
		t.Logf("\nfull output:\n%s", out.String())
	}

	echoed := logs.String()
	for _, s := range []string{"BEGIN (implicit)", "ROLLBACK", "COMMIT", "[no parameters]", "UPDATE some_table SET y=? WHERE x=?"} {
		assert.Contains(t, echoed, s)
	}
}

func TestMetadata(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, Metadata(context.Background(), memoryOpener(false), &out))

	for _, line := range []string{
		"Column(name, VARCHAR(30), table=<user_account>)",
		"[id name fullname]",
		"PrimaryKeyConstraint(id)",
		"MetaData()",
		"Table(user_account, MetaData(), Column(id, INTEGER, table=<user_account>, primary_key, not null)",
		`User(id=nil, name="sandy", fullname="Sandy Cheeks")`,
		"User.Addresses (one-to-many Address)",
		"AddressHybrid.User (many-to-one UserHybrid)",
		`UserHybrid(id=nil, name="john", fullname="John Doe")`,
		`User(id=1, name="sandy", fullname="Sandy Cheeks")`,
		`Address(id=1, email_address="sandy@sqlalchemy.org", user_id=1)`,
		`Address(id=2, email_address="sandy@squirrelpower.org", user_id=1)`,
		"reflected_table.column",
	} {
		assert.Contains(t, out.String(), line)
	}
}
