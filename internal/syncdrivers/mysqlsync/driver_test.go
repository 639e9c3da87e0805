package mysqlsync

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/mysql"

	"tdbcore/internal/collection"
	"tdbcore/internal/config"
	"tdbcore/internal/core"
)

type testMySQLContainer struct {
	container *mysql.MySQLContainer
	dsn       string
	db        *sql.DB
}

func setupMySQL(t *testing.T) *testMySQLContainer {
	t.Helper()
	ctx := context.Background()

	mysqlContainer, err := mysql.Run(ctx, "mysql:8.0",
		mysql.WithDatabase("testdb"),
		mysql.WithUsername("root"),
		mysql.WithPassword("testpass"),
	)
	require.NoError(t, err, "failed to start MySQL container")

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(mysqlContainer); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	dsn, err := mysqlContainer.ConnectionString(ctx, "parseTime=true")
	require.NoError(t, err, "failed to get connection string")

	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err, "failed to open direct DB connection")
	require.NoError(t, db.PingContext(ctx), "failed to ping database")
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("failed to close DB connection: %v", err)
		}
	})

	_, err = db.ExecContext(ctx, `CREATE TABLE todos (id INT PRIMARY KEY, text VARCHAR(255), done TINYINT)`)
	require.NoError(t, err, "failed to create todos table")

	return &testMySQLContainer{container: mysqlContainer, dsn: dsn, db: db}
}

func idKeyFunc(r core.Row) (core.Key, error) {
	return core.NormalizeKey(r["id"])
}

func TestMySQLSyncDriverPollsAndTracksChanges(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	tc := setupMySQL(t)
	ctx := context.Background()

	_, err := tc.db.ExecContext(ctx, `INSERT INTO todos (id, text, done) VALUES (1, 'buy milk', 0)`)
	require.NoError(t, err)

	driver := New(Options{
		DSN:          tc.dsn,
		Table:        "todos",
		IDColumn:     "id",
		PollInterval: 50 * time.Millisecond,
	})
	col := collection.New("todos", idKeyFunc, driver, config.Collection{}, nil)
	require.NoError(t, col.Preload(ctx))
	require.Equal(t, collection.StatusReady, col.Status())
	require.Equal(t, 1, col.Size())

	row, ok := col.Get(core.Key("i:1"))
	require.True(t, ok)
	assert.Equal(t, "buy milk", row["text"])

	_, err = tc.db.ExecContext(ctx, `UPDATE todos SET text = 'buy oat milk' WHERE id = 1`)
	require.NoError(t, err)
	_, err = tc.db.ExecContext(ctx, `INSERT INTO todos (id, text, done) VALUES (2, 'walk dog', 0)`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		row, ok := col.Get(core.Key("i:1"))
		return ok && row["text"] == "buy oat milk" && col.Size() == 2
	}, 3*time.Second, 50*time.Millisecond)

	_, err = tc.db.ExecContext(ctx, `DELETE FROM todos WHERE id = 2`)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return col.Size() == 1
	}, 3*time.Second, 50*time.Millisecond)

	col.Cleanup()
}
