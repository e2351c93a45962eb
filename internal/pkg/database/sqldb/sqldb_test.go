package sqldb

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ohowland/cgc_dispatch/internal/pkg/msg"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

func TestDialect(t *testing.T) {
	my, err := dialectFor("mysql", "results")
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(my.upsert, "INSERT INTO results"))
	assert.Assert(t, is.Contains(my.upsert, "ON DUPLICATE KEY UPDATE"))
	assert.Assert(t, is.Contains(my.create, "payload JSON,"))

	pg, err := dialectFor("postgres", "results")
	assert.NilError(t, err)
	assert.Assert(t, is.Contains(pg.upsert, "VALUES ($1, $2, $3, $4)"))
	assert.Assert(t, is.Contains(pg.upsert, "ON CONFLICT (pid, topic)"))
	assert.Assert(t, is.Contains(pg.create, "JSONB"))
}

func TestDialectErrors(t *testing.T) {
	_, err := dialectFor("sqlite", "results")
	assert.ErrorIs(t, err, ErrDialect)

	_, err = dialectFor("mysql", "results; DROP TABLE x")
	assert.ErrorContains(t, err, "invalid table name")
}

func TestRowArgs(t *testing.T) {
	pid := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	now := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	m := msg.New(pid, msg.Status, map[string]string{"state": "solved"})

	args, err := rowArgs(m, now)
	assert.NilError(t, err)
	assert.DeepEqual(t, args, []interface{}{pid.String(), "status", `{"state":"solved"}`, now})

	_, err = rowArgs(msg.New(pid, msg.Result, make(chan int)), now)
	assert.Assert(t, err != nil)
}
