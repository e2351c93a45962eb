package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"gotest.tools/v3/assert"
	is "gotest.tools/v3/assert/cmp"
)

const casePath = "../../cases/case3.yaml"

func newTestCmd(t *testing.T, args ...string) *cobra.Command {
	t.Helper()
	cmd := &cobra.Command{Use: "test", RunE: func(*cobra.Command, []string) error { return nil }}
	cmd.Flags().String("case", "", "")
	cmd.Flags().String("routine", "dcopf", "")
	cmd.Flags().Int("period", 0, "")
	cmd.Flags().Duration("every", 0, "")
	cmd.Flags().String("nats", "", "")
	cmd.Flags().String("mongo", "", "")
	cmd.Flags().String("metrics-addr", "", "")
	cmd.Flags().String("http", "", "")
	cmd.Flags().String("sql-driver", "", "")
	cmd.Flags().String("sql-dsn", "", "")
	assert.NilError(t, cmd.ParseFlags(args))
	return cmd
}

func TestLoadConfigFlags(t *testing.T) {
	cmd := newTestCmd(t, "--case", casePath, "--routine", "EDES", "--period", "-1")
	cfg, err := loadConfig(cmd, "")
	assert.NilError(t, err)
	assert.Equal(t, cfg.Routine, "edes")
	assert.Equal(t, cfg.Case, casePath)
	assert.Equal(t, *cfg.Dispatch.Period, -1)
	assert.Equal(t, cfg.Dispatch.Interval, 1.0)
	assert.Equal(t, cfg.NATS.Prefix, "cgc.dispatch")
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dispatch.yaml")
	assert.NilError(t, os.WriteFile(path, []byte(`
case: cases/other.yaml
routine: ed
every: 15m
dispatch:
  interval: 0.25
  period: 0
  solver:
    max_iter: 100
    time_limit: 2s
mongo:
  uri: mongodb://localhost:27017
`), 0o600))

	cmd := newTestCmd(t, "--case", casePath, "--sql-driver", "postgres")
	cfg, err := loadConfig(cmd, path)
	assert.NilError(t, err)
	assert.Equal(t, cfg.Case, casePath)
	assert.Equal(t, cfg.Routine, "ed")
	assert.Equal(t, cfg.Every.Minutes(), 15.0)
	assert.Equal(t, cfg.Dispatch.Interval, 0.25)
	assert.Equal(t, *cfg.Dispatch.Period, 0)
	assert.Equal(t, cfg.Dispatch.Solver.MaxIter, 100)
	assert.Equal(t, cfg.Dispatch.Solver.TimeLimit.Seconds(), 2.0)
	assert.Equal(t, cfg.Dispatch.Solver.Alpha, 1.6)
	assert.Equal(t, cfg.Mongo.URI, "mongodb://localhost:27017")
	assert.Equal(t, cfg.Mongo.Database, "cgc_dispatch")
	assert.Equal(t, cfg.SQL.Driver, "postgres")
	assert.Equal(t, cfg.SQL.Table, "dispatch_messages")
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := loadConfig(newTestCmd(t, "--case", casePath, "--routine", "acopf"), "")
	assert.ErrorContains(t, err, "unknown routine")

	_, err = loadConfig(newTestCmd(t), "")
	assert.ErrorContains(t, err, "no case file")

	_, err = loadConfig(newTestCmd(t, "--case", casePath), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "error reading config file")
}

func TestRunDCOPF(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "case.yaml")
	b, err := os.ReadFile(casePath)
	assert.NilError(t, err)
	assert.NilError(t, os.WriteFile(path, b, 0o600))

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"run", "--case", path, "--routine", "dcopf"})
	assert.NilError(t, rootCmd.ExecuteContext(context.Background()))

	var s runSummary
	assert.NilError(t, json.Unmarshal(out.Bytes(), &s))
	assert.Equal(t, s.Routine, "DCOPF")
	assert.Equal(t, s.Status, "optimal")
	assert.Equal(t, len(s.Vars["pg"]), 2)
}

func TestCheckEDES(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"check", "--case", casePath, "--routine", "edes"})
	assert.NilError(t, rootCmd.ExecuteContext(context.Background()))

	assert.Assert(t, is.Contains(out.String(), "EDES: 42 variables, 28 equality rows, 57 inequality rows"))
	assert.Assert(t, is.Contains(out.String(), "SOCb"))
}
