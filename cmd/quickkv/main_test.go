package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// run executes one quickkv invocation against a bolt store in dir
func run(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--driver", "bolt", "--data-dir", dir, "--log-level", "error"}, args...))
	err := cmd.Execute()
	return strings.TrimSpace(out.String()), err
}

func mustRun(t *testing.T, dir string, args ...string) string {
	t.Helper()
	out, err := run(t, dir, args...)
	require.NoError(t, err, "quickkv %s", strings.Join(args, " "))
	return out
}

func TestCLI_SetGet(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, "OK", mustRun(t, dir, "set", "users", "alice", `{"name":"Alice","age":30}`))
	assert.Equal(t, `{"age":30,"name":"Alice"}`, mustRun(t, dir, "get", "users", "alice"))

	mustRun(t, dir, "set", "users", "nick", "al")
	assert.Equal(t, `"al"`, mustRun(t, dir, "get", "users", "nick"))

	assert.Equal(t, "true", mustRun(t, dir, "has", "users", "alice"))
	assert.Equal(t, "alice\nnick", mustRun(t, dir, "keys", "users"))

	mustRun(t, dir, "delete", "users", "nick")
	_, err := run(t, dir, "get", "users", "nick")
	assert.ErrorIs(t, err, errNotFound)

	mustRun(t, dir, "clear", "users")
	assert.Equal(t, "{}", mustRun(t, dir, "all", "users"))
}

func TestCLI_ListsAndCounters(t *testing.T) {
	dir := t.TempDir()

	assert.Equal(t, "1", mustRun(t, dir, "push", "queues", "jobs", "build"))
	assert.Equal(t, "2", mustRun(t, dir, "push", "queues", "jobs", "test"))
	assert.Equal(t, "3", mustRun(t, dir, "unshift", "queues", "jobs", "lint"))
	assert.Equal(t, `"lint"`, mustRun(t, dir, "shift", "queues", "jobs"))
	assert.Equal(t, `["build","test"]`, mustRun(t, dir, "get", "queues", "jobs"))

	assert.Equal(t, "5", mustRun(t, dir, "incr", "stats", "hits", "5"))
	assert.Equal(t, "3", mustRun(t, dir, "decr", "stats", "hits", "2"))
	assert.Equal(t, "4", mustRun(t, dir, "incr", "stats", "hits"))

	_, err := run(t, dir, "incr", "stats", "hits", "lots")
	assert.Error(t, err)

	assert.Equal(t, `{"a":1,"b":2}`, mustRun(t, dir, "update", "stats", "obj", `{"a":1,"b":2}`))
	_, err = run(t, dir, "update", "stats", "obj", "plain")
	assert.Error(t, err)
}

func TestCLI_TTL(t *testing.T) {
	dir := t.TempDir()

	mustRun(t, dir, "set", "sessions", "forever", "x")
	assert.Equal(t, "never", mustRun(t, dir, "ttl", "sessions", "forever"))

	mustRun(t, dir, "--ttl", "1h", "set", "sessions", "token", "abc")
	out := mustRun(t, dir, "ttl", "sessions", "token")
	assert.True(t, strings.HasPrefix(out, "59m") || strings.HasPrefix(out, "1h0m0s"), out)

	_, err := run(t, dir, "ttl", "sessions", "missing")
	assert.ErrorIs(t, err, errNotFound)
}

func TestCLI_ConfigErrors(t *testing.T) {
	_, err := run(t, t.TempDir(), "--driver", "redis", "get", "users", "alice")
	assert.ErrorContains(t, err, "invalid storage driver")

	_, err = run(t, t.TempDir(), "get", "users")
	assert.Error(t, err, "missing key argument")

	_, err = run(t, t.TempDir(), "get", "bad-table", "k")
	assert.ErrorContains(t, err, "invalid table name")
}

func TestCLI_RestoreUnsupported(t *testing.T) {
	_, err := run(t, t.TempDir(), "restore", "users")
	assert.ErrorContains(t, err, "not supported")
}

func TestCLI_Version(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "quickkv v"+Version+"\n", out.String())
}
