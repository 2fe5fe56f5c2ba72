package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/dvloznov/finance-ingest/internal/parser"
	"github.com/dvloznov/finance-ingest/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandPaths(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.csv", "a.pdf", ".hidden", filepath.Join("sub", "c.json"), filepath.Join(".git", "x")} {
		p := filepath.Join(dir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}
	single := filepath.Join(dir, "b.csv")

	got, err := expandPaths(context.Background(), nil, []string{single, dir})
	require.NoError(t, err)
	assert.Equal(t, []string{
		single,
		filepath.Join(dir, "a.pdf"),
		filepath.Join(dir, "b.csv"),
		filepath.Join(dir, "sub", "c.json"),
	}, got)

	_, err = expandPaths(context.Background(), nil, []string{filepath.Join(dir, "missing.csv")})
	assert.Error(t, err)
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-3", "abc"} {
		_, err := parseID(bad)
		assert.Error(t, err, bad)
	}

	none, err := optionalID("")
	require.NoError(t, err)
	assert.Nil(t, none)
	some, err := optionalID("7")
	require.NoError(t, err)
	assert.Equal(t, int64(7), *some)
}

func TestDateRange(t *testing.T) {
	var f store.TransactionFilter
	require.NoError(t, dateRange(&f, "2026-01-01", "2026-01-31"))
	assert.Equal(t, "2026-01-01", f.From.String())
	assert.Equal(t, "2026-01-31", f.To.String())

	f = store.TransactionFilter{}
	require.NoError(t, dateRange(&f, "", ""))
	assert.Nil(t, f.From)
	assert.Nil(t, f.To)

	assert.Error(t, dateRange(&f, "01/02/2026", ""))
}

func TestIDOrDash(t *testing.T) {
	id := int64(3)
	assert.Equal(t, "3", idOrDash(&id))
	assert.Equal(t, "-", idOrDash(nil))
}

func TestParamList(t *testing.T) {
	d := parser.Descriptor{RequiredParams: []string{parser.ParamPassword}, OptionalParams: []string{parser.ParamProfile}}
	assert.Equal(t, "password,[profile]", paramList(d))
	assert.Equal(t, "", paramList(parser.Descriptor{}))
}
