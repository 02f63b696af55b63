package jsonpatch

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func TestPathEscapesDottedKeys(t *testing.T) {
	doc := []byte(`{"usageStats":{"openai:me@example.com":{"errorCount":3}}}`)
	p := Path("usageStats", "openai:me@example.com", "errorCount")

	assert.Equal(t, int64(3), gjson.GetBytes(doc, p).Int())

	out, err := sjson.SetBytes(doc, p, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gjson.GetBytes(out, p).Int())
	assert.False(t, gjson.GetBytes(out, "usageStats.openai:me@example").Exists())
}

func TestUpdate_RewritesIndented(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"a":{"b":1},"keep":"x"}`), 0o640))

	err := Update(path, func(doc []byte) ([]byte, error) {
		return sjson.SetBytes(doc, "a.b", 2)
	})
	require.NoError(t, err)

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, int64(2), gjson.GetBytes(raw, "a.b").Int())
	assert.Equal(t, "x", gjson.GetBytes(raw, "keep").String())
	assert.Contains(t, string(raw), "\n  \"keep\"")

	st, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), st.Mode().Perm())

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file left behind")
}

func TestUpdate_NoChangeSkipsWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	orig := []byte(`{"a":1}`)
	require.NoError(t, os.WriteFile(path, orig, 0o600))

	require.NoError(t, Update(path, func([]byte) ([]byte, error) { return nil, ErrNoChange }))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, orig, raw)
}

func TestUpdate_Failures(t *testing.T) {
	dir := t.TempDir()

	err := Update(filepath.Join(dir, "missing.json"), func(doc []byte) ([]byte, error) { return doc, nil })
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{nope"), 0o600))
	assert.Error(t, Update(bad, func(doc []byte) ([]byte, error) { return doc, nil }))

	boom := errors.New("boom")
	good := filepath.Join(dir, "good.json")
	require.NoError(t, os.WriteFile(good, []byte(`{}`), 0o600))
	assert.ErrorIs(t, Update(good, func([]byte) ([]byte, error) { return nil, boom }), boom)
}
