// Package jsonpatch applies read-modify-write edits to whole JSON documents
// owned by the gateway. There is no locking against other writers; the last
// writer wins.
package jsonpatch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/pretty"
)

// ErrNoChange can be returned by an edit func to skip the write.
var ErrNoChange = errors.New("no change")

var prettyOptions = &pretty.Options{Width: 80, Prefix: "", Indent: "  ", SortKeys: false}

// Key escapes one path component for gjson/sjson so ids containing dots or
// wildcards address a single key.
func Key(component string) string {
	var b strings.Builder
	for _, r := range component {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Path joins escaped components with dots.
func Path(components ...string) string {
	parts := make([]string, len(components))
	for i, c := range components {
		parts[i] = Key(c)
	}
	return strings.Join(parts, ".")
}

// Update reads path, hands the document to edit, and replaces the file with
// the re-indented result. The replacement goes through a temp file in the
// same directory followed by a rename.
func Update(path string, edit func(doc []byte) ([]byte, error)) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	if !gjson.ValidBytes(raw) {
		return fmt.Errorf("parsing %s: invalid JSON", path)
	}
	next, err := edit(raw)
	if errors.Is(err, ErrNoChange) {
		return nil
	}
	if err != nil {
		return err
	}
	return WriteFile(path, pretty.PrettyOptions(next, prettyOptions))
}

// WriteFile replaces path atomically, keeping the original file mode when
// the file already exists.
func WriteFile(path string, data []byte) error {
	mode := os.FileMode(0o600)
	if st, err := os.Stat(path); err == nil {
		mode = st.Mode().Perm()
	}
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}
