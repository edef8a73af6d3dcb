package checkpoint

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/alecthomas/assert/v2"
)

func TestFile(t *testing.T) {
	t.Run("write then read", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "loop.checkpoint"))

		positions := map[Partition]int64{
			{Topic: "clicks", Partition: 0}:                 100,
			{Topic: "javaproducer-locations", Partition: 1}: 0,
		}
		assert.NoError(t, f.write(positions))

		got, err := f.read()
		assert.NoError(t, err)
		assert.Equal(t, positions, got)
	})

	t.Run("file format", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loop.checkpoint")
		f := NewFile(path)
		assert.NoError(t, f.write(map[Partition]int64{
			{Topic: "clicks", Partition: 1}: 7,
			{Topic: "clicks", Partition: 0}: 42,
		}))

		data, err := os.ReadFile(path)
		assert.NoError(t, err)
		assert.Equal(t, "0\n2\nclicks 0 42\nclicks 1 7\n", string(data))

		_, err = os.Stat(path + ".tmp")
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("missing file is empty", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "nope", "loop.checkpoint"))

		got, err := f.read()
		assert.NoError(t, err)
		assert.Equal(t, 0, len(got))

		_, ok, err := f.Position(Partition{Topic: "clicks"})
		assert.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("save merges entries", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "dir", "loop.checkpoint"))

		assert.NoError(t, f.Save(Partition{Topic: "clicks", Partition: 0}, 5))
		assert.NoError(t, f.Save(Partition{Topic: "clicks", Partition: 1}, 9))
		assert.NoError(t, f.Save(Partition{Topic: "clicks", Partition: 0}, 6))

		offset, ok, err := f.Position(Partition{Topic: "clicks", Partition: 0})
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, int64(6), offset)

		got, err := f.read()
		assert.NoError(t, err)
		assert.Equal(t, 2, len(got))
	})

	t.Run("writing nothing deletes", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "loop.checkpoint")
		f := NewFile(path)
		assert.NoError(t, f.write(map[Partition]int64{{Topic: "clicks"}: 1}))
		assert.NoError(t, f.write(nil))

		_, err := os.Stat(path)
		assert.True(t, os.IsNotExist(err))
		assert.NoError(t, f.delete())
	})

	t.Run("rejects invalid entries on write", func(t *testing.T) {
		f := NewFile(filepath.Join(t.TempDir(), "loop.checkpoint"))
		assert.Error(t, f.write(map[Partition]int64{{Topic: "clicks"}: -1}))
		assert.Error(t, f.write(map[Partition]int64{{Topic: "two words"}: 1}))
	})
}

func TestFileCorrupt(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "empty", content: ""},
		{name: "bad version", content: "x\n1\nclicks 0 1\n"},
		{name: "unknown version", content: "1\n1\nclicks 0 1\n"},
		{name: "missing count", content: "0\n"},
		{name: "count mismatch", content: "0\n2\nclicks 0 1\n"},
		{name: "short entry", content: "0\n1\nclicks 0\n"},
		{name: "bad partition", content: "0\n1\nclicks p 1\n"},
		{name: "bad offset", content: "0\n1\nclicks 0 o\n"},
		{name: "negative offset", content: "0\n1\nclicks 0 -4\n"},
		{name: "empty line", content: "0\n1\n\nclicks 0 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "loop.checkpoint")
			assert.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			_, err := NewFile(path).read()
			assert.Error(t, err)
		})
	}
}
