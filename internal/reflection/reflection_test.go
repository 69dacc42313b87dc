package reflection

import (
	"io"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTag(t *testing.T) {
	tests := []struct {
		name     string
		tag      string
		present  bool
		expected TagOptions
	}{
		{
			name:     "absent",
			present:  false,
			expected: TagOptions{},
		},
		{
			name:     "by type",
			tag:      "",
			present:  true,
			expected: TagOptions{Present: true},
		},
		{
			name:     "named",
			tag:      "userService",
			present:  true,
			expected: TagOptions{Present: true, Name: "userService"},
		},
		{
			name:     "optional",
			tag:      ",optional",
			present:  true,
			expected: TagOptions{Present: true, Optional: true},
		},
		{
			name:     "named optional",
			tag:      "cache,optional",
			present:  true,
			expected: TagOptions{Present: true, Name: "cache", Optional: true},
		},
		{
			name:     "skip",
			tag:      "-",
			present:  true,
			expected: TagOptions{Present: true, Skip: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseTag(tt.tag, tt.present))
		})
	}
}

type describeTarget struct {
	DB      *int   `wire:""`
	Cache   string `wire:"cache,optional"`
	Ignored bool   `wire:"-"`
	Plain   int

	hidden string
}

func TestDescribe(t *testing.T) {
	a := NewAnalyzer()

	t.Run("struct fields", func(t *testing.T) {
		d := a.Describe(reflect.TypeOf(describeTarget{}))
		require.NotNil(t, d)

		// Unexported fields are not described.
		assert.Len(t, d.Fields, 4)

		db, ok := d.FieldByName("DB")
		require.True(t, ok)
		assert.True(t, db.Injectable())
		assert.Equal(t, reflect.TypeOf((*int)(nil)), db.Type)

		cache, ok := d.FieldByName("Cache")
		require.True(t, ok)
		assert.Equal(t, "cache", cache.Tag.Name)
		assert.True(t, cache.Tag.Optional)

		ignored, ok := d.FieldByName("Ignored")
		require.True(t, ok)
		assert.False(t, ignored.Injectable())

		plain, ok := d.FieldByName("Plain")
		require.True(t, ok)
		assert.False(t, plain.Injectable())
	})

	t.Run("pointer derefs to element", func(t *testing.T) {
		d := a.Describe(reflect.TypeOf(&describeTarget{}))
		require.NotNil(t, d)
		assert.Equal(t, reflect.TypeOf(describeTarget{}), d.Type)
	})

	t.Run("cached", func(t *testing.T) {
		d1 := a.Describe(reflect.TypeOf(describeTarget{}))
		d2 := a.Describe(reflect.TypeOf(describeTarget{}))
		assert.Same(t, d1, d2)
	})

	t.Run("non struct", func(t *testing.T) {
		assert.Nil(t, a.Describe(reflect.TypeOf(42)))
		assert.Nil(t, a.Describe(nil))
	})

	t.Run("missing field", func(t *testing.T) {
		d := a.Describe(reflect.TypeOf(describeTarget{}))
		_, ok := d.FieldByName("Nope")
		assert.False(t, ok)
	})
}

type assignTarget struct{}

func (assignTarget) Read([]byte) (int, error) { return 0, io.EOF }

func TestAssignable(t *testing.T) {
	readerType := reflect.TypeOf((*io.Reader)(nil)).Elem()

	assert.True(t, Assignable(reflect.TypeOf(42), reflect.TypeOf(42)))
	assert.True(t, Assignable(reflect.TypeOf(assignTarget{}), readerType))
	assert.False(t, Assignable(reflect.TypeOf(42), reflect.TypeOf("")))
	assert.False(t, Assignable(nil, reflect.TypeOf(42)))
	assert.False(t, Assignable(reflect.TypeOf(42), nil))
}

func NamedConstructor() int { return 0 }

func TestFuncName(t *testing.T) {
	assert.Equal(t, "NamedConstructor", FuncName(reflect.ValueOf(NamedConstructor)))
	assert.Equal(t, "", FuncName(reflect.ValueOf(42)))
	assert.Equal(t, "", FuncName(reflect.ValueOf((func())(nil))))
}

func TestExported(t *testing.T) {
	assert.True(t, Exported("NewServer"))
	assert.False(t, Exported("newServer"))
	assert.False(t, Exported("func1"))
	assert.False(t, Exported(""))
}
