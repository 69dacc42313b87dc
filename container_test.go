package trellis

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDB struct {
	dsn    string
	closed bool
}

func NewTestDB() *testDB { return &testDB{dsn: "default"} }

func (db *testDB) Close() error {
	db.closed = true
	return nil
}

type testServer struct {
	db *testDB
}

func NewTestServer(db *testDB) *testServer { return &testServer{db: db} }

func mustRegister(t *testing.T, c *Container, name string, opts ...DefinitionOption) {
	t.Helper()
	require.NoError(t, c.Register(name, NewDefinition(opts...)))
}

func TestNew(t *testing.T) {
	c := New()
	assert.NotEmpty(t, c.ID())

	other := New()
	assert.NotEqual(t, c.ID(), other.ID())
}

func TestRegister(t *testing.T) {
	t.Run("rejects bad input", func(t *testing.T) {
		c := New()

		err := c.Register("", NewDefinition(WithType(&testDB{})))
		assert.ErrorIs(t, err, ErrNameEmpty)

		err = c.Register("db", nil)
		assert.ErrorIs(t, err, ErrDefinitionNil)

		err = c.Register("db", NewDefinition())
		require.Error(t, err)
		var ve ValidationError
		assert.ErrorAs(t, err, &ve)
	})

	t.Run("replacement allowed before first resolution", func(t *testing.T) {
		c := New()
		mustRegister(t, c, "db", WithConstructor(NewTestDB))
		mustRegister(t, c, "db", WithConstructor(func() *testDB { return &testDB{dsn: "second"} }))

		db, err := GetNamed[*testDB](c, "db")
		require.NoError(t, err)
		assert.Equal(t, "second", db.dsn)
	})

	t.Run("replacement rejected after first resolution", func(t *testing.T) {
		c := New()
		mustRegister(t, c, "db", WithConstructor(NewTestDB))

		_, err := c.GetInstance("db")
		require.NoError(t, err)

		err = c.Register("db", NewDefinition(WithConstructor(NewTestDB)))
		assert.ErrorIs(t, err, ErrDefinitionFrozen)

		// New names are still accepted.
		mustRegister(t, c, "db2", WithConstructor(NewTestDB))
	})

	t.Run("rejected after close", func(t *testing.T) {
		c := New()
		require.NoError(t, c.Close())

		err := c.Register("db", NewDefinition(WithConstructor(NewTestDB)))
		assert.ErrorIs(t, err, ErrContainerClosed)
	})
}

func TestSingletonCaching(t *testing.T) {
	c := New()
	mustRegister(t, c, "db", WithConstructor(NewTestDB))

	first, err := c.GetInstance("db")
	require.NoError(t, err)
	second, err := c.GetInstance("db")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, []string{"db"}, c.SingletonNames())
}

func TestPrototypeScope(t *testing.T) {
	c := New()
	mustRegister(t, c, "db", WithConstructor(NewTestDB), WithScope(Prototype))

	first, err := c.GetInstance("db")
	require.NoError(t, err)
	second, err := c.GetInstance("db")
	require.NoError(t, err)

	assert.NotSame(t, first, second)
	assert.Empty(t, c.SingletonNames())
}

func TestGetInstanceNotFound(t *testing.T) {
	c := New()
	mustRegister(t, c, "userService", WithConstructor(NewTestDB))

	_, err := c.GetInstance("userServ")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "userService")
}

func TestGetNamed(t *testing.T) {
	c := New()
	mustRegister(t, c, "db", WithConstructor(NewTestDB))

	db, err := GetNamed[*testDB](c, "db")
	require.NoError(t, err)
	assert.NotNil(t, db)

	_, err = GetNamed[*testServer](c, "db")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGet(t *testing.T) {
	c := New()
	mustRegister(t, c, "db", WithConstructor(NewTestDB))

	db, err := Get[*testDB](c)
	require.NoError(t, err)
	assert.NotNil(t, db)

	_, err = Get[*testServer](c)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetInstanceByType(t *testing.T) {
	c := New()
	mustRegister(t, c, "db", WithConstructor(NewTestDB))

	v, err := c.GetInstanceByType(&testDB{})
	require.NoError(t, err)
	assert.IsType(t, &testDB{}, v)

	_, err = c.GetInstanceByType(nil)
	assert.Error(t, err)
}

func TestDependencyInjection(t *testing.T) {
	c := New()
	mustRegister(t, c, "db", WithConstructor(NewTestDB))
	mustRegister(t, c, "server", WithConstructor(NewTestServer))

	server, err := GetNamed[*testServer](c, "server")
	require.NoError(t, err)
	require.NotNil(t, server.db)

	db, err := GetNamed[*testDB](c, "db")
	require.NoError(t, err)
	assert.Same(t, db, server.db)
}

func TestRegisterInstance(t *testing.T) {
	t.Run("resolves by name and type", func(t *testing.T) {
		c := New()
		db := &testDB{dsn: "external"}
		require.NoError(t, c.RegisterInstance("db", db))

		got, err := c.GetInstance("db")
		require.NoError(t, err)
		assert.Same(t, db, got)

		mustRegister(t, c, "server", WithConstructor(NewTestServer))
		server, err := GetNamed[*testServer](c, "server")
		require.NoError(t, err)
		assert.Same(t, db, server.db)
	})

	t.Run("rejects collisions", func(t *testing.T) {
		c := New()
		require.NoError(t, c.RegisterInstance("db", &testDB{}))
		assert.Error(t, c.RegisterInstance("db", &testDB{}))
		assert.Error(t, c.Register("db", NewDefinition(WithConstructor(NewTestDB))))

		mustRegister(t, c, "server", WithConstructor(NewTestServer))
		assert.Error(t, c.RegisterInstance("server", &testServer{}))
	})

	t.Run("rejects nil", func(t *testing.T) {
		c := New()
		assert.Error(t, c.RegisterInstance("db", nil))
	})

	t.Run("closes closers on teardown", func(t *testing.T) {
		c := New()
		db := &testDB{}
		require.NoError(t, c.RegisterInstance("db", db))
		require.NoError(t, c.Close())
		assert.True(t, db.closed)
	})
}

func TestRegisterAlias(t *testing.T) {
	c := New()
	mustRegister(t, c, "postgres", WithConstructor(NewTestDB))
	require.NoError(t, c.RegisterAlias("db", "postgres"))

	direct, err := c.GetInstance("postgres")
	require.NoError(t, err)
	aliased, err := c.GetInstance("db")
	require.NoError(t, err)
	assert.Same(t, direct, aliased)

	assert.True(t, c.ContainsDefinition("db"))

	t.Run("rejects self reference", func(t *testing.T) {
		assert.Error(t, c.RegisterAlias("db", "db"))
	})

	t.Run("rejects definition collision", func(t *testing.T) {
		assert.Error(t, c.RegisterAlias("postgres", "other"))
	})

	t.Run("rejects empty names", func(t *testing.T) {
		assert.ErrorIs(t, c.RegisterAlias("", "postgres"), ErrNameEmpty)
		assert.ErrorIs(t, c.RegisterAlias("db2", ""), ErrNameEmpty)
	})
}

func TestRemoveDefinition(t *testing.T) {
	c := New()
	mustRegister(t, c, "db", WithConstructor(NewTestDB))

	_, err := c.GetInstance("db")
	require.NoError(t, err)

	require.NoError(t, c.RemoveDefinition("db"))
	assert.False(t, c.ContainsDefinition("db"))
	assert.Empty(t, c.SingletonNames())

	_, err = c.GetInstance("db")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, c.RemoveDefinition("missing"), ErrNotFound)
}

func TestResetDefinition(t *testing.T) {
	c := New()
	mustRegister(t, c, "db", WithConstructor(NewTestDB))

	first, err := c.GetInstance("db")
	require.NoError(t, err)

	def, ok := c.Definition("db")
	require.True(t, ok)
	assert.True(t, def.Frozen())
	assert.EqualValues(t, 1, def.SelectionCount())

	require.NoError(t, c.ResetDefinition("db"))
	assert.False(t, def.Frozen())

	second, err := c.GetInstance("db")
	require.NoError(t, err)
	assert.NotSame(t, first, second)
	assert.EqualValues(t, 2, def.SelectionCount())

	assert.ErrorIs(t, c.ResetDefinition("missing"), ErrNotFound)
}

func TestDefinitionNames(t *testing.T) {
	c := New()
	mustRegister(t, c, "db", WithConstructor(NewTestDB))
	mustRegister(t, c, "server", WithConstructor(NewTestServer))

	assert.Equal(t, []string{"db", "server"}, c.DefinitionNames())
}

func TestDependsOn(t *testing.T) {
	var order []string

	c := New()
	mustRegister(t, c, "migrations", WithConstructor(func() *testDB {
		order = append(order, "migrations")
		return &testDB{}
	}), NotAutowireCandidate())
	mustRegister(t, c, "server", WithConstructor(func() *testServer {
		order = append(order, "server")
		return &testServer{}
	}), WithDependsOn("migrations"))

	_, err := c.GetInstance("server")
	require.NoError(t, err)
	assert.Equal(t, []string{"migrations", "server"}, order)
}

func TestBuild(t *testing.T) {
	var built []string

	c := New()
	mustRegister(t, c, "db", WithConstructor(func() *testDB {
		built = append(built, "db")
		return &testDB{}
	}))
	mustRegister(t, c, "lazy", WithConstructor(func() *testServer {
		built = append(built, "lazy")
		return &testServer{}
	}), Lazy())
	mustRegister(t, c, "proto", WithConstructor(func() *testServer {
		built = append(built, "proto")
		return &testServer{}
	}), WithScope(Prototype))

	require.NoError(t, c.Build())
	assert.Equal(t, []string{"db"}, built)

	t.Run("fails on broken definitions", func(t *testing.T) {
		c := New()
		mustRegister(t, c, "bad", WithConstructor(func() (*testDB, error) {
			return nil, errors.New("no database")
		}))
		assert.Error(t, c.Build())
	})

	t.Run("rejected after close", func(t *testing.T) {
		c := New()
		require.NoError(t, c.Close())
		assert.ErrorIs(t, c.Build(), ErrContainerClosed)
	})
}

func TestClose(t *testing.T) {
	t.Run("destroys dependents before dependencies", func(t *testing.T) {
		var destroyed []string
		record := func(name string) func(any) error {
			return func(any) error {
				destroyed = append(destroyed, name)
				return nil
			}
		}

		c := New()
		mustRegister(t, c, "db", WithConstructor(NewTestDB), WithDestroy(record("db")))
		mustRegister(t, c, "server", WithConstructor(NewTestServer), WithDestroy(record("server")))

		_, err := c.GetInstance("server")
		require.NoError(t, err)

		require.NoError(t, c.Close())
		assert.Equal(t, []string{"server", "db"}, destroyed)
	})

	t.Run("idempotent", func(t *testing.T) {
		c := New()
		require.NoError(t, c.Close())
		require.NoError(t, c.Close())
	})

	t.Run("collects disposal failures without aborting", func(t *testing.T) {
		var survived bool

		c := New()
		mustRegister(t, c, "bad", WithConstructor(NewTestDB), WithDestroy(func(any) error {
			return errors.New("flush failed")
		}))
		mustRegister(t, c, "good", WithConstructor(func() *testServer { return &testServer{} }), WithDestroy(func(any) error {
			survived = true
			return nil
		}))

		require.NoError(t, c.Build())

		err := c.Close()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "flush failed")
		assert.True(t, survived)
	})

	t.Run("resolution rejected after close", func(t *testing.T) {
		c := New()
		mustRegister(t, c, "db", WithConstructor(NewTestDB))
		require.NoError(t, c.Close())

		_, err := c.GetInstance("db")
		assert.ErrorIs(t, err, ErrContainerClosed)
	})
}

func TestCallbacks(t *testing.T) {
	t.Run("resolved", func(t *testing.T) {
		var name string
		var dur time.Duration

		c := New(WithResolvedCallback(func(n string, _ any, d time.Duration) {
			name = n
			dur = d
		}))
		mustRegister(t, c, "db", WithConstructor(NewTestDB))

		_, err := c.GetInstance("db")
		require.NoError(t, err)
		assert.Equal(t, "db", name)
		assert.GreaterOrEqual(t, dur, time.Duration(0))
	})

	t.Run("error", func(t *testing.T) {
		var failed string

		c := New(WithErrorCallback(func(n string, err error) {
			failed = n
		}))

		_, err := c.GetInstance("missing")
		require.Error(t, err)
		assert.Equal(t, "missing", failed)
	})

	t.Run("destroyed", func(t *testing.T) {
		var destroyed []string

		c := New(WithDestroyedCallback(func(n string, err error) {
			require.NoError(t, err)
			destroyed = append(destroyed, n)
		}))
		mustRegister(t, c, "db", WithConstructor(NewTestDB), WithDestroy(func(any) error { return nil }))

		_, err := c.GetInstance("db")
		require.NoError(t, err)
		require.NoError(t, c.Close())
		assert.Equal(t, []string{"db"}, destroyed)
	})

	t.Run("destroyed skips prototype consumers", func(t *testing.T) {
		var destroyed []string

		c := New(WithDestroyedCallback(func(n string, err error) {
			destroyed = append(destroyed, n)
		}))
		mustRegister(t, c, "db", WithConstructor(NewTestDB))
		mustRegister(t, c, "worker", WithConstructor(NewTestServer), WithScope(Prototype))

		// The prototype records a depends-on edge to db but never becomes a
		// shared instance; teardown must not report it destroyed.
		_, err := c.GetInstance("worker")
		require.NoError(t, err)

		require.NoError(t, c.Close())
		assert.Equal(t, []string{"db"}, destroyed)
	})
}
