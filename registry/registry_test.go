package registry

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rediwo/redi-migrate/dialect"
)

func clearRegistry() {
	mu.Lock()
	defer mu.Unlock()
	drivers = make(map[dialect.Type]DriverFactory)
}

func nilFactory(uri string) (Driver, error) {
	return nil, nil
}

func TestRegisterAndGet(t *testing.T) {
	clearRegistry()

	Register(dialect.SQLite, nilFactory)

	factory, err := Get(dialect.SQLite)
	require.NoError(t, err)
	assert.NotNil(t, factory)

	_, err = Get(dialect.MySQL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestRegisterDuplicatePanics(t *testing.T) {
	clearRegistry()

	Register(dialect.SQLite, nilFactory)
	assert.Panics(t, func() {
		Register(dialect.SQLite, nilFactory)
	})
}

func TestOpen(t *testing.T) {
	clearRegistry()

	var gotURI string
	Register(dialect.SQLite, func(uri string) (Driver, error) {
		gotURI = uri
		return nil, nil
	})

	_, err := Open("sqlite:///tmp/app.db")
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///tmp/app.db", gotURI)
}

func TestOpenErrors(t *testing.T) {
	clearRegistry()

	_, err := Open("no-scheme")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no scheme")

	_, err = Open("oracle://localhost/db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown datasource scheme")

	// Known scheme, but the driver package was never imported.
	_, err = Open("postgres://localhost/db")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not registered")
}

func TestConcurrentAccess(t *testing.T) {
	clearRegistry()

	types := []dialect.Type{dialect.SQLite, dialect.MySQL, dialect.PostgreSQL}

	var wg sync.WaitGroup
	for _, dt := range types {
		wg.Add(2)
		go func(dt dialect.Type) {
			defer wg.Done()
			Register(dt, nilFactory)
		}(dt)
		go func(dt dialect.Type) {
			defer wg.Done()
			Get(dt)
		}(dt)
	}
	wg.Wait()

	for _, dt := range types {
		_, err := Get(dt)
		require.NoError(t, err, fmt.Sprintf("driver %s missing after concurrent registration", dt))
	}
}
