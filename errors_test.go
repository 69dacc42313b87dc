package trellis

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSentinelErrors(t *testing.T) {
	sentinels := []struct {
		err     error
		message string
	}{
		{ErrNotFound, "no matching component"},
		{ErrNotUnique, "more than one matching component"},
		{ErrContainerClosed, "container has been closed"},
		{ErrDefinitionNil, "definition cannot be nil"},
		{ErrNameEmpty, "component name cannot be empty"},
		{ErrDefinitionFrozen, "definition is frozen; reset it before mutating"},
	}

	for _, tt := range sentinels {
		t.Run(tt.message, func(t *testing.T) {
			require.NotNil(t, tt.err)
			assert.Equal(t, tt.message, tt.err.Error())
		})
	}
}

func TestNotFoundError(t *testing.T) {
	t.Run("by name", func(t *testing.T) {
		err := NotFoundError{Name: "userService"}
		assert.Contains(t, err.Error(), `no component named "userService"`)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("by type", func(t *testing.T) {
		err := NotFoundError{Type: reflect.TypeOf("")}
		assert.Contains(t, err.Error(), "no component of type string")
	})

	t.Run("suggestions", func(t *testing.T) {
		err := NotFoundError{
			Name:      "userServ",
			Available: []string{"userService", "orderService"},
		}
		assert.Contains(t, err.Error(), "Did you mean")
		assert.Contains(t, err.Error(), "userService")
		assert.NotContains(t, err.Error(), "orderService")
	})

	t.Run("no suggestions without names", func(t *testing.T) {
		err := NotFoundError{Name: "userServ"}
		assert.NotContains(t, err.Error(), "Did you mean")
	})
}

func TestNotUniqueError(t *testing.T) {
	err := NotUniqueError{
		Type:       reflect.TypeOf(""),
		Member:     "Repo",
		Candidates: []string{"primaryRepo", "replicaRepo"},
		Reason:     "more than one definition is marked primary",
	}

	assert.ErrorIs(t, err, ErrNotUnique)
	assert.Contains(t, err.Error(), "found 2: primaryRepo, replicaRepo")
	assert.Contains(t, err.Error(), "marked primary")
}

func TestCircularCreationError(t *testing.T) {
	err := CircularCreationError{
		Name:  "a",
		Chain: []string{"a", "b"},
	}

	assert.Contains(t, err.Error(), `circular reference while creating "a"`)
	assert.Contains(t, err.Error(), "a -> b -> a")
	assert.Contains(t, err.Error(), "property injection")
}

func TestUnsatisfiedDependencyError(t *testing.T) {
	cause := NotFoundError{Name: "db"}
	err := UnsatisfiedDependencyError{
		Component: "server",
		Member:    "DB",
		Type:      reflect.TypeOf(""),
		Cause:     cause,
	}

	assert.Contains(t, err.Error(), `unsatisfied dependency of "server" at DB`)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestConstructionError(t *testing.T) {
	t.Run("wraps cause", func(t *testing.T) {
		cause := errors.New("dial failed")
		err := ConstructionError{Name: "db", Cause: cause}

		assert.Contains(t, err.Error(), `failed to construct "db"`)
		assert.ErrorIs(t, err, cause)
	})

	t.Run("suppressed", func(t *testing.T) {
		err := ConstructionError{
			Name:       "db",
			Cause:      errors.New("last candidate failed"),
			Suppressed: []error{errors.New("wide candidate failed")},
		}

		assert.Contains(t, err.Error(), "suppressed 1: wide candidate failed")
	})
}

func TestConstructionPanicError(t *testing.T) {
	err := ConstructionPanicError{
		Name:        "db",
		Constructor: reflect.TypeOf(func() {}),
		Panic:       "boom",
		Stack:       []byte("goroutine 1"),
	}

	assert.Contains(t, err.Error(), "panicked: boom")
	assert.Contains(t, err.Error(), "goroutine 1")
}

func TestAmbiguousConstructorError(t *testing.T) {
	err := AmbiguousConstructorError{
		Name:   "server",
		Weight: -1024,
		Candidates: []reflect.Type{
			reflect.TypeOf(func(int) {}),
			reflect.TypeOf(func(string) {}),
		},
	}

	assert.Contains(t, err.Error(), `ambiguous constructor match for "server"`)
	assert.Contains(t, err.Error(), "weight -1024")
}

func TestRegistrationError(t *testing.T) {
	err := RegistrationError{Name: "db", Operation: "register", Cause: ErrNameEmpty}

	assert.Contains(t, err.Error(), `failed to register "db"`)
	assert.ErrorIs(t, err, ErrNameEmpty)
}

func TestValidationError(t *testing.T) {
	cause := fmt.Errorf("bad definition")

	err := ValidationError{Name: "db", Cause: cause}
	assert.Contains(t, err.Error(), `invalid definition "db"`)
	assert.ErrorIs(t, err, cause)

	anonymous := ValidationError{Cause: cause}
	assert.Equal(t, "bad definition", anonymous.Error())
}

func TestFormatType(t *testing.T) {
	type local struct{}

	tests := []struct {
		typ      reflect.Type
		expected string
	}{
		{reflect.TypeOf(local{}), "local"},
		{reflect.TypeOf(&local{}), "*local"},
		{reflect.TypeOf([]local{}), "[]local"},
		{reflect.TypeOf(map[string]int{}), "map[string]int"},
		{reflect.TypeOf(42), "int"},
		{nil, "<nil>"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, formatType(tt.typ))
	}
}
