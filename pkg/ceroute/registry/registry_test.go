package registry_test

import (
	"sync"
	"testing"

	"github.com/randalmurphal/ceroute/pkg/ceroute/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndLookup(t *testing.T) {
	r := registry.New[int]("widget")

	require.NoError(t, r.Register("one", 1))
	require.NoError(t, r.Register("two", 2))

	v, err := r.Lookup("two")
	require.NoError(t, err)
	assert.Equal(t, 2, v)
	assert.True(t, r.Has("one"))
	assert.Equal(t, []string{"one", "two"}, r.Names())
	assert.Equal(t, 2, r.Len())
}

func TestRegisterDuplicate(t *testing.T) {
	r := registry.New[int]("widget")
	require.NoError(t, r.Register("one", 1))

	err := r.Register("one", 2)
	assert.ErrorIs(t, err, registry.ErrDuplicate)
	assert.ErrorContains(t, err, `widget "one"`)

	v, _ := r.Lookup("one")
	assert.Equal(t, 1, v, "duplicate must not overwrite")
}

func TestRegisterEmptyName(t *testing.T) {
	r := registry.New[int]("widget")
	assert.Error(t, r.Register("", 1))
}

func TestLookupMissing(t *testing.T) {
	r := registry.New[string]("router")

	_, err := r.Lookup("nope")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	assert.ErrorContains(t, err, `router "nope"`)
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	r := registry.New[int]("widget")
	r.MustRegister("one", 1)

	assert.Panics(t, func() { r.MustRegister("one", 1) })
}

func TestConcurrentAccess(t *testing.T) {
	r := registry.New[int]("widget")
	var wg sync.WaitGroup

	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(n int) {
			defer wg.Done()
			_ = r.Register(string(rune('a'+n%26))+"-x", n)
		}(i)
		go func() {
			defer wg.Done()
			_ = r.Names()
			_ = r.Has("a-x")
		}()
	}
	wg.Wait()

	assert.Equal(t, 26, r.Len())
}
