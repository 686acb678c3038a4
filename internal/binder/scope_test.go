package binder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScopeGetWalksAncestors(t *testing.T) {
	root := NewScope(nil)
	child := NewScope(root)

	root.Set("theme", "dark")

	v, ok := child.Get("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", v)

	_, ok = child.Get("missing")
	assert.False(t, ok)
}

func TestScopeSetOverwritesWhereKeyLives(t *testing.T) {
	root := NewScope(nil)
	child := NewScope(root)

	root.Set("theme", "dark")
	child.Set("theme", "light")

	// The ancestor's entry was overwritten; the child holds nothing.
	v, ok := root.Get("theme")
	require.True(t, ok)
	assert.Equal(t, "light", v)

	child.Delete("theme")
	v, ok = child.Get("theme")
	require.True(t, ok)
	assert.Equal(t, "light", v)
}

func TestScopeSetNewKeyStaysLocal(t *testing.T) {
	root := NewScope(nil)
	child := NewScope(root)

	child.Set("draft", "hello")

	_, ok := root.Get("draft")
	assert.False(t, ok)

	v, ok := child.Get("draft")
	require.True(t, ok)
	assert.Equal(t, "hello", v)
}

func TestScopeDeleteIsLocal(t *testing.T) {
	root := NewScope(nil)
	child := NewScope(root)

	root.Set("theme", "dark")
	child.Delete("theme")

	v, ok := child.Get("theme")
	require.True(t, ok)
	assert.Equal(t, "dark", v)
}
