package scanner

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/booth-checkin/internal/models"
)

func TestIdentifierCacheValidateBeforeRefresh(t *testing.T) {
	cache := NewIdentifierCache(&fakeSource{}, nil, nil)

	assert.Equal(t, Unknown, cache.Validate("zz99999"))
	assert.Equal(t, Invalid, cache.Validate("zz999"))
	assert.Equal(t, Invalid, cache.Validate("not-a-badge"))
}

func TestIdentifierCacheRefreshReplacesSnapshot(t *testing.T) {
	source := &fakeSource{snapshot: &models.IdentifierSnapshot{Identifiers: []string{"AB12345", "cd6789"}}}
	store := &memIdentifierStore{}
	cache := NewIdentifierCache(source, store, nil)

	cache.Refresh(context.Background())
	assert.Equal(t, Valid, cache.Validate("ab12345"))
	assert.Equal(t, Valid, cache.Validate("CD6789"))
	assert.Equal(t, Unknown, cache.Validate("ef1111"))
	assert.ElementsMatch(t, []string{"ab12345", "cd6789"}, store.ids)
	assert.False(t, cache.RefreshedAt().IsZero())

	source.snapshot = &models.IdentifierSnapshot{Identifiers: []string{"ef1111"}}
	cache.Refresh(context.Background())
	assert.Equal(t, Unknown, cache.Validate("ab12345"))
	assert.Equal(t, Valid, cache.Validate("ef1111"))
	assert.Equal(t, 1, cache.Size())
}

func TestIdentifierCacheKeepsSnapshotOnFailure(t *testing.T) {
	source := &fakeSource{snapshot: &models.IdentifierSnapshot{Identifiers: []string{"ab12345"}}}
	cache := NewIdentifierCache(source, nil, nil)
	cache.Refresh(context.Background())

	source.snapshot, source.err = nil, errors.New("offline")
	cache.Refresh(context.Background())
	assert.Equal(t, Valid, cache.Validate("ab12345"))

	source.snapshot, source.err = &models.IdentifierSnapshot{Identifiers: []string{}}, nil
	cache.Refresh(context.Background())
	assert.Equal(t, Valid, cache.Validate("ab12345"))
	assert.Equal(t, 3, source.calls)
}

func TestIdentifierCacheLoadRestoresPersistedSnapshot(t *testing.T) {
	store := &memIdentifierStore{}
	first := NewIdentifierCache(&fakeSource{snapshot: &models.IdentifierSnapshot{Identifiers: []string{"ab12345"}}}, store, nil)
	first.Refresh(context.Background())

	restarted := NewIdentifierCache(&fakeSource{err: errors.New("offline")}, store, nil)
	restarted.Load(context.Background())
	require.Equal(t, 1, restarted.Size())
	assert.Equal(t, Valid, restarted.Validate("ab12345"))
	assert.True(t, restarted.RefreshedAt().Equal(first.RefreshedAt()))
}
