package blob

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	s := NewStore()
	id := s.Put("image/png", []byte("abc"))
	require.NotEmpty(t, id)

	b, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "image/png", b.MediaType)
	assert.Equal(t, []byte("abc"), b.Data)
	assert.Equal(t, 1, s.Len())

	s.Revoke(id)
	s.Revoke(id)
	s.Revoke("")
	_, err = s.Get(id)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, 0, s.Len())
}

func TestStore_Sweep(t *testing.T) {
	s := NewStore()
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	old := s.Put("image/png", nil)
	kept := s.Put("image/png", nil)
	now = now.Add(time.Hour)
	fresh := s.Put("image/png", nil)

	removed := s.Sweep(30*time.Minute, map[string]bool{kept: true})
	assert.Equal(t, 1, removed)

	_, err := s.Get(old)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.Get(kept)
	assert.NoError(t, err)
	_, err = s.Get(fresh)
	assert.NoError(t, err)
}
