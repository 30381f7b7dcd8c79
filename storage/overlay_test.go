package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestOverlayIsolatesWritesUntilFlush(t *testing.T) {
	base := NewMemDB()
	defer base.Close()

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("alpha"), []byte{0x01}))

	got, err := overlay.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, got)

	_, err = base.Get([]byte("alpha"))
	require.Error(t, err, "base must not observe unflushed writes")

	require.NoError(t, overlay.Flush())

	got, err = base.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, got)
}

func TestOverlayDiscardDropsWrites(t *testing.T) {
	base := NewMemDB()
	defer base.Close()
	require.NoError(t, base.Put([]byte("alpha"), []byte{0x01}))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("alpha"), []byte{0x02}))
	require.NoError(t, overlay.Put([]byte("beta"), []byte{0x03}))
	overlay.Discard()

	got, err := overlay.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x01}, got, "discarded overlay must read through to base")

	require.NoError(t, overlay.Flush())
	_, err = base.Get([]byte("beta"))
	require.Error(t, err)
}

func TestOverlayShadowsBaseValue(t *testing.T) {
	base := NewMemDB()
	defer base.Close()
	require.NoError(t, base.Put([]byte("alpha"), []byte{0x01}))

	overlay := NewOverlay(base)
	require.NoError(t, overlay.Put([]byte("alpha"), []byte{0x02}))

	got, err := overlay.Get([]byte("alpha"))
	require.NoError(t, err)
	require.Equal(t, []byte{0x02}, got)
}
