package handles

import (
	"sync"
	"testing"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type server struct{ name string }

func TestTableTranslation(t *testing.T) {
	a, b := &server{"a"}, &server{"b"}
	mems := NewTable[*server](cl.KindMem, 16)

	ha, err := mems.Insert(a, 100)
	require.NoError(t, err)
	hb, err := mems.Insert(b, 100)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb, "same peer id on two servers yields two handles")

	t.Run("local to peer and back", func(t *testing.T) {
		peer, ok := mems.Peer(ha)
		require.True(t, ok)
		assert.Equal(t, PeerID(100), peer)

		h, ok := mems.Local(a, peer)
		require.True(t, ok)
		assert.Equal(t, ha, h)

		h, ok = mems.Local(b, peer)
		require.True(t, ok)
		assert.Equal(t, hb, h)
	})

	t.Run("record carries its server", func(t *testing.T) {
		rec, ok := mems.Lookup(hb)
		require.True(t, ok)
		assert.Same(t, b, rec.Server)
	})

	t.Run("stale handle", func(t *testing.T) {
		assert.True(t, mems.Remove(ha))
		assert.False(t, mems.Remove(ha), "double release")

		_, err := mems.Resolve(ha)
		assert.Equal(t, cl.InvalidMemObject, err)
		_, ok := mems.Local(a, 100)
		assert.False(t, ok)
	})

	t.Run("unknown handle", func(t *testing.T) {
		_, err := NewTable[*server](cl.KindQueue, 1).Resolve(12345)
		assert.Equal(t, cl.InvalidCommandQueue, err)
	})
}

func TestTableCapacity(t *testing.T) {
	s := &server{"s"}
	tbl := NewTable[*server](cl.KindEvent, 2)
	_, err := tbl.Insert(s, 1)
	require.NoError(t, err)
	h, err := tbl.Insert(s, 2)
	require.NoError(t, err)

	_, err = tbl.Insert(s, 3)
	assert.ErrorIs(t, err, ErrCapacity)
	assert.Equal(t, cl.OutOfResources, cl.StatusOf(err))

	tbl.Remove(h)
	_, err = tbl.Insert(s, 3)
	assert.NoError(t, err)
}

func TestIntern(t *testing.T) {
	s := &server{"s"}
	devices := NewTable[*server](cl.KindDevice, 8)

	h1, err := devices.Intern(s, 7)
	require.NoError(t, err)
	h2, err := devices.Intern(s, 7)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, 1, devices.Len())
}

func TestHandlesUniqueAcrossKinds(t *testing.T) {
	s := &server{"s"}
	queues := NewTable[*server](cl.KindQueue, 8)
	kernels := NewTable[*server](cl.KindKernel, 8)

	hq, err := queues.Insert(s, 1)
	require.NoError(t, err)
	hk, err := kernels.Insert(s, 1)
	require.NoError(t, err)
	assert.NotEqual(t, hq, hk)

	_, ok := kernels.Lookup(hq)
	assert.False(t, ok)
}

func TestRemoveServer(t *testing.T) {
	a, b := &server{"a"}, &server{"b"}
	tbl := NewTable[*server](cl.KindContext, 8)
	for i := 0; i < 3; i++ {
		_, err := tbl.Insert(a, PeerID(i))
		require.NoError(t, err)
	}
	hb, err := tbl.Insert(b, 0)
	require.NoError(t, err)

	assert.Equal(t, 3, tbl.RemoveServer(a))
	assert.Equal(t, 1, tbl.Len())
	_, ok := tbl.Lookup(hb)
	assert.True(t, ok)
}

func TestTableChurn(t *testing.T) {
	s := &server{"s"}
	tbl := NewTable[*server](cl.KindMem, 1<<16)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				peer := PeerID(w<<20 | i)
				h, err := tbl.Insert(s, peer)
				if !assert.NoError(t, err) {
					return
				}
				got, ok := tbl.Peer(h)
				assert.True(t, ok)
				assert.Equal(t, peer, got)
				back, ok := tbl.Local(s, peer)
				assert.True(t, ok)
				assert.Equal(t, h, back)
				if i%2 == 0 {
					assert.True(t, tbl.Remove(h))
					_, ok := tbl.Lookup(h)
					assert.False(t, ok)
				}
			}
		}(w)
	}
	wg.Wait()
	assert.Equal(t, 8*250, tbl.Len())
}

func TestDefaultCapacity(t *testing.T) {
	assert.Equal(t, 1<<16, DefaultCapacity(cl.KindPlatform))
	assert.Equal(t, 1<<16, DefaultCapacity(cl.KindQueue))
	assert.Equal(t, 1<<20, DefaultCapacity(cl.KindMem))
	assert.Equal(t, 1<<20, DefaultCapacity(cl.KindEvent))
}
