package mq

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRingWriteReadRoundTrip(t *testing.T) {
	r := NewRing(8)
	n, err := r.Write([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, 5, r.Used())
	require.Equal(t, 3, r.Left())

	buf := make([]byte, 5)
	n, err = r.Read(buf)
	require.NoError(t, err)
	require.Equal(t, 5, n)
	require.Equal(t, "hello", string(buf))
	require.True(t, r.Empty())
}

func TestRingWrapsAround(t *testing.T) {
	r := NewRing(4)
	_, err := r.Write([]byte("ab"))
	require.NoError(t, err)
	buf := make([]byte, 2)
	_, err = r.Read(buf)
	require.NoError(t, err)

	// head/tail have each advanced by 2, so the ring is empty again; the
	// 4-byte write starts at index 2 and wraps around the backing array.
	n, err := r.Write([]byte("cdef"))
	require.NoError(t, err)
	require.Equal(t, 4, n, "all 4 slots are free again after the read")

	out := make([]byte, 2)
	_, err = r.Read(out)
	require.NoError(t, err)
	require.Equal(t, "cd", string(out))
}

func TestRingFullRejectsWrite(t *testing.T) {
	r := NewRing(2)
	_, err := r.Write([]byte("xy"))
	require.NoError(t, err)
	_, err = r.Write([]byte("z"))
	require.ErrorIs(t, err, ErrFull)
}

func TestRingEmptyRejectsRead(t *testing.T) {
	r := NewRing(2)
	_, err := r.Read(make([]byte, 1))
	require.ErrorIs(t, err, ErrEmpty)
}

func TestOOMChannelCarriesNeedAndResume(t *testing.T) {
	ch := NewOOMChannel()
	go func() {
		ch <- OOMMsg_t{Need: 4, Resume: make(chan bool, 1)}
	}()
	msg := <-ch
	require.Equal(t, 4, msg.Need)
}
