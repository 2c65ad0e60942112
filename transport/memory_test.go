package transport

import (
	"testing"
	"time"

	"github.com/opd-ai/simsync/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryDelivery(t *testing.T) {
	network := NewMemoryNetwork()
	a, err := network.Listen("a")
	require.NoError(t, err)
	b, err := network.Listen("b")
	require.NoError(t, err)

	require.NoError(t, a.Send([]byte("ping"), b.LocalAddr()))

	data, from, err := b.ReadFrom(time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, []byte("ping"), data)
	assert.Equal(t, MemoryAddr("a"), from)
}

func TestMemoryListenDuplicate(t *testing.T) {
	network := NewMemoryNetwork()
	_, err := network.Listen("a")
	require.NoError(t, err)
	_, err = network.Listen("a")
	assert.ErrorIs(t, err, ErrAddressInUse)
}

func TestMemoryUnknownDestinationDrops(t *testing.T) {
	network := NewMemoryNetwork()
	a, _ := network.Listen("a")

	assert.NoError(t, a.Send([]byte("x"), MemoryAddr("nowhere")))
	_, dropped := network.Stats()
	assert.Equal(t, uint64(1), dropped)
}

func TestMemoryLossAndDuplication(t *testing.T) {
	network := NewMemoryNetwork()
	a, _ := network.Listen("a")
	b, _ := network.Listen("b")

	network.SetLoss(1)
	require.NoError(t, a.Send([]byte("lost"), b.LocalAddr()))
	_, _, err := b.ReadFrom(time.Now())
	assert.ErrorIs(t, err, interfaces.ErrTimeout)

	network.SetLoss(0)
	network.SetDuplication(1)
	require.NoError(t, a.Send([]byte("twice"), b.LocalAddr()))
	for i := 0; i < 2; i++ {
		data, _, err := b.ReadFrom(time.Now().Add(time.Second))
		require.NoError(t, err)
		assert.Equal(t, []byte("twice"), data)
	}
}

func TestMemoryPayloadIsCopied(t *testing.T) {
	network := NewMemoryNetwork()
	a, _ := network.Listen("a")
	b, _ := network.Listen("b")

	buf := []byte{1, 2, 3}
	require.NoError(t, a.Send(buf, b.LocalAddr()))
	buf[0] = 9

	data, _, err := b.ReadFrom(time.Now().Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, byte(1), data[0])
}

func TestMemoryReadTimeout(t *testing.T) {
	network := NewMemoryNetwork()
	a, _ := network.Listen("a")

	start := time.Now()
	_, _, err := a.ReadFrom(start.Add(30 * time.Millisecond))
	assert.ErrorIs(t, err, interfaces.ErrTimeout)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestMemoryClose(t *testing.T) {
	network := NewMemoryNetwork()
	a, _ := network.Listen("a")
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.ErrorIs(t, a.Send([]byte("x"), MemoryAddr("b")), interfaces.ErrClosed)
	_, _, err := a.ReadFrom(time.Now().Add(time.Second))
	assert.ErrorIs(t, err, interfaces.ErrClosed)

	// the name is free again
	_, err = network.Listen("a")
	assert.NoError(t, err)
}
