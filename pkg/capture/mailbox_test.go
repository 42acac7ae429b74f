package capture

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMailbox(t *testing.T) {
	var m mailbox

	_, _, ok, lost := m.take()
	require.False(t, ok)
	require.Zero(t, lost)

	m.put(Frame("a"), FrameInfo{Length: 1})
	m.put(Frame("b"), FrameInfo{Length: 1})
	m.put(Frame("c"), FrameInfo{Length: 3000, Clamped: true})

	f, info, ok, lost := m.take()
	require.True(t, ok)
	require.Equal(t, Frame("c"), f)
	require.Equal(t, FrameInfo{Length: 3000, Clamped: true}, info)
	require.Equal(t, 2, lost)

	_, info, ok, _ = m.take()
	require.False(t, ok)
	require.Zero(t, info)
}
