package workertable_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tjper/raceworker/internal/coordinator/workertable"
)

func TestTransitionLegalEdges(t *testing.T) {
	tbl := workertable.New(1)
	tbl.Init(0, 100, nil, nil)
	r := tbl.Records()[0]

	require.Equal(t, workertable.Started, r.State())

	edges := []workertable.State{
		workertable.Idle,
		workertable.Continued,
		workertable.Running,
		workertable.Stopped,
		workertable.Idle,
	}
	for _, to := range edges {
		require.NoError(t, tbl.Transition(r, to))
		require.Equal(t, to, r.State())
	}

	require.Equal(t, int32(1), tbl.Idle())
}

func TestTransitionIllegalEdge(t *testing.T) {
	tbl := workertable.New(1)
	tbl.Init(0, 100, nil, nil)
	r := tbl.Records()[0]

	err := tbl.Transition(r, workertable.Running)
	require.ErrorIs(t, err, workertable.ErrIllegalTransition)
}

func TestTransitionToTerminalAlwaysLegal(t *testing.T) {
	tbl := workertable.New(2)
	tbl.Init(0, 100, nil, nil)
	tbl.Init(1, 101, nil, nil)

	require.NoError(t, tbl.Transition(tbl.Records()[0], workertable.Exited))
	require.NoError(t, tbl.Transition(tbl.Records()[1], workertable.Aborted))
	require.Equal(t, int32(0), tbl.Alive())
	require.True(t, tbl.AllExited() == false) // one record Aborted, not Exited
}

func TestCountersTrackIdleAndStopped(t *testing.T) {
	tbl := workertable.New(3)
	for i := 0; i < 3; i++ {
		tbl.Init(i, 100+i, nil, nil)
		require.NoError(t, tbl.Transition(tbl.Records()[i], workertable.Idle))
	}
	require.True(t, tbl.AllIdle())

	require.NoError(t, tbl.Transition(tbl.Records()[0], workertable.Continued))
	require.NoError(t, tbl.Transition(tbl.Records()[0], workertable.Running))
	require.NoError(t, tbl.Transition(tbl.Records()[0], workertable.Stopped))
	require.True(t, tbl.AnyStopped())
	require.Equal(t, int32(1), tbl.Stopped())
}

func TestByPid(t *testing.T) {
	tbl := workertable.New(2)
	tbl.Init(0, 111, nil, nil)
	tbl.Init(1, 222, nil, nil)

	require.Equal(t, 1, tbl.ByPid(222).ID)
	require.Nil(t, tbl.ByPid(999))
}
