package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func recorder(name string, log *[]string, startErr error) Func {
	return Func{
		ServiceName: name,
		StartFunc: func(context.Context) error {
			*log = append(*log, "start "+name)
			return startErr
		},
		StopFunc: func(context.Context) error {
			*log = append(*log, "stop "+name)
			return nil
		},
	}
}

func TestManagerOrder(t *testing.T) {
	var log []string
	m := NewManager()
	require.NoError(t, m.Register(recorder("a", &log, nil)))
	require.NoError(t, m.Register(recorder("b", &log, nil)))
	assert.Error(t, m.Register(recorder("a", &log, nil)))

	ctx := context.Background()
	require.NoError(t, m.Start(ctx))
	require.NoError(t, m.Stop(ctx))

	assert.Equal(t, []string{"start a", "start b", "stop b", "stop a"}, log)
	assert.Equal(t, []string{"a", "b"}, m.Names())
}

func TestManagerRollsBackOnStartFailure(t *testing.T) {
	var log []string
	boom := errors.New("boom")
	m := NewManager()
	require.NoError(t, m.Register(recorder("a", &log, nil)))
	require.NoError(t, m.Register(recorder("b", &log, boom)))
	require.NoError(t, m.Register(recorder("c", &log, nil)))

	err := m.Start(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"start a", "start b", "stop a"}, log)

	// Nothing left running.
	require.NoError(t, m.Stop(context.Background()))
	assert.Len(t, log, 3)
}

func TestManagerRejectsLateRegistration(t *testing.T) {
	m := NewManager()
	require.NoError(t, m.Register(Func{ServiceName: "a"}))
	require.NoError(t, m.Start(context.Background()))
	assert.Error(t, m.Register(Func{ServiceName: "b"}))
}
