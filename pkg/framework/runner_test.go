package framework

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test")

func waitCtx(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRunnerStopsOthers(t *testing.T) {
	runner := NewRunner().Go(
		NamedRun("wait", RunFunc(waitCtx)),
		NamedRun("fail", RunFunc(func(context.Context) error { return errTest })),
	)
	doneCh := make(chan error, 1)
	go func() { doneCh <- runner.Wait() }()
	select {
	case err := <-doneCh:
		require.ErrorIs(t, err, errTest)
	case <-time.After(time.Second):
		t.Fatal("runner not stopped")
	}
}

func TestRunnerStop(t *testing.T) {
	runner := NewRunner().Go(RunFunc(waitCtx), RunFunc(waitCtx))
	require.Len(t, runner.Runners, 2)
	runner.Stop()
	require.NoError(t, runner.Wait())
}

type closer struct {
	closed chan struct{}
}

func (c *closer) Close() error {
	select {
	case <-c.closed:
	default:
		close(c.closed)
	}
	return nil
}

func TestRunWithContextCloser(t *testing.T) {
	c := &closer{closed: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunWithContextCloser(ctx, c, func() error {
		<-c.closed
		return errTest
	})
	require.Equal(t, context.Canceled, err)

	c = &closer{closed: make(chan struct{})}
	err = RunWithContextCloser(context.Background(), c, func() error { return errTest })
	require.Equal(t, errTest, err)
	_, open := <-c.closed
	require.False(t, open)
}

func TestAggregatedError(t *testing.T) {
	var errs AggregatedError
	require.NoError(t, errs.Aggregate())
	errs.Add(nil, errTest)
	require.Equal(t, "test", errs.Aggregate().Error())
	errs.Add(context.DeadlineExceeded)
	err := errs.Aggregate()
	require.ErrorIs(t, err, errTest)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Contains(t, err.Error(), "multiple errors:")
}
