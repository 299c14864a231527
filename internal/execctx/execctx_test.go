package execctx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	dataloader "github.com/hanpama/graphcore/internal/dataloader"
)

type clock struct{ now int }

func TestContextRoundTrip(t *testing.T) {
	ec := New("alice", Services{"clock": &clock{now: 5}})
	ctx := NewContext(context.Background(), ec)

	require.Same(t, ec, FromContext(ctx))
	require.Nil(t, FromContext(context.Background()))

	c, ok := Service[*clock](ctx, "clock")
	require.True(t, ok)
	require.Equal(t, 5, c.now)

	_, ok = Service[string](ctx, "clock")
	require.False(t, ok)
	_, ok = Service[*clock](context.Background(), "clock")
	require.False(t, ok)
}

func TestLoaderLookup(t *testing.T) {
	ec := New(nil, nil)
	users := dataloader.New(func(_ context.Context, keys []int) ([]string, error) {
		return make([]string, len(keys)), nil
	})
	ec.Loaders.Register("users", users)
	ctx := NewContext(context.Background(), ec)

	got, err := Loader[int, string](ctx, "users")
	require.NoError(t, err)
	require.Same(t, users, got)

	_, err = Loader[int, string](context.Background(), "users")
	require.Error(t, err)
}
