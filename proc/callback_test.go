package proc

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallbackRefFiresOnce(t *testing.T) {
	var fired int32
	ref := NewCallbackRef(8, func() { atomic.AddInt32(&fired, 1) })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ref.Release()
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, atomic.LoadInt32(&fired))
	require.Equal(t, 0, ref.Pending())
}

func TestCallbackRefDiscount(t *testing.T) {
	fired := false
	ref := NewCallbackRef(3, func() { fired = true })
	require.Equal(t, 2, ref.Discount())
	require.Equal(t, 1, ref.Discount())
	require.False(t, fired)
	require.True(t, ref.Release())
	require.True(t, fired)
}
