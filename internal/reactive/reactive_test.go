package reactive

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValue_SetWithoutTransactionCommitsImmediately(t *testing.T) {
	t.Parallel()

	v := NewValue(1)
	require.Equal(t, 1, v.Get())
	before := v.Version()

	v.Set(2, nil)
	require.Equal(t, 2, v.Get())
	require.Greater(t, v.Version(), before)
}

func TestTransaction_WritesVisibleAtCommit(t *testing.T) {
	t.Parallel()

	a := NewValue("a")
	Transaction(func(tx *Tx) {
		a.Set("b", tx)
		require.Equal(t, "a", a.Get(), "writes should not be visible before commit")
	})
	require.Equal(t, "b", a.Get())
}

func TestTransaction_ListenerFiresOncePerTransaction(t *testing.T) {
	t.Parallel()

	a := NewValue(1)
	b := NewValue(10)
	sum := NewDerived(func() int { return a.Get() + b.Get() }, a, b)

	var seen []int
	dispose := sum.Subscribe(func(v int) { seen = append(seen, v) })
	defer dispose()

	Transaction(func(tx *Tx) {
		a.Set(2, tx)
		b.Set(20, tx)
		a.Set(3, tx)
	})

	require.Equal(t, []int{23}, seen, "listener should observe only the committed state, once")
}

func TestDerived_LazyRecompute(t *testing.T) {
	t.Parallel()

	a := NewValue(1)
	calls := 0
	double := NewDerived(func() int {
		calls++
		return a.Get() * 2
	}, a)

	require.Equal(t, 0, calls, "derived should not compute until read")
	require.Equal(t, 2, double.Get())
	require.Equal(t, 2, double.Get())
	require.Equal(t, 1, calls)

	a.Set(5, nil)
	require.Equal(t, 1, calls, "derived should not recompute in the background")
	require.Equal(t, 10, double.Get())
	require.Equal(t, 2, calls)
}

func TestDerived_Chained(t *testing.T) {
	t.Parallel()

	a := NewValue(1)
	plusOne := NewDerived(func() int { return a.Get() + 1 }, a)
	times := NewDerived(func() int { return plusOne.Get() * 10 }, plusOne)

	var got []int
	dispose := times.Subscribe(func(v int) { got = append(got, v) })

	a.Set(4, nil)
	require.Equal(t, 50, times.Get())
	require.Equal(t, []int{50}, got)

	dispose()
	a.Set(5, nil)
	require.Equal(t, []int{50}, got)
	require.Equal(t, 60, times.Get())
}

func TestSubscribe_DisposeReleasesObservers(t *testing.T) {
	t.Parallel()

	a := NewValue(0)
	d := NewDerived(func() int { return a.Get() }, a)

	for range 5 {
		d1 := d.Subscribe(func(int) {})
		d2 := d.Subscribe(func(int) {})
		require.Equal(t, 2, d.Observers())
		require.Equal(t, 1, a.Observers(), "derived should hold a single upstream subscription")

		d1()
		d1()
		require.Equal(t, 1, d.Observers())
		d2()
	}

	require.Zero(t, d.Observers())
	require.Zero(t, a.Observers())
}

func TestListener_CanStartNewTransaction(t *testing.T) {
	t.Parallel()

	a := NewValue(0)
	b := NewValue(0)
	dispose := a.Subscribe(func(v int) { b.Set(v*2, nil) })
	defer dispose()

	a.Set(3, nil)
	require.Equal(t, 6, b.Get())
}

func TestDerived_ConsistentUnderConcurrentCommits(t *testing.T) {
	t.Parallel()

	// a and b are always written together so any observed pair must match.
	a := NewValue(0)
	b := NewValue(0)
	pair := NewDerived(func() [2]int { return [2]int{a.Get(), b.Get()} }, a, b)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= 500; i++ {
			Transaction(func(tx *Tx) {
				a.Set(i, tx)
				b.Set(i, tx)
			})
		}
	}()

	for range 500 {
		p := pair.Get()
		require.Equal(t, p[0], p[1])
	}
	wg.Wait()
	require.Equal(t, [2]int{500, 500}, pair.Get())
}
