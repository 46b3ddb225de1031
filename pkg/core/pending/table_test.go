package pending

import (
    "errors"
    "sync"
    "testing"

    "github.com/stretchr/testify/assert"
    "github.com/stretchr/testify/require"
)

func TestRegisterComplete(t *testing.T) {
    tb := New[int, string]()
    ch, err := tb.Register(1)
    require.NoError(t, err)
    assert.Equal(t, 1, tb.Len())

    assert.True(t, tb.Complete(1, "ok"))
    res := <-ch
    assert.NoError(t, res.Err)
    assert.Equal(t, "ok", res.Value)
    assert.Equal(t, 0, tb.Len())

    assert.False(t, tb.Complete(1, "again"), "a completed key is unknown")
}

func TestRegisterTwiceIsInFlight(t *testing.T) {
    tb := New[int, string]()
    _, err := tb.Register(7)
    require.NoError(t, err)
    _, err = tb.Register(7)
    assert.ErrorIs(t, err, ErrInFlight)
}

func TestOutOfOrderCompletion(t *testing.T) {
    tb := New[int, int]()
    a, err := tb.Register(1)
    require.NoError(t, err)
    b, err := tb.Register(2)
    require.NoError(t, err)

    tb.Complete(2, 20)
    tb.Complete(1, 10)
    assert.Equal(t, 10, (<-a).Value)
    assert.Equal(t, 20, (<-b).Value)
}

func TestAbandonKeepsSlotUntilAnswer(t *testing.T) {
    tb := New[int, int]()
    ch, err := tb.Register(3)
    require.NoError(t, err)

    require.True(t, tb.Abandon(3))
    _, err = tb.Register(3)
    assert.ErrorIs(t, err, ErrInFlight)
    assert.True(t, tb.has(3))

    assert.True(t, tb.Complete(3, 30), "late answer is recognised")
    assert.False(t, tb.has(3))
    select {
    case <-ch:
        t.Fatal("abandoned waiter must not be signalled")
    default:
    }

    _, err = tb.Register(3)
    assert.NoError(t, err)
}

func TestFailDeliversToAllAndCloses(t *testing.T) {
    tb := New[int, int]()
    eos := errors.New("eos")
    var chans []<-chan Result[int]
    for i := 0; i < 5; i++ {
        ch, err := tb.Register(i)
        require.NoError(t, err)
        chans = append(chans, ch)
    }
    tb.Abandon(4)

    assert.Equal(t, 4, tb.Fail(eos))
    for _, ch := range chans[:4] {
        assert.ErrorIs(t, (<-ch).Err, eos)
    }
    assert.Equal(t, 0, tb.Len())

    _, err := tb.Register(99)
    assert.ErrorIs(t, err, ErrClosed)
    assert.ErrorIs(t, err, eos)

    tb.Fail(errors.New("second"))
    _, err = tb.Register(100)
    assert.ErrorIs(t, err, eos, "first failure wins")
}

func TestConcurrentUse(t *testing.T) {
    tb := New[int, int]()
    var wg sync.WaitGroup
    for i := 0; i < 64; i++ {
        wg.Add(1)
        go func(i int) {
            defer wg.Done()
            ch, err := tb.Register(i)
            if err != nil {
                t.Errorf("register %d: %v", i, err)
                return
            }
            go tb.Complete(i, i*2)
            if got := (<-ch).Value; got != i*2 {
                t.Errorf("key %d got %d", i, got)
            }
        }(i)
    }
    wg.Wait()
    assert.Equal(t, 0, tb.Len())
}
