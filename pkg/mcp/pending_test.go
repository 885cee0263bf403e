package mcp

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingDeliverAtMostOnce(t *testing.T) {
	p := newPendingTracker()
	ch, err := p.add(1)
	require.NoError(t, err)

	id := int64(1)
	require.True(t, p.deliver(1, callResult{resp: &Response{ID: &id}}))
	assert.False(t, p.deliver(1, callResult{resp: &Response{ID: &id}}))

	res := <-ch
	require.NotNil(t, res.resp)
	assert.Equal(t, int64(1), *res.resp.ID)
	assert.Empty(t, ch)
}

func TestPendingUnknownIDIgnored(t *testing.T) {
	p := newPendingTracker()
	assert.False(t, p.deliver(99, callResult{}))
}

func TestPendingDuplicateAdd(t *testing.T) {
	p := newPendingTracker()
	_, err := p.add(7)
	require.NoError(t, err)
	_, err = p.add(7)
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestPendingCancelDiscardsLateResponse(t *testing.T) {
	p := newPendingTracker()
	ch, err := p.add(3)
	require.NoError(t, err)
	p.cancel(3)
	assert.False(t, p.deliver(3, callResult{}))
	assert.Empty(t, ch)
}

func TestPendingFailAll(t *testing.T) {
	p := newPendingTracker()
	ch1, err := p.add(1)
	require.NoError(t, err)
	ch2, err := p.add(2)
	require.NoError(t, err)

	boom := errors.New("process exited")
	p.failAll(boom)

	res := <-ch1
	assert.ErrorIs(t, res.err, boom)
	res = <-ch2
	assert.ErrorIs(t, res.err, boom)

	_, err = p.add(3)
	assert.ErrorIs(t, err, boom)
}
