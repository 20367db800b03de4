package dispatch

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/proximity-relay/internal/proximity"
)

type recordingSender struct {
	sent []string
	err  error
}

func (r *recordingSender) Send(payload string) error {
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, payload)
	return nil
}

func TestPayloadMapping(t *testing.T) {
	p, ok := Payload(proximity.Near)
	assert.True(t, ok)
	assert.Equal(t, "100", p)

	p, ok = Payload(proximity.Far)
	assert.True(t, ok)
	assert.Equal(t, "50", p)

	_, ok = Payload(proximity.Unknown)
	assert.False(t, ok)
}

func TestDispatchCadence(t *testing.T) {
	sender := &recordingSender{}
	d, err := New(sender, 20)
	require.NoError(t, err)

	var sentAt []uint64
	for tick := uint64(0); tick < 101; tick++ {
		payload, err := d.MaybeDispatch(proximity.Near, tick)
		require.NoError(t, err)
		if payload != "" {
			sentAt = append(sentAt, tick)
		}
	}

	assert.Equal(t, []uint64{0, 20, 40, 60, 80, 100}, sentAt)
	assert.Len(t, sender.sent, 6)
}

func TestNoDispatchWhileUnknown(t *testing.T) {
	sender := &recordingSender{}
	d, err := New(sender, 1)
	require.NoError(t, err)

	for tick := uint64(0); tick < 50; tick++ {
		payload, err := d.MaybeDispatch(proximity.Unknown, tick)
		require.NoError(t, err)
		assert.Empty(t, payload)
	}
	assert.Empty(t, sender.sent)
}

func TestDispatchFailureIsReportedAndNotBuffered(t *testing.T) {
	cause := errors.New("connection dropped")
	sender := &recordingSender{err: cause}
	d, err := New(sender, 20)
	require.NoError(t, err)

	payload, err := d.MaybeDispatch(proximity.Far, 40)
	assert.Equal(t, "50", payload)

	var dispatchErr *DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, uint64(40), dispatchErr.Tick)
	assert.Equal(t, "50", dispatchErr.Payload)
	assert.ErrorIs(t, err, cause)

	// Peer comes back: ticks between windows still send nothing
	sender.err = nil
	for tick := uint64(41); tick < 60; tick++ {
		payload, err := d.MaybeDispatch(proximity.Far, tick)
		require.NoError(t, err)
		assert.Empty(t, payload)
	}
	payload, err = d.MaybeDispatch(proximity.Far, 60)
	require.NoError(t, err)
	assert.Equal(t, "50", payload)
	assert.Equal(t, []string{"50"}, sender.sent)
}

func TestNewRejectsBadArguments(t *testing.T) {
	_, err := New(nil, 20)
	assert.Error(t, err)

	_, err = New(&recordingSender{}, 0)
	assert.Error(t, err)
}

func TestDue(t *testing.T) {
	assert.True(t, Due(0, 20))
	assert.False(t, Due(19, 20))
	assert.True(t, Due(40, 20))
	assert.False(t, Due(5, 0))
}
