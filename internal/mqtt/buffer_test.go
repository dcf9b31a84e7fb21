package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payloads(msgs []bufferedMsg) []byte {
	var out []byte
	for _, m := range msgs {
		out = append(out, m.payload[0])
	}
	return out
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer(10)
	assert.Nil(t, rb.drainAll())
	assert.Zero(t, rb.len())
}

func TestRingBufferPushAndDrain(t *testing.T) {
	rb := newRingBuffer(10)
	for i := 0; i < 5; i++ {
		assert.False(t, rb.push(bufferedMsg{topic: "t", payload: []byte{byte(i)}}))
	}
	assert.Equal(t, 5, rb.len())

	assert.Equal(t, []byte{0, 1, 2, 3, 4}, payloads(rb.drainAll()))
	assert.Nil(t, rb.drainAll(), "second drain is empty")
}

func TestRingBufferOverflowKeepsNewest(t *testing.T) {
	rb := newRingBuffer(5)

	var drops int
	for i := 0; i < 8; i++ {
		if rb.push(bufferedMsg{payload: []byte{byte(i)}}) {
			drops++
		}
	}

	assert.Equal(t, 1, drops, "overflow reported once")
	assert.Equal(t, 5, rb.len())
	assert.Equal(t, []byte{3, 4, 5, 6, 7}, payloads(rb.drainAll()))
}

func TestRingBufferOverflowResetsAfterDrain(t *testing.T) {
	rb := newRingBuffer(2)
	rb.push(bufferedMsg{payload: []byte{0}})
	rb.push(bufferedMsg{payload: []byte{1}})
	require.True(t, rb.push(bufferedMsg{payload: []byte{2}}))
	rb.drainAll()

	rb.push(bufferedMsg{payload: []byte{3}})
	rb.push(bufferedMsg{payload: []byte{4}})
	assert.True(t, rb.push(bufferedMsg{payload: []byte{5}}), "reported again after a drain")
}

func TestRingBufferWrapAround(t *testing.T) {
	rb := newRingBuffer(3)
	rb.push(bufferedMsg{payload: []byte{0}})
	rb.push(bufferedMsg{payload: []byte{1}})
	rb.drainAll()

	for i := 2; i < 6; i++ {
		rb.push(bufferedMsg{payload: []byte{byte(i)}})
	}
	assert.Equal(t, []byte{3, 4, 5}, payloads(rb.drainAll()))
}

func TestRingBufferMinimumCapacity(t *testing.T) {
	rb := newRingBuffer(0)
	rb.push(bufferedMsg{payload: []byte{7}})
	rb.push(bufferedMsg{payload: []byte{8}})
	assert.Equal(t, []byte{8}, payloads(rb.drainAll()))
}
