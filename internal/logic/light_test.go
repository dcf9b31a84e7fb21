package logic

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsLightOn(t *testing.T) {
	w := LightWindow{Start: 10, End: 22, OnHours: 9}

	for h := 0; h < 24; h++ {
		want := h >= 10 && h <= 18
		assert.Equal(t, want, IsLightOn(h, w), "hour %d", h)
	}
	assert.False(t, IsLightOn(9, w))
	assert.False(t, IsLightOn(19, w))
}

func TestIsLightOnClampedByWindowEnd(t *testing.T) {
	w := LightWindow{Start: 10, End: 14, OnHours: 9}

	assert.True(t, IsLightOn(13, w))
	assert.False(t, IsLightOn(14, w))
	assert.False(t, IsLightOn(18, w))
}

func TestIsLightOnZeroDuration(t *testing.T) {
	w := LightWindow{Start: 10, End: 22, OnHours: 0}

	for h := 0; h < 24; h++ {
		assert.False(t, IsLightOn(h, w), "hour %d", h)
	}
}
