package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoBodyStatus(t *testing.T) {
	for _, status := range []int{100, 101, 204, 205, 304} {
		assert.True(t, NoBodyStatus(status), "status %d", status)
	}
	for _, status := range []int{200, 301, 404, 500} {
		assert.False(t, NoBodyStatus(status), "status %d", status)
	}
}
