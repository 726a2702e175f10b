package httpmiddleware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketExhaustsAndDenies(t *testing.T) {
	l := NewSimpleTokenBucket(3, 60)
	for i := 0; i < 3; i++ {
		assert.True(t, l.allow("10.0.0.1"), "request %d within capacity", i)
	}
	assert.False(t, l.allow("10.0.0.1"))
}

func TestTokenBucketIsolatesClients(t *testing.T) {
	l := NewSimpleTokenBucket(1, 60)
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"), "a different client has its own bucket")
}

func TestTokenBucketDefaultsCapacity(t *testing.T) {
	l := NewSimpleTokenBucket(0, 2)
	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.1"))
	assert.False(t, l.allow("10.0.0.1"))
}
