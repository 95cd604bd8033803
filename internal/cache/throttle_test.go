package cache

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestThrottle_ZeroValueDoesNotBlock(t *testing.T) {
	var th Throttle
	assert.NoError(t, th.waitRead(context.Background(), 1<<20))
	assert.NoError(t, th.waitWrite(context.Background(), 1<<20))
}

func TestDefaultThrottle_AllowsASingleSmallOperation(t *testing.T) {
	th := defaultThrottle()
	assert.NoError(t, th.waitRead(context.Background(), 1024))
	assert.NoError(t, th.waitWrite(context.Background(), 1024))
}
