package cache

import "time"

const (
	testEventuallyTimeout = time.Second
	testEventuallyTick    = 5 * time.Millisecond
)
