package clientsession

import "time"

// Config is the subset of the server configuration the Client Session
// driver consumes (spec.md §6 "Server").
type Config struct {
	InputBufferSize      int
	KeepAliveTimeout     time.Duration
	KeepAliveMaxRequests int
}

func (c Config) bodyChunk() int {
	if c.InputBufferSize > 0 && c.InputBufferSize < 8192 {
		return c.InputBufferSize
	}
	return 8192
}
