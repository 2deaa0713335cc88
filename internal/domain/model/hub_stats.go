package model

import "time"

type HubStats struct {
	TotalStreams     int           `json:"total_streams"`
	TotalConnections int           `json:"total_connections"`
	Uptime           time.Duration `json:"uptime"`
	Streams          []StreamStats `json:"streams,omitempty"`
}

type StreamStats struct {
	StreamID    string `json:"stream_id"`
	Connections int    `json:"connections"`
	Delivered   uint64 `json:"delivered"`
	Dropped     uint64 `json:"dropped"`
}
