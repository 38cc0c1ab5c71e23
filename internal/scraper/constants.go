package scraper

import "time"

const (
	DefaultConnectTimeout = 10 * time.Second
	DefaultIdleReconnect  = 5 * time.Minute
	DefaultMaxFailures    = 5
)
