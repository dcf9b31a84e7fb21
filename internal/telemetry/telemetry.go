// Package telemetry writes controller events and per-tick state to
// InfluxDB v2. Writes are non-blocking and batched; failures are reported
// through an error callback and never reach the control loop.
package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/sweeney/grow-controller/internal/controller"
	"github.com/sweeney/grow-controller/internal/gpio"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultBatchSize      = 50
	defaultFlushSeconds   = 10

	measurementEvents = "grow_events"
	measurementState  = "grow_state"
)

// Config selects the InfluxDB server and bucket.
type Config struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"` // seconds
}

// Client records controller telemetry.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	site     string

	mu      sync.RWMutex
	onError func(err error)
}

// Connect pings the server and returns a Client with a batching write API.
// It returns ErrDisabled when telemetry is off.
func Connect(cfg Config, site string) (*Client, error) {
	if !cfg.Enabled {
		return nil, ErrDisabled
	}

	batch := cfg.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	flush := cfg.FlushInterval
	if flush <= 0 {
		flush = defaultFlushSeconds
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().
			SetBatchSize(uint(batch)).
			SetFlushInterval(uint(flush)*1000))

	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := newClient(client.WriteAPI(cfg.Org, cfg.Bucket), site)
	c.client = client
	return c, nil
}

func newClient(writeAPI api.WriteAPI, site string) *Client {
	c := &Client{writeAPI: writeAPI, site: site}
	go c.handleWriteErrors(writeAPI.Errors())
	return c
}

func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// SetOnError sets a callback invoked for asynchronous write failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// RecordEvent queues one controller event.
func (c *Client) RecordEvent(e controller.Event) {
	c.writeAPI.WritePoint(EventPoint(e, c.site))
}

// RecordState queues the controller state after a tick.
func (c *Client) RecordState(snap controller.Snapshot, at time.Time) {
	c.writeAPI.WritePoint(StatePoint(snap, c.site, at))
}

// Close flushes pending writes and closes the client.
func (c *Client) Close() error {
	c.writeAPI.Flush()
	if c.client != nil {
		c.client.Close()
	}
	return nil
}

// EventPoint converts an event to a point. Event type, rule and channel are
// tags; outcome and timing are fields.
func EventPoint(e controller.Event, site string) *write.Point {
	tags := map[string]string{
		"site":  site,
		"event": string(e.Type),
	}
	if e.Rule != "" {
		tags["rule"] = string(e.Rule)
	}
	if e.Channel != "" {
		tags["channel"] = string(e.Channel)
	}

	fields := map[string]interface{}{
		"id":          e.ID,
		"error_state": e.ErrorState.String(),
	}
	if e.Outcome != "" {
		fields["outcome"] = string(e.Outcome)
		fields["elapsed_ms"] = e.Elapsed.Milliseconds()
	}
	return write.NewPoint(measurementEvents, tags, fields, e.Timestamp)
}

// StatePoint records every output level (1 = energized) plus the error
// level, so dashboards can plot duty cycles.
func StatePoint(snap controller.Snapshot, site string, at time.Time) *write.Point {
	fields := map[string]interface{}{
		"error_level":    int(snap.ErrorState),
		"time_available": snap.TimeAvailable,
		"ticks":          snap.Ticks,
	}
	for _, ch := range append(append([]gpio.Channel{}, gpio.Actuators...), gpio.Indicators...) {
		level := 0
		if snap.Outputs[ch] {
			level = 1
		}
		fields[string(ch)] = level
	}
	return write.NewPoint(measurementState, map[string]string{"site": site}, fields, at)
}
