package mqtt

import (
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/grow-controller/internal/controller"
)

const (
	connectRetryInterval = 5 * time.Second
	maxReconnectInterval = time.Minute
	keepAlive            = 60 * time.Second
	publishTimeout       = 5 * time.Second
	disconnectQuiesce    = 1000 // milliseconds

	// DefaultBufferSize is how many messages are kept while offline.
	DefaultBufferSize = 500
)

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("mqtt: publish timeout")

// Logger is satisfied by *slog.Logger and *logging.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	BufferSize  int
	Logger      Logger
}

// RealPublisher publishes to an actual MQTT broker. Messages published
// while disconnected are held in a ring buffer and replayed, oldest first,
// when the connection comes back.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    Logger

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool // a connection has been made at least once
}

// NewRealPublisher creates a publisher and starts connecting in the
// background. It never blocks on the broker, so the controller keeps
// running when the network is down at boot.
func NewRealPublisher(opts Options) *RealPublisher {
	p := newPublisher(nil, opts)

	will, _ := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     SystemShutdown,
		Reason:    "MQTT_DISCONNECT",
	})

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(connectRetryInterval).
		SetMaxReconnectInterval(maxReconnectInterval).
		SetKeepAlive(keepAlive).
		SetWill(p.topics.System, string(will), 1, true).
		SetOnConnectHandler(func(paho.Client) { p.handleConnect() }).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			p.log.Warn("mqtt connection lost", "error", err)
		})
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}

	p.client = paho.NewClient(clientOpts)
	p.client.Connect()
	return p
}

func newPublisher(client paho.Client, opts Options) *RealPublisher {
	size := opts.BufferSize
	if size <= 0 {
		size = DefaultBufferSize
	}
	log := opts.Logger
	if log == nil {
		log = noopLogger{}
	}
	return &RealPublisher{
		client: client,
		topics: TopicsFor(opts.TopicPrefix),
		log:    log,
		buf:    newRingBuffer(size),
	}
}

// Publish sends a controller event. QoS 0, not retained.
func (p *RealPublisher) Publish(event controller.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.topics.Events, payload: payload})
}

// PublishSystem sends a system lifecycle event. QoS 1 so lifecycle changes
// are delivered at least once.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// send publishes msg, or buffers it when offline or when the publish fails.
// Buffering is not an error.
func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.client.IsConnectionOpen() {
		p.bufferLocked(msg)
		return nil
	}
	if err := p.publishLocked(msg); err != nil {
		p.bufferLocked(msg)
		return err
	}
	return nil
}

func (p *RealPublisher) publishLocked(msg bufferedMsg) error {
	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("%w: %s", ErrPublishTimeout, msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish to %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) bufferLocked(msg bufferedMsg) {
	if p.buf.push(msg) {
		p.log.Warn("mqtt offline buffer full, dropping oldest", "capacity", p.buf.capacity)
	}
}

// handleConnect replays buffered messages and, on a reconnect, announces it.
func (p *RealPublisher) handleConnect() {
	p.mu.Lock()
	defer p.mu.Unlock()

	reconnect := p.connected
	p.connected = true

	pending := p.buf.drainAll()
	for i, msg := range pending {
		if err := p.publishLocked(msg); err != nil {
			p.log.Warn("mqtt replay interrupted", "error", err, "remaining", len(pending)-i)
			for _, rest := range pending[i:] {
				p.buf.push(rest)
			}
			return
		}
	}
	if len(pending) > 0 {
		p.log.Info("mqtt replayed buffered messages", "count", len(pending))
	}

	if reconnect {
		payload, _ := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: SystemReconnected})
		if err := p.publishLocked(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1}); err != nil {
			p.log.Warn("failed to publish reconnect event", "error", err)
		}
	}
}

// Buffered returns how many messages are waiting for the broker.
func (p *RealPublisher) Buffered() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len()
}

// IsConnected reports whether the connection to the broker is open.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(disconnectQuiesce)
	return nil
}

type noopLogger struct{}

func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
