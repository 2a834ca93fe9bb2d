// Package mqtt mirrors session events to an MQTT broker so a session can be followed remotely.
package mqtt

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/linyvhuo/webot/internal/config"
	"github.com/linyvhuo/webot/internal/events"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultPublishTimeout    = 5 * time.Second
	defaultDisconnectQuiesce = 1000 // milliseconds
	defaultKeepAlive         = 60 * time.Second
	defaultQueueSize         = 256

	statusOnline  = "online"
	statusOffline = "offline"
)

var (
	ErrConnectionFailed = errors.New("mqtt connection failed")
	ErrPublishFailed    = errors.New("mqtt publish failed")
)

// mirrored lists the event types sent to the broker. Engine log lines stay local.
var mirrored = []events.EventType{
	events.EventTypeProgress,
	events.EventTypeState,
	events.EventTypeUserError,
	events.EventTypeSessionStarted,
	events.EventTypeSessionFinished,
	events.EventTypeRoundFinished,
}

// client is the part of pahomqtt.Client the publisher uses
type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
	IsConnected() bool
}

// Publisher publishes bus events as JSON to <prefix>/<event-type>. Events are handed to its
// own goroutine through a bounded queue, so a slow or unreachable broker never holds up the
// bus; events that do not fit are dropped and counted.
type Publisher struct {
	client         client
	cfg            config.MQTTConfig
	publishTimeout time.Duration

	mu              sync.Mutex
	eventBus        events.EventBus
	subscriptionIDs []events.SubscriptionID
	onError         func(error)

	queue     chan events.Event
	stopCh    chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	dropped   atomic.Int64
}

// Connect dials the broker with auto-reconnect and an "offline" last will on <prefix>/status
func Connect(cfg config.MQTTConfig) (*Publisher, error) {
	p := newPublisher(nil, cfg, defaultQueueSize)

	opts := buildClientOptions(cfg)
	// paho calls this before the connect token completes, so it must use its argument
	opts.SetOnConnectHandler(func(c pahomqtt.Client) {
		p.onConnect(c)
	})

	c := pahomqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		p.stop()
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		p.stop()
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	p.mu.Lock()
	p.client = c
	p.mu.Unlock()
	return p, nil
}

// newPublisher wraps an existing client and starts the send goroutine
func newPublisher(c client, cfg config.MQTTConfig, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	p := &Publisher{
		client:         c,
		cfg:            cfg,
		publishTimeout: defaultPublishTimeout,
		onError:        func(error) {},
		queue:          make(chan events.Event, queueSize),
		stopCh:         make(chan struct{}),
		done:           make(chan struct{}),
	}
	go p.run()
	return p
}

func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(brokerURL(cfg.Broker))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	// Retained so late subscribers see that the engine went away
	opts.SetWill(StatusTopic(cfg.TopicPrefix), statusOffline, cfg.QoS, true)
	return opts
}

// brokerURL accepts host:port or a full URL
func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// OnError sets the callback for publish failures. It runs on the publisher's goroutine.
func (p *Publisher) OnError(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if fn == nil {
		fn = func(error) {}
	}
	p.onError = fn
}

// Attach subscribes the publisher to every mirrored event type of eventBus
func (p *Publisher) Attach(eventBus events.EventBus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.eventBus = eventBus
	for _, t := range mirrored {
		p.subscriptionIDs = append(p.subscriptionIDs, eventBus.Subscribe(t, p.HandleEvent))
	}
}

// HandleEvent queues one event for the broker without waiting
func (p *Publisher) HandleEvent(event events.Event) {
	select {
	case <-p.stopCh:
		return
	default:
	}

	select {
	case p.queue <- event:
	default:
		p.dropped.Add(1)
	}
}

// Dropped returns how many events did not fit in the queue
func (p *Publisher) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher) run() {
	defer close(p.done)
	for {
		select {
		case event := <-p.queue:
			p.send(event)
		case <-p.stopCh:
			// what is left gets one publish timeout in total, the rest is dropped
			deadline := time.Now().Add(p.publishTimeout)
			for {
				select {
				case event := <-p.queue:
					if time.Now().After(deadline) {
						p.dropped.Add(1)
						continue
					}
					p.send(event)
				default:
					return
				}
			}
		}
	}
}

// send publishes one event and waits for the broker's acknowledgement
func (p *Publisher) send(event events.Event) {
	p.mu.Lock()
	c, onError := p.client, p.onError
	p.mu.Unlock()
	if c == nil {
		return
	}

	payload, err := Payload(event)
	if err != nil {
		onError(err)
		return
	}

	topic := Topic(p.cfg.TopicPrefix, event.Type)
	token := c.Publish(topic, p.cfg.QoS, event.Type == events.EventTypeState, payload)
	if !token.WaitTimeout(p.publishTimeout) {
		onError(fmt.Errorf("%w: %s: timeout", ErrPublishFailed, topic))
		return
	}
	if err := token.Error(); err != nil {
		onError(fmt.Errorf("%w: %s: %w", ErrPublishFailed, topic, err))
	}
}

// onConnect announces the engine on every (re)connect, replacing a retained "offline"
func (p *Publisher) onConnect(c client) {
	publishStatus(c, p.cfg, statusOnline, p.publishTimeout)
}

func publishStatus(c client, cfg config.MQTTConfig, status string, timeout time.Duration) {
	c.Publish(StatusTopic(cfg.TopicPrefix), cfg.QoS, true, status).WaitTimeout(timeout)
}

func (p *Publisher) stop() {
	p.closeOnce.Do(func() { close(p.stopCh) })
	<-p.done
}

// Close unsubscribes, sends what is queued, publishes the offline status and disconnects
func (p *Publisher) Close() error {
	p.mu.Lock()
	if p.eventBus != nil {
		for _, id := range p.subscriptionIDs {
			p.eventBus.Unsubscribe(id)
		}
	}
	p.subscriptionIDs = nil
	p.mu.Unlock()

	p.stop()

	p.mu.Lock()
	c := p.client
	p.mu.Unlock()
	if c == nil {
		return nil
	}
	if c.IsConnected() {
		publishStatus(c, p.cfg, statusOffline, p.publishTimeout)
	}
	c.Disconnect(defaultDisconnectQuiesce)
	return nil
}
