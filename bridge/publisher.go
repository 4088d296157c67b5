package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/segmentio/encoding/json"
	"github.com/streadway/amqp"
	"go.uber.org/zap"
)

// AMQPConfig represents the config of the Publisher
type AMQPConfig struct {
	DSN        string     `yaml:"dsn"`
	TLS        bool       `yaml:"tls"`
	Exchange   string     `yaml:"exchange"`
	ReadingKey RoutingKey `yaml:"reading_key"`
	AlertKey   RoutingKey `yaml:"alert_key"`
}

// Enabled reports whether a broker is configured
func (c AMQPConfig) Enabled() bool {
	return c.DSN != ""
}

type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	Publish(exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

// Publisher mirrors readings and alerts to an AMQP topic exchange
type Publisher struct {
	config     AMQPConfig
	logger     *zap.SugaredLogger
	connection *amqp.Connection
	mu         sync.Mutex
	channel    amqpChannel
}

// Connect with the configured AMQP broker
func (p *Publisher) dial() error {
	var err error

	if p.config.TLS {
		p.connection, err = amqp.DialTLS(p.config.DSN, nil)
	} else {
		p.connection, err = amqp.Dial(p.config.DSN)
	}
	if err != nil {
		return fmt.Errorf("Publisher: %v", err)
	}

	p.logger.Info("publisher: connection established")

	return nil
}

// Get a Channel and declare the exchange on it
func (p *Publisher) setupChannel() error {
	ch, err := p.connection.Channel()
	if err != nil {
		return fmt.Errorf("Publisher: failed to get Channel: %v", err)
	}

	if err := p.declareExchange(ch); err != nil {
		_ = ch.Close()
		return err
	}

	p.mu.Lock()
	p.channel = ch
	p.mu.Unlock()

	return nil
}

func (p *Publisher) declareExchange(ch amqpChannel) error {
	err := ch.ExchangeDeclare(
		p.config.Exchange,
		"topic",
		true,  // durable
		false, // autoDelete
		false, // internal
		false, // noWait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("Publisher: failed to declare Exchange %q: %v", p.config.Exchange, err)
	}

	p.logger.Infof("publisher: declared Exchange %q", p.config.Exchange)

	return nil
}

// Connect dials the broker and prepares the exchange, retrying the
// channel setup
func (p *Publisher) Connect() error {
	if err := p.dial(); err != nil {
		return err
	}

	return retry.Do(
		p.setupChannel,
		retry.Attempts(5),
		retry.Delay(200*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			p.logger.Warnf("publisher: retry %d: %s", n, err)
		}),
	)
}

func (p *Publisher) publish(key RoutingKey, v interface{}) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("Publisher: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel == nil {
		return fmt.Errorf("Publisher: not connected")
	}

	return p.channel.Publish(
		p.config.Exchange,
		string(key),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		},
	)
}

// PublishReading mirrors an in-range reading
func (p *Publisher) PublishReading(_ context.Context, r Reading) error {
	return p.publish(p.config.ReadingKey, r)
}

// HandleAlert mirrors a threshold alert
func (p *Publisher) HandleAlert(_ context.Context, a Alert) error {
	return p.publish(p.config.AlertKey, a)
}

// Shutdown the Publisher
func (p *Publisher) Shutdown() error {
	p.logger.Info("publisher: shutting down")

	p.mu.Lock()
	if p.channel != nil {
		_ = p.channel.Close()
		p.channel = nil
	}
	p.mu.Unlock()

	if p.connection == nil {
		return nil
	}

	if err := p.connection.Close(); err != nil {
		return fmt.Errorf("AMQP connection close error: %s", err)
	}

	p.logger.Info("publisher: shutdown OK")

	return nil
}

// NewPublisher creates a new Publisher
func NewPublisher(config AMQPConfig, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{
		config: config,
		logger: logger,
	}
}
