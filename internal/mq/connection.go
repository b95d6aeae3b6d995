package mq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrNoChannel — соединения сейчас нет, идёт переподключение.
var ErrNoChannel = errors.New("no channel available")

// ErrClosed — Connection закрыт вызовом Close.
var ErrClosed = errors.New("connection closed")

const (
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = 30 * time.Second
)

// Connection держит AMQP соединение и общий канал для публикации.
// Consumer'ы открывают себе отдельные каналы через OpenChannel.
//
// После разрыва соединение восстанавливается в фоне; ожидающие
// узнают об этом через Reconnected.
type Connection struct {
	url    string
	logger *slog.Logger

	mu      sync.RWMutex
	conn    *amqp.Connection
	channel *amqp.Channel
	// reconnected закрывается после очередного переподключения и
	// сразу заменяется новым.
	reconnected chan struct{}
	// onConnect повторяется на каждом новом соединении.
	onConnect []func(*amqp.Channel) error

	done      chan struct{}
	closeOnce sync.Once
}

// NewConnection подключается к брокеру. Первая попытка синхронная:
// при недоступном брокере возвращается ошибка.
func NewConnection(url string, logger *slog.Logger) (*Connection, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connection{
		url:         url,
		logger:      logger.With("component", "amqp"),
		reconnected: make(chan struct{}),
		done:        make(chan struct{}),
	}

	notify, err := c.connect()
	if err != nil {
		return nil, err
	}

	go c.watch(notify)
	return c, nil
}

func (c *Connection) connect() (chan *amqp.Error, error) {
	conn, err := amqp.Dial(c.url)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}

	c.mu.Lock()
	hooks := c.onConnect
	c.mu.Unlock()
	for _, fn := range hooks {
		if err := fn(ch); err != nil {
			_ = conn.Close()
			return nil, err
		}
	}

	c.mu.Lock()
	c.conn, c.channel = conn, ch
	c.mu.Unlock()

	c.logger.Info("connected to broker", "url", redactURL(c.url))
	return conn.NotifyClose(make(chan *amqp.Error, 1)), nil
}

func (c *Connection) watch(notify chan *amqp.Error) {
	for {
		select {
		case <-c.done:
			return
		case err, ok := <-notify:
			if !ok && c.isClosed() {
				return
			}
			c.logger.Warn("broker connection lost", "error", err)
		}

		c.mu.Lock()
		c.conn, c.channel = nil, nil
		c.mu.Unlock()

		next, ok := c.redial()
		if !ok {
			return
		}
		notify = next

		c.mu.Lock()
		close(c.reconnected)
		c.reconnected = make(chan struct{})
		c.mu.Unlock()
	}
}

// redial повторяет connect с экспоненциальной задержкой, пока не
// получится или пока Connection не закроют.
func (c *Connection) redial() (chan *amqp.Error, bool) {
	delay := reconnectInitialDelay
	for {
		select {
		case <-c.done:
			return nil, false
		case <-time.After(delay):
		}

		notify, err := c.connect()
		if err == nil {
			c.logger.Info("reconnected to broker")
			return notify, true
		}
		c.logger.Warn("reconnect failed", "error", err, "retry_in", delay)
		delay = min(delay*2, reconnectMaxDelay)
	}
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// OnConnect выполняет fn сейчас и после каждого переподключения.
func (c *Connection) OnConnect(ctx context.Context, fn func(*amqp.Channel) error) error {
	if err := c.WithChannel(ctx, fn); err != nil {
		return err
	}
	c.mu.Lock()
	c.onConnect = append(c.onConnect, fn)
	c.mu.Unlock()
	return nil
}

// Reconnected возвращает канал, который закроется при следующем
// восстановлении соединения. Брать его нужно до попытки работы с брокером,
// иначе переподключение можно пропустить.
func (c *Connection) Reconnected() <-chan struct{} {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.reconnected
}

// OpenChannel открывает новый канал на текущем соединении.
func (c *Connection) OpenChannel() (*amqp.Channel, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return nil, ErrNoChannel
	}
	return conn.Channel()
}

// WithChannel вызывает fn с общим каналом.
func (c *Connection) WithChannel(ctx context.Context, fn func(ch *amqp.Channel) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.isClosed() {
		return ErrClosed
	}
	c.mu.RLock()
	ch := c.channel
	c.mu.RUnlock()
	if ch == nil {
		return ErrNoChannel
	}
	return fn(ch)
}

// IsConnected — есть ли живое соединение.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.conn != nil && !c.conn.IsClosed()
}

// Close закрывает соединение и останавливает переподключение.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		conn := c.conn
		c.conn, c.channel = nil, nil
		c.mu.Unlock()

		if conn != nil {
			// канал закрывается вместе с соединением
			if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, amqp.ErrClosed) {
				err = fmt.Errorf("close connection: %w", cerr)
			}
		}
		c.logger.Info("broker connection closed")
	})
	return err
}

func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	return u.Redacted()
}
