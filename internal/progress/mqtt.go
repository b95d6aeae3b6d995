package progress

import (
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/shaiso/autonet/internal/config"
	"github.com/shaiso/autonet/internal/engine"
)

const (
	defaultConnectTimeout    = 10 * time.Second
	defaultKeepAlive         = 60 * time.Second
	defaultDisconnectQuiesce = 1000 // ms
)

// ErrConnectionFailed — не удалось подключиться к брокеру.
var ErrConnectionFailed = errors.New("mqtt connection failed")

// Publisher — часть pahomqtt.Client, нужная приёмнику.
type Publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) pahomqtt.Token
}

// Message — payload публикации.
type Message struct {
	RunID string `json:"run_id"`
	Path  string `json:"path"`
	Value any    `json:"value"`
	Time  string `json:"time"`
}

// MQTT публикует прогресс run'ов в MQTT.
//
// Брокер не умеет инкрементировать значения, поэтому счётчики ведутся
// в Memory, а в топик уходит итоговое значение с флагом retained:
// подписчик, пришедший в середине run, сразу видит текущее состояние.
// Публикация не блокирует обход: ошибки брокера только логируются.
type MQTT struct {
	*Memory

	client Publisher
	prefix string
	qos    byte
	logger *slog.Logger
}

// NewMQTT создаёт приёмник поверх готового клиента.
func NewMQTT(client Publisher, prefix string, qos byte, logger *slog.Logger) *MQTT {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTT{
		Memory: NewMemory(),
		client: client,
		prefix: strings.TrimSuffix(prefix, "/"),
		qos:    qos,
		logger: logger,
	}
}

// ConnectMQTT подключается к брокеру и создаёт приёмник.
// Возвращённую функцию нужно вызвать при остановке.
func ConnectMQTT(cfg config.MQTTConfig, logger *slog.Logger) (*MQTT, func(), error) {
	client := pahomqtt.NewClient(clientOptions(cfg, logger))
	token := client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	closeFn := func() { client.Disconnect(defaultDisconnectQuiesce) }
	return NewMQTT(client, cfg.TopicPrefix, byte(cfg.QoS), logger), closeFn, nil
}

func clientOptions(cfg config.MQTTConfig, logger *slog.Logger) *pahomqtt.ClientOptions {
	if logger == nil {
		logger = slog.Default()
	}

	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}

	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port))
	opts.SetClientID(cfg.Broker.ClientID)
	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username)
		opts.SetPassword(cfg.Auth.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)
	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		logger.Warn("mqtt connection lost", "error", err)
	})
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		logger.Info("mqtt connected", "broker", cfg.Broker.Host)
	})

	return opts
}

// Topic возвращает топик пути прогресса.
func (m *MQTT) Topic(runID uuid.UUID, path string) string {
	return m.prefix + "/" + runID.String() + "/" + path
}

// WriteProgress реализует engine.ProgressSink.
func (m *MQTT) WriteProgress(runID uuid.UUID, path string, value any, mode engine.ProgressMode) {
	current := m.update(runID, path, value, mode)

	payload, err := json.Marshal(Message{
		RunID: runID.String(),
		Path:  path,
		Value: current,
		Time:  time.Now().UTC().Format(time.RFC3339),
	})
	if err != nil {
		m.logger.Warn("failed to marshal progress", "run_id", runID, "path", path, "error", err)
		return
	}

	m.publish(runID, path, payload)
}

// Forget удаляет прогресс run из памяти и снимает retained-сообщения
// с его топиков: пустой retained payload стирает их на брокере.
func (m *MQTT) Forget(runID uuid.UUID) {
	paths := m.Snapshot(runID)
	m.Memory.Forget(runID)
	for path := range paths {
		m.publish(runID, path, []byte{})
	}
}

func (m *MQTT) publish(runID uuid.UUID, path string, payload []byte) {
	token := m.client.Publish(m.Topic(runID, path), m.qos, true, payload)
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			m.logger.Warn("failed to publish progress", "run_id", runID, "path", path, "error", err)
		}
	}()
}
