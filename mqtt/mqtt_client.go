package mqtt

import (
	"context"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"
)

const subscribeTimeoutSeconds = 15
const connectionTimeoutSeconds = 5
const publishTimeoutSeconds = 4

type MqttHandler interface {
	MqttHandle(pub *paho.Publish)
	MqttSubscribeTopic() string
}

type Publisher interface {
	Publish(topic string, payload []byte) error
}

type MqttClient struct {
	config   autopaho.ClientConfig
	conn     *autopaho.ConnectionManager
	logger   *log.Logger
	handlers []MqttHandler
	lock     sync.RWMutex
}

func (mc *MqttClient) Publish(topic string, payload []byte) (err error) {
	if mc.conn == nil {
		return errors.New("mqtt client not connected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeoutSeconds*time.Second)
	defer cancel()

	_, err = mc.conn.Publish(ctx, &paho.Publish{
		Topic:   topic,
		QoS:     1,
		Payload: payload,
	})
	return
}

func (mc *MqttClient) onConnUp(cm *autopaho.ConnectionManager, connAck *paho.Connack) {
	mc.logger.Info("Connected to MQTT broker")

	mc.lock.RLock()
	subs := []paho.SubscribeOptions{}
	for _, h := range mc.handlers {
		subs = append(subs, paho.SubscribeOptions{
			QoS:   1,
			Topic: h.MqttSubscribeTopic(),
		})
	}
	mc.lock.RUnlock()

	if len(subs) == 0 {
		return
	}

	mc.logger.Debug("subscribing mqtt", "subs", subs)

	ctx, cancel := context.WithTimeout(context.Background(), subscribeTimeoutSeconds*time.Second)
	defer cancel()

	_, err := cm.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: subs,
	})
	if err != nil {
		mc.logger.Error("Failed to subscribe to topics", "err", err)
	}
}

func (mc *MqttClient) onConnError(err error) {
	mc.logger.Error("Received Mqtt connection error", "err", err)
}

func (mc *MqttClient) onSrvDisconnect(d *paho.Disconnect) {
	mc.logger.Info("Disconnected from MQTT broker")
}

// Dispatch hands pub to every handler whose subscription matches its topic.
func (mc *MqttClient) Dispatch(pub *paho.Publish) (handled bool) {
	mc.lock.RLock()
	defer mc.lock.RUnlock()

	for _, h := range mc.handlers {
		if MatchTopic(h.MqttSubscribeTopic(), pub.Topic) {
			h.MqttHandle(pub)
			handled = true
		}
	}
	if !handled {
		mc.logger.Debug("no handler for message", "topic", pub.Topic)
	}
	return
}

func (mc *MqttClient) onPublishRecv() []func(paho.PublishReceived) (bool, error) {
	return []func(paho.PublishReceived) (bool, error){
		func(pr paho.PublishReceived) (bool, error) {
			mc.logger.Debug("received message", "topic", pr.Packet.Topic, "retain", pr.Packet.Retain)
			return mc.Dispatch(pr.Packet), nil
		},
	}
}

// MatchTopic reports whether topic matches the subscription filter,
// honouring the + and # wildcards.
func MatchTopic(filter, topic string) bool {
	filterLevels := strings.Split(filter, "/")
	topicLevels := strings.Split(topic, "/")

	for i, level := range filterLevels {
		if level == "#" {
			return true
		}
		if i >= len(topicLevels) {
			return false
		}
		if level != "+" && level != topicLevels[i] {
			return false
		}
	}

	return len(filterLevels) == len(topicLevels)
}

func (mc *MqttClient) Connect(handlers []MqttHandler) (err error) {
	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeoutSeconds*time.Second)
	defer cancel()

	mc.lock.Lock()
	mc.handlers = handlers
	mc.lock.Unlock()

	for _, h := range handlers {
		mc.logger.Debug("setting up mqtt topics config", "topic", h.MqttSubscribeTopic())
	}

	mc.conn, err = autopaho.NewConnection(context.Background(), mc.config)
	if err != nil {
		return
	}

	err = mc.conn.AwaitConnection(ctx)
	mc.logger.Debug("AwaitConnection done", "err", err)

	return
}

func (mc *MqttClient) Disconnect(ctx context.Context) error {
	mc.lock.Lock()
	mc.handlers = nil
	mc.lock.Unlock()

	if mc.conn == nil {
		return nil
	}
	return mc.conn.Disconnect(ctx)
}

func NewMqttClient(broker string, clientId string) (mc *MqttClient, err error) {
	addr, err := url.Parse(broker)
	if err != nil {
		err = errors.Wrapf(err, "invalid broker url %s", broker)
		return
	}

	mc = &MqttClient{
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "mqtt",
			Level:  log.GetLevel(),
		}),
	}

	mc.config = autopaho.ClientConfig{
		ServerUrls:            []*url.URL{addr},
		KeepAlive:             20,
		SessionExpiryInterval: 60,
		OnConnectionUp:        mc.onConnUp,
		OnConnectError:        mc.onConnError,
		ClientConfig: paho.ClientConfig{
			ClientID:           clientId,
			OnClientError:      mc.onConnError,
			OnServerDisconnect: mc.onSrvDisconnect,
			OnPublishReceived:  mc.onPublishRecv(),
		},
	}

	return
}
