package procket

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"github.com/hubertat/procket/mqtt"
)

const publishTimeout = 4 * time.Second

// Command is the JSON body of an MQTT command message.
type Command struct {
	Expander uint8    `json:"expander"`
	Targets  []string `json:"targets"`
	Index    int      `json:"index"`
	Value    byte     `json:"value"`
}

// commandHandler serves procket/<name>/cmd/<command>.
type commandHandler struct {
	pr *Procket
}

func (pr *Procket) commandTopic(command string) string {
	return fmt.Sprintf("procket/%s/cmd/%s", pr.GetName(), command)
}

func (pr *Procket) statusTopic() string {
	return fmt.Sprintf("procket/%s/status", pr.GetName())
}

func (ch *commandHandler) MqttSubscribeTopic() string {
	return ch.pr.commandTopic("+")
}

func (ch *commandHandler) MqttHandle(pub *paho.Publish) {
	command := path.Base(pub.Topic)

	err := ch.pr.RunCommand(command, pub.Payload)
	if err != nil {
		ch.pr.getLogger().Error("mqtt command failed", "command", command, "err", err)
		return
	}
	ch.pr.getLogger().Info("mqtt command done", "command", command)
}

// RunCommand executes one named fixture command with a JSON payload.
func (pr *Procket) RunCommand(command string, payload []byte) error {
	if pr.fixture == nil {
		return errors.New("fixture not initialized")
	}

	cmd := Command{}
	if len(payload) > 0 {
		err := json.Unmarshal(payload, &cmd)
		if err != nil {
			return &ConfigurationError{Field: "payload", Value: string(payload), Reason: err.Error()}
		}
	}

	fx := pr.fixture
	ex := Expander(cmd.Expander)

	switch command {
	case "up":
		return fx.Up()
	case "down":
		return fx.Down()
	case "power_up":
		return fx.PowerUp(ex, fx.ParseTargets(ex, cmd.Targets...)...)
	case "power_down":
		return fx.PowerDown(ex, fx.ParseTargets(ex, cmd.Targets...)...)
	case "set_pins":
		return fx.SetConnectorPins(ExpanderConnectors, fx.ParseTargets(ExpanderConnectors, cmd.Targets...)...)
	case "reset_pins":
		return fx.ResetConnectorPins(ExpanderConnectors, fx.ParseTargets(ExpanderConnectors, cmd.Targets...)...)
	case "set_relays":
		return fx.SetRelays(ExpanderRelays, fx.ParseTargets(ExpanderRelays, cmd.Targets...)...)
	case "reset_relays":
		return fx.ResetRelays(ExpanderRelays, fx.ParseTargets(ExpanderRelays, cmd.Targets...)...)
	case "write_memory":
		if err := checkIndex(int64(cmd.Index)); err != nil {
			return err
		}
		return fx.Memory().WriteByteAt(byte(cmd.Index), cmd.Value)
	case "status":
		pr.SampleStatus(context.Background())
		return nil
	}

	return &ConfigurationError{Field: "command", Value: command}
}

func (pr *Procket) InitMqtt() (err error) {
	if len(pr.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}

	mc, err := mqtt.NewMqttClient(pr.MqttBroker, pr.GetName())
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt client")
		return
	}

	pr.mqttClient = mc

	err = mc.Connect([]mqtt.MqttHandler{&commandHandler{pr: pr}})
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
	}

	return
}
