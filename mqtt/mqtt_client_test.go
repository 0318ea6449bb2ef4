package mqtt

import (
	"testing"

	"github.com/eclipse/paho.golang/paho"
)

type recordingHandler struct {
	topic    string
	received []string
}

func (rh *recordingHandler) MqttSubscribeTopic() string {
	return rh.topic
}

func (rh *recordingHandler) MqttHandle(pub *paho.Publish) {
	rh.received = append(rh.received, pub.Topic)
}

func TestMatchTopic(t *testing.T) {
	cases := []struct {
		filter string
		topic  string
		want   bool
	}{
		{"procket/rig/cmd/up", "procket/rig/cmd/up", true},
		{"procket/rig/cmd/up", "procket/rig/cmd/down", false},
		{"procket/rig/cmd/+", "procket/rig/cmd/down", true},
		{"procket/rig/cmd/+", "procket/rig/cmd", false},
		{"procket/rig/cmd/+", "procket/rig/cmd/power/up", false},
		{"procket/#", "procket/rig/cmd/power", true},
		{"procket/+/status", "procket/rig/status", true},
		{"procket/+/status", "other/rig/status", false},
	}

	for _, c := range cases {
		t.Run(c.filter+" "+c.topic, func(t *testing.T) {
			got := MatchTopic(c.filter, c.topic)
			if got != c.want {
				t.Errorf("got %v want %v", got, c.want)
			}
		})
	}
}

func TestDispatch(t *testing.T) {
	mc, err := NewMqttClient("mqtt://localhost:1883", "test")
	if err != nil {
		t.Fatal(err)
	}

	commands := &recordingHandler{topic: "procket/rig/cmd/+"}
	other := &recordingHandler{topic: "procket/other/cmd/+"}
	mc.handlers = []MqttHandler{commands, other}

	if !mc.Dispatch(&paho.Publish{Topic: "procket/rig/cmd/up"}) {
		t.Error("expected message to be handled")
	}
	if mc.Dispatch(&paho.Publish{Topic: "procket/rig/status"}) {
		t.Error("status topic should not be handled")
	}

	if len(commands.received) != 1 || commands.received[0] != "procket/rig/cmd/up" {
		t.Errorf("got %v want [procket/rig/cmd/up]", commands.received)
	}
	if len(other.received) != 0 {
		t.Errorf("got %v want nothing", other.received)
	}
}

func TestPublishNotConnected(t *testing.T) {
	mc, err := NewMqttClient("mqtt://localhost:1883", "test")
	if err != nil {
		t.Fatal(err)
	}

	err = mc.Publish("procket/rig/status", []byte("{}"))
	if err == nil {
		t.Error("expected error publishing without connection")
	}
}
