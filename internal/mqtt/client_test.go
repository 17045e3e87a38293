package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strconv"
	"testing"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"
	"github.com/stretchr/testify/require"

	"babybottle-monitor/internal/config"
	"babybottle-monitor/internal/telemetry"
)

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func startBroker(t *testing.T) int {
	t.Helper()
	port := freePort(t)

	broker := mochi.New(nil)
	require.NoError(t, broker.AddHook(new(auth.AllowHook), nil))
	require.NoError(t, broker.AddListener(listeners.NewTCP(listeners.Config{
		Type:    "tcp",
		ID:      "t1",
		Address: "127.0.0.1:" + strconv.Itoa(port),
	})))
	require.NoError(t, broker.Serve())
	t.Cleanup(func() { _ = broker.Close() })

	return port
}

func subscribe(t *testing.T, port int, topic string) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 4)

	opts := paho.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://127.0.0.1:%d", port)).
		SetClientID("test-subscriber")
	sub := paho.NewClient(opts)
	tok := sub.Connect()
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	t.Cleanup(func() { sub.Disconnect(100) })

	tok = sub.Subscribe(topic, 1, func(_ paho.Client, m paho.Message) {
		out <- m.Payload()
	})
	require.True(t, tok.WaitTimeout(5*time.Second))
	require.NoError(t, tok.Error())
	return out
}

func TestClient_PublishTelemetry(t *testing.T) {
	port := startBroker(t)
	topic := "devices/test/telemetry"
	received := subscribe(t, port, topic)

	cfg := config.Config{
		MQTTBroker:   "127.0.0.1",
		MQTTPort:     port,
		MQTTClientID: "monitor-under-test",
		MQTTTopic:    topic,
	}
	c, err := NewClient(cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, c.Connect(ctx))
	require.Eventually(t, c.IsConnected, 2*time.Second, 20*time.Millisecond)

	err = c.PublishTelemetry(ctx, telemetry.Telemetry{
		DeviceID:       "test",
		Temperature:    36.5,
		AboveThreshold: true,
		Sequence:       3,
	})
	require.NoError(t, err)

	select {
	case payload := <-received:
		var got telemetry.Telemetry
		require.NoError(t, json.Unmarshal(payload, &got))
		require.Equal(t, "test", got.DeviceID)
		require.Equal(t, 36.5, got.Temperature)
		require.Equal(t, 3, got.Sequence)
		require.False(t, got.Timestamp.IsZero())
		require.Nil(t, got.CoolingRate)
	case <-time.After(5 * time.Second):
		t.Fatal("telemetry not received")
	}
}

func TestClient_PublishWhenDisconnected(t *testing.T) {
	c, err := NewClient(config.Config{MQTTBroker: "127.0.0.1", MQTTPort: 1, MQTTClientID: "x", MQTTTopic: "t"}, nil)
	require.NoError(t, err)

	err = c.PublishTelemetry(context.Background(), telemetry.Telemetry{DeviceID: "x"})
	require.Error(t, err)
}

func TestClient_ConnectAfterClose(t *testing.T) {
	c, err := NewClient(config.Config{MQTTBroker: "127.0.0.1", MQTTPort: 1, MQTTClientID: "x", MQTTTopic: "t"}, nil)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err = c.Connect(context.Background())
	require.ErrorContains(t, err, "client stopped")
}
