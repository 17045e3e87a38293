//go:build e2e

package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const repoRootRel = ".."   // relative to ./e2e
const mainPkgRel = "./cmd" // main.go lives in cmd/

func TestSmoke_ReportsPublishesAndServes(t *testing.T) {
	repoRoot := repoRootPath(t)
	host, port := startMosquitto(t)

	reports := make(chan float64, 16)
	collector := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Require-Whisk-Auth") != "e2e-secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body struct {
			Temperature float64 `json:"temperature_in_celcius"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		select {
		case reports <- body.Temperature:
		default:
		}
		w.WriteHeader(http.StatusCreated)
	}))
	t.Cleanup(collector.Close)

	telemetry := subscribe(t, host, port, "devices/e2e-bottle/telemetry")

	bin := buildBinary(t, repoRoot)
	addr := pickFreeAddr(t)

	cmd := exec.Command(bin)
	cmd.Env = append(os.Environ(),
		"APP_ENV=dev",
		"LOG_LEVEL=info",
		"HTTP_ADDR="+addr,
		"SQLITE_PATH="+filepath.Join(t.TempDir(), "monitor.db"),
		"SENSOR_BACKEND=fake",
		"FAKE_SENSOR_READINGS=20,21,22",
		"POLL_INTERVAL=100ms",
		"TEMPERATURE_THRESHOLD=90",
		"DATA_COLLECTION_ENABLED=true",
		"DATA_COLLECTION_URL="+collector.URL,
		"DATA_COLLECTION_SECRET=e2e-secret",
		"TO_PHONE_NUMBERS=+15550000001",
		"FROM_PHONE_NUMBER=+15550000000",
		"TWILIO_ACCOUNT_ID=AC00000000000000000000000000000000",
		"TWILIO_AUTH_TOKEN=unused",
		"TELEMETRY_SINK=mqtt",
		"MQTT_BROKER="+host,
		fmt.Sprintf("MQTT_PORT=%d", port),
		"MQTT_CLIENT_ID=e2e-monitor",
		"DEVICE_ID=e2e-bottle",
	)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		t.Fatalf("start monitor: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
	})

	client := &http.Client{Timeout: 2 * time.Second}
	waitForOK(t, client, "http://"+addr+"/healthz", 10*time.Second)

	select {
	case v := <-reports:
		if v < 20 || v > 22 {
			t.Errorf("reported %v, want a scripted reading", v)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("no report reached the collector")
	}

	select {
	case msg := <-telemetry:
		var body map[string]any
		if err := json.Unmarshal(msg, &body); err != nil {
			t.Fatalf("telemetry is not JSON: %v", err)
		}
		if body["device_id"] != "e2e-bottle" {
			t.Errorf("device_id = %v", body["device_id"])
		}
	case <-time.After(15 * time.Second):
		t.Fatal("no telemetry on the broker")
	}

	resp, err := client.Get("http://" + addr + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	var status map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if status["gate"] != "idle" {
		t.Errorf("gate = %v, want idle below threshold", status["gate"])
	}

	stopMonitor(t, cmd)
}

func startMosquitto(t *testing.T) (string, int) {
	t.Helper()
	ctx := context.Background()

	req := tc.ContainerRequest{
		Image:        "eclipse-mosquitto:1.6",
		ExposedPorts: []string{"1883/tcp"},
		WaitingFor:   wait.ForListeningPort("1883/tcp").WithStartupTimeout(30 * time.Second),
	}
	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start mosquitto container: %v", err)
	}
	t.Cleanup(func() {
		_ = c.Terminate(ctx)
	})

	host, err := c.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	mapped, err := c.MappedPort(ctx, nat.Port("1883/tcp"))
	if err != nil {
		t.Fatalf("mapped port: %v", err)
	}
	return host, mapped.Int()
}

func subscribe(t *testing.T, host string, port int, topic string) <-chan []byte {
	t.Helper()
	out := make(chan []byte, 16)

	opts := mqtt.NewClientOptions().
		AddBroker(fmt.Sprintf("tcp://%s:%d", host, port)).
		SetClientID("e2e-subscriber")
	client := mqtt.NewClient(opts)
	if tok := client.Connect(); !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscriber connect: %v", tok.Error())
	}
	t.Cleanup(func() { client.Disconnect(250) })

	tok := client.Subscribe(topic, 1, func(_ mqtt.Client, m mqtt.Message) {
		select {
		case out <- m.Payload():
		default:
		}
	})
	if !tok.WaitTimeout(10*time.Second) || tok.Error() != nil {
		t.Fatalf("subscribe: %v", tok.Error())
	}
	return out
}

func repoRootPath(t *testing.T) string {
	t.Helper()

	wd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}

	repo := filepath.Clean(filepath.Join(wd, repoRootRel))
	if _, err := os.Stat(filepath.Join(repo, "go.mod")); err != nil {
		t.Fatalf("repo root %q does not contain go.mod: %v", repo, err)
	}
	return repo
}

func buildBinary(t *testing.T, repoRoot string) string {
	t.Helper()

	out := filepath.Join(t.TempDir(), "babybottle-monitor")
	build := exec.Command("go", "build", "-o", out, mainPkgRel)
	build.Dir = repoRoot
	build.Env = os.Environ()

	b, err := build.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(b))
	}
	return out
}

func pickFreeAddr(t *testing.T) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen :0: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func waitForOK(t *testing.T, client *http.Client, url string, timeout time.Duration) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := client.Get(url)
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("monitor not healthy after %s: %s", timeout, url)
}

func stopMonitor(t *testing.T, cmd *exec.Cmd) {
	t.Helper()

	_ = cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case <-time.After(5 * time.Second):
		_ = cmd.Process.Kill()
		t.Fatalf("monitor did not exit in time")
	case err := <-done:
		if err != nil {
			var exitErr *exec.ExitError
			if errors.As(err, &exitErr) {
				t.Fatalf("monitor exited non-zero: %v", err)
			}
			t.Fatalf("monitor wait error: %v", err)
		}
	}
}
