package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv   string
	LogLevel slog.Level
	// LogDir, when set, also receives one log file per day.
	LogDir string

	DataCollectionEnabled bool
	DataCollectionURL     string
	DataCollectionSecret  string
	ReportTimeout         time.Duration
	ReportMinDelta        float64

	ToPhoneNumbers  []string
	FromPhoneNumber string
	TwilioAccountID string
	TwilioAuthToken string
	AlertOnRecovery bool
	// AlertRetryInterval is the minimum gap between attempts after an alert
	// reached nobody. Zero retries on every tick.
	AlertRetryInterval time.Duration

	TemperatureThreshold int
	SamplingSize         int
	PollInterval         time.Duration

	SensorBackend      string
	SensorDevicePath   string
	W1DevicesDir       string
	BME280Address      uint16
	FakeSensorReadings string

	HTTPAddr   string
	SQLitePath string
	// HistoryRetention bounds the age of stored history rows. Zero keeps
	// everything.
	HistoryRetention time.Duration

	TelemetrySink string
	DeviceID      string
	MQTTBroker    string
	MQTTPort      int
	MQTTClientID  string
	MQTTTopic     string
	KafkaBrokers  []string
	KafkaTopic    string
}

// ErrMissing is wrapped by every error about an unset required variable.
var ErrMissing = errors.New("required variable not set")

// LoadDotEnv loads a .env file from the working directory when one exists.
// Variables already present in the environment win.
func LoadDotEnv() error {
	if _, err := os.Stat(".env"); err != nil {
		return nil
	}
	return godotenv.Load()
}

func LoadFromEnv() (Config, error) {
	appEnv := strings.TrimSpace(os.Getenv("APP_ENV"))
	if appEnv == "" {
		appEnv = "dev"
	}
	switch appEnv {
	case "dev", "prod":
	default:
		return Config{}, fmt.Errorf("invalid APP_ENV %q (allowed: dev, prod)", appEnv)
	}

	logLevelStr := strings.TrimSpace(os.Getenv("LOG_LEVEL"))
	if logLevelStr == "" {
		logLevelStr = "info"
	}
	level, err := parseLogLevel(logLevelStr)
	if err != nil {
		return Config{}, err
	}

	enabledStr, err := required("DATA_COLLECTION_ENABLED")
	if err != nil {
		return Config{}, err
	}
	enabled, err := strconv.ParseBool(enabledStr)
	if err != nil {
		return Config{}, fmt.Errorf("invalid DATA_COLLECTION_ENABLED %q: %w", enabledStr, err)
	}

	var collectionURL, collectionSecret string
	if enabled {
		if collectionURL, err = required("DATA_COLLECTION_URL"); err != nil {
			return Config{}, err
		}
		if collectionSecret, err = required("DATA_COLLECTION_SECRET"); err != nil {
			return Config{}, err
		}
	}

	reportTimeout, err := positiveDuration("REPORT_TIMEOUT", "10s")
	if err != nil {
		return Config{}, err
	}

	minDeltaStr := strings.TrimSpace(os.Getenv("REPORT_MIN_DELTA"))
	if minDeltaStr == "" {
		minDeltaStr = "0"
	}
	minDelta, err := strconv.ParseFloat(minDeltaStr, 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid REPORT_MIN_DELTA %q: %w", minDeltaStr, err)
	}
	if minDelta < 0 {
		return Config{}, fmt.Errorf("REPORT_MIN_DELTA must not be negative, got %v", minDelta)
	}

	toStr, err := required("TO_PHONE_NUMBERS")
	if err != nil {
		return Config{}, err
	}
	to := splitList(toStr)
	if len(to) == 0 {
		return Config{}, fmt.Errorf("TO_PHONE_NUMBERS: %w", ErrMissing)
	}
	from, err := required("FROM_PHONE_NUMBER")
	if err != nil {
		return Config{}, err
	}
	twilioAccountID, err := required("TWILIO_ACCOUNT_ID")
	if err != nil {
		return Config{}, err
	}
	twilioAuthToken, err := required("TWILIO_AUTH_TOKEN")
	if err != nil {
		return Config{}, err
	}

	alertOnRecovery := true
	if s := strings.TrimSpace(os.Getenv("ALERT_ON_RECOVERY")); s != "" {
		if alertOnRecovery, err = strconv.ParseBool(s); err != nil {
			return Config{}, fmt.Errorf("invalid ALERT_ON_RECOVERY %q: %w", s, err)
		}
	}

	alertRetryInterval, err := nonNegativeDuration("ALERT_RETRY_INTERVAL", "30s")
	if err != nil {
		return Config{}, err
	}

	threshold, err := intWithDefault("TEMPERATURE_THRESHOLD", "30")
	if err != nil {
		return Config{}, err
	}
	samplingSize, err := intWithDefault("SAMPLING_SIZE", "300")
	if err != nil {
		return Config{}, err
	}
	if samplingSize < 2 {
		return Config{}, fmt.Errorf("SAMPLING_SIZE must be at least 2, got %d", samplingSize)
	}

	pollInterval, err := positiveDuration("POLL_INTERVAL", "1s")
	if err != nil {
		return Config{}, err
	}

	backend := strings.ToLower(strings.TrimSpace(os.Getenv("SENSOR_BACKEND")))
	if backend == "" {
		backend = "w1"
	}
	switch backend {
	case "w1", "bme280", "fake":
	default:
		return Config{}, fmt.Errorf("invalid SENSOR_BACKEND %q (allowed: w1, bme280, fake)", backend)
	}

	w1Dir := strings.TrimSpace(os.Getenv("W1_DEVICES_DIR"))
	if w1Dir == "" {
		w1Dir = "/sys/bus/w1/devices/"
	}

	bme280AddressStr := strings.TrimSpace(os.Getenv("BME280_ADDRESS"))
	if bme280AddressStr == "" {
		bme280AddressStr = "0x76"
	}
	bme280Address, err := strconv.ParseUint(bme280AddressStr, 0, 16)
	if err != nil {
		return Config{}, fmt.Errorf("invalid BME280_ADDRESS %q: %w", bme280AddressStr, err)
	}

	fakeReadings := strings.TrimSpace(os.Getenv("FAKE_SENSOR_READINGS"))
	if backend == "fake" && fakeReadings == "" {
		return Config{}, fmt.Errorf("FAKE_SENSOR_READINGS (SENSOR_BACKEND=fake): %w", ErrMissing)
	}

	httpAddr, ok := os.LookupEnv("HTTP_ADDR")
	httpAddr = strings.TrimSpace(httpAddr)
	if !ok {
		httpAddr = ":8080"
	}

	sqlitePath, ok := os.LookupEnv("SQLITE_PATH")
	sqlitePath = strings.TrimSpace(sqlitePath)
	if !ok {
		sqlitePath = "data/monitor.db"
	}

	historyRetention, err := nonNegativeDuration("HISTORY_RETENTION", "168h")
	if err != nil {
		return Config{}, err
	}

	sink := strings.ToLower(strings.TrimSpace(os.Getenv("TELEMETRY_SINK")))
	if sink == "" {
		sink = "none"
	}
	switch sink {
	case "none", "mqtt", "kafka":
	default:
		return Config{}, fmt.Errorf("invalid TELEMETRY_SINK %q (allowed: none, mqtt, kafka)", sink)
	}

	deviceID := strings.TrimSpace(os.Getenv("DEVICE_ID"))
	if deviceID == "" {
		deviceID = "bottle"
	}

	mqttBroker := strings.TrimSpace(os.Getenv("MQTT_BROKER"))
	if mqttBroker == "" {
		mqttBroker = "localhost"
	}
	mqttPort, err := intWithDefault("MQTT_PORT", "1883")
	if err != nil {
		return Config{}, err
	}
	mqttClientID := strings.TrimSpace(os.Getenv("MQTT_CLIENT_ID"))
	if mqttClientID == "" {
		mqttClientID = "babybottle-monitor"
	}
	mqttTopic := strings.TrimSpace(os.Getenv("MQTT_TOPIC"))
	if mqttTopic == "" {
		mqttTopic = "devices/" + deviceID + "/telemetry"
	}

	kafkaBrokers := splitList(os.Getenv("KAFKA_BROKERS"))
	if sink == "kafka" && len(kafkaBrokers) == 0 {
		return Config{}, fmt.Errorf("KAFKA_BROKERS (TELEMETRY_SINK=kafka): %w", ErrMissing)
	}
	kafkaTopic := strings.TrimSpace(os.Getenv("KAFKA_TOPIC"))
	if kafkaTopic == "" {
		kafkaTopic = "bottle.telemetry"
	}

	return Config{
		AppEnv:                appEnv,
		LogLevel:              level,
		LogDir:                strings.TrimSpace(os.Getenv("LOG_DIR")),
		DataCollectionEnabled: enabled,
		DataCollectionURL:     collectionURL,
		DataCollectionSecret:  collectionSecret,
		ReportTimeout:         reportTimeout,
		ReportMinDelta:        minDelta,
		ToPhoneNumbers:        to,
		FromPhoneNumber:       from,
		TwilioAccountID:       twilioAccountID,
		TwilioAuthToken:       twilioAuthToken,
		AlertOnRecovery:       alertOnRecovery,
		AlertRetryInterval:    alertRetryInterval,
		TemperatureThreshold:  threshold,
		SamplingSize:          samplingSize,
		PollInterval:          pollInterval,
		SensorBackend:         backend,
		SensorDevicePath:      strings.TrimSpace(os.Getenv("SENSOR_DEVICE_PATH")),
		W1DevicesDir:          w1Dir,
		BME280Address:         uint16(bme280Address),
		FakeSensorReadings:    fakeReadings,
		HTTPAddr:              httpAddr,
		SQLitePath:            sqlitePath,
		HistoryRetention:      historyRetention,
		TelemetrySink:         sink,
		DeviceID:              deviceID,
		MQTTBroker:            mqttBroker,
		MQTTPort:              mqttPort,
		MQTTClientID:          mqttClientID,
		MQTTTopic:             mqttTopic,
		KafkaBrokers:          kafkaBrokers,
		KafkaTopic:            kafkaTopic,
	}, nil
}

func required(key string) (string, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return "", fmt.Errorf("%s: %w", key, ErrMissing)
	}
	return v, nil
}

// splitList splits a comma separated value, trimming entries and dropping
// empty ones.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func intWithDefault(key, def string) (int, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		s = def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	return n, nil
}

func positiveDuration(key, def string) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive, got %v", key, d)
	}
	return d, nil
}

func nonNegativeDuration(key, def string) (time.Duration, error) {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		s = def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("%s must not be negative, got %v", key, d)
	}
	return d, nil
}

func parseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid LOG_LEVEL %q (allowed: debug, info, warn, error)", s)
	}
}
