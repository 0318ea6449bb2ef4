package procket

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/hubertat/procket/drivers"
	"github.com/hubertat/procket/mqtt"
)

const defaultName = "procket"

// Procket is the service configuration, decoded from the JSON config file.
type Procket struct {
	Name   string
	Device string

	SdaWrite string
	SdaRead  string
	Scl      string

	DriverName string
	Gpio       *drivers.GpIO
	Mcp23017   *drivers.McpIO
	FakeDriver *drivers.MockIoDriver

	HttpAddr   string
	MqttBroker string
	Influx     *InfluxRecorder

	HkPin       string
	HkDirectory string
	HkAddress   string
	HkDebug     bool
	HomeKit     []*HkSwitch

	StatusInterval string
	LogLevel       string

	lineDrivers map[string]drivers.LineDriver
	fixture     *Fixture
	mqttClient  *mqtt.MqttClient
	server      *http.Server
	logger      *log.Logger
}

// StatusReport is what the ticker publishes and GET /status returns.
type StatusReport struct {
	Name  string    `json:"name"`
	State State     `json:"state"`
	Rails []string  `json:"rails,omitempty"`
	Error string    `json:"error,omitempty"`
	Time  time.Time `json:"time"`
}

func (pr *Procket) GetName() string {
	if len(pr.Name) == 0 {
		return defaultName
	}
	return pr.Name
}

func (pr *Procket) getLogger() *log.Logger {
	if pr.logger == nil {
		pr.logger = log.NewWithOptions(os.Stderr, log.Options{
			Prefix: pr.GetName(),
			Level:  log.GetLevel(),
		})
	}
	return pr.logger
}

// SetupLogging applies LogLevel to the global logger. Call it before any
// component logger is created.
func (pr *Procket) SetupLogging() error {
	if len(pr.LogLevel) == 0 {
		return nil
	}

	level, err := log.ParseLevel(pr.LogLevel)
	if err != nil {
		return &ConfigurationError{Field: "LogLevel", Value: pr.LogLevel, Reason: err.Error()}
	}
	log.SetLevel(level)
	return nil
}

func (pr *Procket) InitDrivers(ctx context.Context) error {
	pr.lineDrivers = make(map[string]drivers.LineDriver)

	if pr.Gpio != nil {
		pr.lineDrivers[pr.Gpio.String()] = pr.Gpio
	}

	if pr.Mcp23017 != nil {
		pr.lineDrivers[pr.Mcp23017.String()] = pr.Mcp23017
	}

	if pr.FakeDriver != nil {
		pr.lineDrivers[pr.FakeDriver.String()] = pr.FakeDriver
	}

	if len(pr.lineDrivers) == 0 {
		return errors.New("no line driver configured")
	}

	for _, driver := range pr.lineDrivers {
		err := driver.Setup(ctx)
		if err != nil {
			return errors.Wrapf(err, "failed to setup %s driver", driver)
		}
	}

	return nil
}

// LineDriver picks the driver named by DriverName, or the only configured one.
func (pr *Procket) LineDriver() (drivers.LineDriver, error) {
	if len(pr.DriverName) > 0 {
		for name, driver := range pr.lineDrivers {
			if strings.EqualFold(name, pr.DriverName) {
				return driver, nil
			}
		}
		return nil, &ConfigurationError{Field: "DriverName", Value: pr.DriverName, Reason: "driver not configured"}
	}

	if len(pr.lineDrivers) != 1 {
		return nil, &ConfigurationError{Field: "DriverName", Reason: fmt.Sprintf("%d drivers configured, pick one", len(pr.lineDrivers))}
	}
	for _, driver := range pr.lineDrivers {
		return driver, nil
	}
	return nil, nil
}

func (pr *Procket) InitFixture() error {
	driver, err := pr.LineDriver()
	if err != nil {
		return err
	}

	pr.fixture = NewFixture(driver, pr.Device, pr.SdaWrite, pr.SdaRead, pr.Scl)
	pr.getLogger().Info("fixture ready", "driver", driver, "sda_write", pr.fixture.SdaWrite, "sda_read", pr.fixture.SdaRead, "scl", pr.fixture.Scl)
	return nil
}

func (pr *Procket) Fixture() *Fixture {
	return pr.fixture
}

func (pr *Procket) Close() (err error) {
	if pr.server != nil {
		err = pr.server.Close()
	}

	if pr.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		err = stderrors.Join(err, pr.mqttClient.Disconnect(ctx))
		cancel()
	}

	if pr.Influx != nil {
		pr.Influx.Close()
	}

	for _, driver := range pr.lineDrivers {
		if driver != nil {
			err = stderrors.Join(err, driver.Close())
		}
	}

	return
}

func (pr *Procket) PrintStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== procket ===")
	fmt.Fprintf(writer, "| name: %s\n", pr.GetName())
	for driverName, driver := range pr.lineDrivers {
		fmt.Fprintf(writer, "| driver: %s (ready: %t)\n", driverName, driver.IsReady())
	}
	if pr.fixture != nil {
		fmt.Fprintf(writer, "| i2c: sda write %s, sda read %s, scl %s\n", pr.fixture.SdaWrite, pr.fixture.SdaRead, pr.fixture.Scl)
		state := pr.fixture.State()
		fmt.Fprintf(writer, "| expanders: 1=%#04x 2=%#04x 3=%#04x 4=%#04x\n", state.Connectors, state.Power, state.Relays, state.Dut)
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}

// SampleStatus reads the power status once and reports it to every
// configured sink. A bus error ends up in the report, not in the return.
func (pr *Procket) SampleStatus(ctx context.Context) (report StatusReport) {
	report = StatusReport{
		Name:  pr.GetName(),
		State: pr.fixture.State(),
		Time:  time.Now(),
	}

	rails, err := pr.fixture.PowerStatus()
	if err != nil {
		report.Error = err.Error()
		pr.getLogger().Error("power status failed", "err", err)
	}
	for _, rail := range rails {
		report.Rails = append(report.Rails, rail.String())
	}

	if pr.mqttClient != nil {
		payload, _ := json.Marshal(report)
		pubErr := pr.mqttClient.Publish(pr.statusTopic(), payload)
		if pubErr != nil {
			pr.getLogger().Warn("failed to publish status", "err", pubErr)
		}
	}

	if pr.Influx != nil && err == nil {
		writeErr := pr.Influx.Record(ctx, pr.GetName(), rails)
		if writeErr != nil {
			pr.getLogger().Warn("failed to record status", "err", writeErr)
		}
	}

	return
}

// StartTicker samples the status every interval until ctx is done.
func (pr *Procket) StartTicker(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pr.SampleStatus(ctx)
			pr.SyncHomeKit()
		}
	}
}
