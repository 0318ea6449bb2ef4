package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"

	"github.com/hubertat/procket"
	"github.com/hubertat/procket/drivers"
)

var (
	Version string
	Build   string
)

func main() {
	log.Info("procket started")
	log.Info("mock instance for testing puproses, should work on MacOs")
	log.SetLevel(log.DebugLevel)

	statusDuration := 5 * time.Second
	log.Info("status interval", "duration", statusDuration)

	pr := &procket.Procket{
		Name:       "mock",
		HttpAddr:   "127.0.0.1:8080",
		FakeDriver: &drivers.MockIoDriver{},

		HkPin:       "00102003",
		HkDirectory: "./mock_homekit",
		HomeKit: []*procket.HkSwitch{
			{Name: "DUT power", Expander: 4, Targets: []string{"DUT_PWR1_EN", "DUT_PWR2_EN"}},
			{Name: "Relay 0", Expander: 3, Targets: []string{"EXP0_A76_0"}},
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("will init procket drivers...")
	err := pr.InitDrivers(ctx)
	defer pr.Close()
	if err != nil {
		panic(err)
	}

	err = pr.InitFixture()
	if err != nil {
		panic(err)
	}

	// every sda read answers 0x00, so all transfers are acked
	pr.FakeDriver.MonitorStateChanges(os.Stdout)

	pr.PrintStatus(os.Stdout)

	err = pr.Fixture().Up()
	if err != nil {
		log.Error("fixture up failed", "err", err)
	}

	err = pr.InitHomeKit()
	if err != nil {
		panic(err)
	}

	go pr.StartTicker(ctx, statusDuration)

	go func() {
		log.Info("starting mock with HomeKit service")
		hkErr := pr.StartHomeKit(ctx, "mock: "+Version)
		if hkErr != nil {
			log.Error("homekit bridge stopped", "err", hkErr)
		}
	}()

	log.Info("starting mock http api", "addr", pr.HttpAddr)
	err = pr.StartHttp(ctx)
	if err != nil {
		log.Fatal(err)
	}
}
