package main

import (
	"context"
	"encoding/json"
	"flag"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charmbracelet/log"
	"github.com/hubertat/servicemaker"

	"github.com/hubertat/procket"
)

const defaultStatusInterval = "10s"

var (
	Version string
	Build   string

	config         = flag.String("config", "config.json", "path of the configuration file")
	flagInstall    = flag.Bool("install", false, "Install service in os")
	flagUp         = flag.Bool("up", false, "power the fixture up at start and down at exit")
	statusInterval = flag.String("status", "", "power status sampling interval (time.Duration), overrides config")

	prService = servicemaker.ServiceMaker{
		User:               "procket",
		UserGroups:         []string{"gpio", "i2c"},
		ServicePath:        "/etc/systemd/system/procket.service",
		ServiceDescription: "Procket service: test fixture control over bit-banged I2C. github.com/hubertat/procket",
		ExecDir:            "/srv/procket",
		ExecName:           "procket",
	}
)

func main() {
	log.Info("procket started", "version", Version, "build", Build)
	flag.Parse()

	if *flagInstall {
		err := prService.InstallService()
		if err != nil {
			panic(err)
		} else {
			log.Info("service installed!")
			return
		}
	}

	pr := &procket.Procket{}
	configFile, err := os.Open(*config)
	if err == nil {
		cBuff, err := io.ReadAll(configFile)
		configFile.Close()
		if err != nil {
			log.Fatal("failed reading config file", "err", err)
		}

		err = json.Unmarshal(cBuff, pr)
		if err != nil {
			log.Fatal("failed unmarshalling json config", "err", err)
		}
	} else {
		log.Fatal("can't find/open config file, will terminate", "path", *config, "err", err)
	}

	err = pr.SetupLogging()
	if err != nil {
		log.Fatal("invalid log level", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("will init procket drivers...")
	err = pr.InitDrivers(ctx)
	defer pr.Close()
	if err != nil {
		log.Fatal("failed to init drivers", "err", err)
	}

	err = pr.InitFixture()
	if err != nil {
		log.Fatal("failed to init fixture", "err", err)
	}

	if len(pr.MqttBroker) > 0 {
		err = pr.InitMqtt()
		if err != nil {
			log.Error("mqtt failed, we will proceed without it", "err", err)
		}
	}

	if pr.Influx != nil {
		err = pr.Influx.Setup()
		if err != nil {
			log.Error("influx failed, we will proceed without it", "err", err)
			pr.Influx = nil
		}
	}

	pr.PrintStatus(os.Stdout)

	if *flagUp {
		err = pr.Fixture().Up()
		if err != nil {
			log.Fatal("fixture up failed", "err", err)
		}
		defer func() {
			downErr := pr.Fixture().Down()
			if downErr != nil {
				log.Error("fixture down failed", "err", downErr)
			}
		}()
	}

	if len(pr.HkPin) == 8 {
		err = pr.InitHomeKit()
		if err != nil {
			log.Fatal("failed to init homekit switches", "err", err)
		}
		go func() {
			hkErr := pr.StartHomeKit(ctx, Version)
			if hkErr != nil {
				log.Error("homekit bridge stopped", "err", hkErr)
			}
		}()
	} else {
		log.Info("homekit not configured, disabled")
	}

	interval := pr.StatusInterval
	if len(*statusInterval) > 0 {
		interval = *statusInterval
	}
	if len(interval) == 0 {
		interval = defaultStatusInterval
	}
	statusDuration, err := time.ParseDuration(interval)
	if err != nil {
		log.Fatal("invalid status interval", "interval", interval, "err", err)
	}
	go pr.StartTicker(ctx, statusDuration)

	if len(pr.HttpAddr) > 0 {
		err = pr.StartHttp(ctx)
		if err != nil {
			log.Error("http api stopped", "err", err)
		}
	} else {
		log.Info("http api not configured, disabled")
		<-ctx.Done()
	}

	log.Info("procket stopping")
}
