// Copyright (c) 2016 by Thorsten von Eicken, see LICENSE file for details

// Command modemd is the daemon form of the modem: it loads a TOML
// configuration, brings up a real Si100x-class radio over SPI, bridges it to
// a host UART, and runs the TDM main loop until killed. It mirrors
// mqttradio's shape (config file driven, one radio, optional MQTT telemetry)
// adapted to a single point-to-point link instead of a multi-radio gateway.
package main

import (
	"fmt"
	"os"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/eclipse/paho.mqtt.golang"
	"github.com/spf13/pflag"
	"periph.io/x/periph/conn/gpio/gpioreg"
	"periph.io/x/periph/conn/physic"
	"periph.io/x/periph/conn/spi"
	"periph.io/x/periph/conn/spi/spireg"
	"periph.io/x/periph/host"

	"github.com/tve-radio/tdmmodem/atcmd"
	"github.com/tve-radio/tdmmodem/config"
	"github.com/tve-radio/tdmmodem/fhop"
	"github.com/tve-radio/tdmmodem/framer"
	"github.com/tve-radio/tdmmodem/mac"
	"github.com/tve-radio/tdmmodem/phy"
	"github.com/tve-radio/tdmmodem/phy/si1000"
	"github.com/tve-radio/tdmmodem/serial"
	"github.com/tve-radio/tdmmodem/tdm"
	"github.com/tve-radio/tdmmodem/thread"
	"github.com/tve-radio/tdmmodem/tick"
)

func main() {
	configFile := pflag.StringP("config", "c", "modemd.toml", "path to config file")
	uartPath := pflag.StringP("uart", "u", "/dev/ttyAMA0", "host serial device")
	spiBus := pflag.Int("spi-bus", 0, "SPI bus number the radio is wired to")
	spiCS := pflag.Int("spi-cs", 0, "SPI chip-select the radio is wired to")
	intrPin := pflag.String("intr-pin", "", "GPIO name wired to the radio's interrupt line")
	spiBackend := pflag.String("spi-backend", "periph", "SPI/GPIO backend: periph or embd")
	mqttHost := pflag.String("mqtt-host", "", "MQTT broker host; empty disables telemetry publish")
	mqttTopic := pflag.String("mqtt-topic", "tdmmodem/stats", "MQTT topic for link statistics")
	debug := pflag.Bool("debug", false, "enable debug-level logging")
	pflag.Parse()

	logger := charmlog.NewWithOptions(os.Stderr, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      time.StampMilli,
	})
	if *debug {
		logger.SetLevel(charmlog.DebugLevel)
	}
	logf := func(format string, v ...interface{}) { logger.Debugf(format, v...) }

	params, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal("loading config", "err", err)
	}
	freqPlan := config.DeriveFrequencyPlan(params)
	logger.Info("configuration loaded", "netid", params.NetID, "board", params.Board,
		"channels", freqPlan.NumChannels, "air_speed", params.AirSpeed)

	if err := thread.Realtime(); err != nil {
		logger.Warn("could not elevate to realtime scheduling, continuing anyway", "err", err)
	}

	if *intrPin == "" {
		logger.Fatal("--intr-pin is required")
	}
	var spiDev si1000.SPI
	var gpioDev si1000.GPIO
	switch *spiBackend {
	case "embd":
		spiDev = si1000.NewEmbdSPI(byte(*spiBus), byte(*spiCS))
		gpioDev = si1000.NewEmbdGPIO(*intrPin)
		if gpioDev == nil {
			logger.Fatal("cannot open interrupt pin", "pin", *intrPin)
		}
	default:
		if _, err := host.Init(); err != nil {
			logger.Fatal("periph host init", "err", err)
		}
		spiBusCloser, err := spireg.Open(fmt.Sprintf("SPI%d.%d", *spiBus, *spiCS))
		if err != nil {
			logger.Fatal("opening radio SPI bus", "err", err)
		}
		spiConn, err := spiBusCloser.Connect(4*physic.MegaHertz, spi.Mode0, 8)
		if err != nil {
			logger.Fatal("connecting radio SPI bus", "err", err)
		}
		gpioPin := gpioreg.ByName(*intrPin)
		if gpioPin == nil {
			logger.Fatal("cannot open interrupt pin", "pin", *intrPin)
		}
		spiDev = si1000.NewPeriphSPI(spiConn)
		gpioDev = si1000.NewPeriphGPIO(gpioPin)
	}

	dev := si1000.New(spiDev, gpioDev, logf)
	if ok := dev.Initialise(); !ok {
		logger.Fatal("radio initialise failed")
	}
	rate, ok := dev.Configure(phy.NearestRate(phy.Rate(params.AirSpeed)))
	if !ok {
		logger.Fatal("radio configure failed", "requested_rate", params.AirSpeed)
	}
	dev.SetFrequency(freqPlan.BaseFreqHz)
	dev.SetChannelSpacing(freqPlan.ChannelSpacing)
	dev.SetNetworkID(uint16(params.NetID))
	dev.SetTransmitPower(params.TXPower)
	logger.Info("radio ready", "air_rate", rate)

	uart, err := serial.Open(*uartPath, params.SerialSpeed)
	if err != nil {
		logger.Fatal("opening serial port", "path", *uartPath, "err", err)
	}

	var paTemp *si1000.PATemperature
	if tempBusCloser, err := spireg.Open(fmt.Sprintf("SPI%d.%d", *spiBus, *spiCS+1)); err == nil {
		if tempConn, err := tempBusCloser.Connect(4*physic.MegaHertz, spi.Mode0, 8); err == nil {
			if pt, err := si1000.NewPATemperature(si1000.NewPeriphSPI(tempConn)); err == nil {
				paTemp = pt
			} else {
				logger.Warn("PA temperature sensor unavailable, duty-cycle throttle disabled", "err", err)
			}
		}
	}

	var mq mqtt.Client
	if *mqttHost != "" {
		opts := mqtt.NewClientOptions().AddBroker(fmt.Sprintf("tcp://%s:1883", *mqttHost))
		opts.ClientID = fmt.Sprintf("modemd-%d", params.NetID)
		mq = mqtt.NewClient(opts)
		if token := mq.Connect(); !token.WaitTimeout(10 * time.Second) || token.Error() != nil {
			logger.Warn("MQTT connect failed, continuing without telemetry", "err", token.Error())
			mq = nil
		} else {
			logger.Info("MQTT connected", "host", *mqttHost)
		}
	}

	round := phy.DeriveRoundParams(phy.RoundInput{
		AirRate:       rate,
		UseGolay:      params.ECC,
		UserMaxWindow: tick.Ticks(params.MaxWindowMs * 1000 / 16),
		NumFHChannels: freqPlan.NumChannels,
	})

	fr := framer.New(uart.Rx, nil)
	fr.SetMaxXmit(round.MaxDataPacketLength)
	fr.MAVLinkFraming = params.MAVLink

	plan := fhop.NewPlan(uint16(params.NetID), freqPlan.NumChannels)
	remote := &atcmd.RemoteQueue{}

	cfg := tdm.Config{
		Round:            round,
		DutyCycle:        uint8(params.DutyCycle),
		LBTRSSI:          params.LBTRSSI,
		NumFHChannels:    freqPlan.NumChannels,
		TargetRSSI:       params.TargetRSSI,
		PowerHysteresis:  params.HysteresisRSSI,
		MinPowerDBm:      config.BoardMinTXPower,
		MaxPowerDBm:      config.BoardMaxTXPower,
		MaxPATemperature: 700, // 70.0C
	}
	m := tdm.New(cfg, plan, fr, remote)
	m.LogPrintf = logf

	loop := &mac.Loop{
		Device:    dev,
		MAC:       m,
		Framer:    fr,
		Plan:      plan,
		Serial:    uart,
		Remote:    remote,
		Escape:    atcmd.NewEscapeDetector(tick.Ticks(1000000 / 16)),
		UseGolay:  params.ECC,
		LogPrintf: logf,
	}
	if paTemp != nil {
		loop.Temp = paTemp
	}

	logger.Info("modem running")
	lastStats := time.Now()
	for {
		now := tick.Ticks(time.Now().UnixMicro() / 16)
		loop.Step(now)

		if mq != nil && time.Since(lastStats) > 5*time.Second {
			lastStats = time.Now()
			mq.Publish(*mqttTopic, 0, false, fmt.Sprintf(
				`{"rssi":%d,"tx_power":%d}`, m.Local.AverageRSSI, m.LastTransmitPower))
		}
	}
}
