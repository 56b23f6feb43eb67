//go:build tinygo && rp2040

// Firmware for a Raspberry Pi Pico node: DS18B20 on GP15, CO2 module TX on
// GP9 (UART1 RX, through a divider when the module runs at 5V).
package main

import (
	"context"
	"machine"
	"time"

	"github.com/mklimuk/envnode/air"
	"github.com/mklimuk/envnode/environment"
	"github.com/mklimuk/envnode/pin"
	"github.com/mklimuk/envnode/pipeline"
	"github.com/mklimuk/envnode/timing"
	"github.com/mklimuk/envnode/w1"
)

const (
	w1Pin    = machine.GPIO15
	co2RxPin = machine.GPIO9
	co2TxPin = machine.GPIO8
	interval = 5 * time.Minute
)

type consoleSink struct{}

func (consoleSink) Publish(_ context.Context, r pipeline.Reading) error {
	print("[envnode] ")
	if r.Temperature != nil {
		print("temp=", int32(*r.Temperature*100), "e-2C ")
	} else {
		print("temp=none ")
	}
	if r.CO2 != nil {
		print("co2=", *r.CO2, "ppm")
	} else {
		print("co2=none")
	}
	println()
	return nil
}

func main() {
	println("[envnode] boot")
	time.Sleep(1500 * time.Millisecond)

	master, err := w1.NewMaster(pin.NewMachine(w1Pin, false), timing.NewInterrupts())
	if err != nil {
		println("[envnode] FAIL: bus init:", err.Error())
		return
	}
	uart := machine.UART1
	if err := uart.Configure(machine.UARTConfig{BaudRate: 9600, TX: co2TxPin, RX: co2RxPin}); err != nil {
		println("[envnode] FAIL: uart init:", err.Error())
		return
	}

	p := pipeline.New(
		environment.NewDS18B20(master),
		air.NewCO2(uart, air.WithChunkSize(8)),
		consoleSink{},
		pipeline.WithNode("pico"),
		pipeline.WithInterval(interval),
	)
	_ = p.Run(context.Background())
}
