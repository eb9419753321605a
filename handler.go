package main

import (
	"encoding/hex"
	"log/slog"
	"strings"

	"github.com/currantlabs/ble"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/r0bj/miadv-exporter/internal/advert"
)

var (
	temperature = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mi_temperature",
		Help: "MI sensor temperature",
	},
		[]string{"location"})
	humidity = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mi_humidity",
		Help: "MI sensor humidity",
	},
		[]string{"location"})
	batteryPercent = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mi_battery_percent",
		Help: "MI sensor battery level",
	},
		[]string{"location"})
	batteryVoltage = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mi_battery_voltage",
		Help: "MI sensor battery voltage",
	},
		[]string{"location"})
	advertisementsCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "mi_advertisements_total",
		Help: "BLE advertisements processed, by result",
	},
		[]string{"result"})
)

// discard swallows readings of advertisers that are not stations yet
type discard struct{}

func (discard) SetValue(float64) {}

// rawAdvertisement is implemented by advertisements that expose the
// advertising data as received
type rawAdvertisement interface {
	Data() []byte
}

// payloadOf returns the advertising data of a. Without raw data the 16-bit
// service data is laid out again as AD structures.
func payloadOf(a ble.Advertisement) []byte {
	if r, ok := a.(rawAdvertisement); ok {
		if b := r.Data(); len(b) > 0 {
			return b
		}
	}

	var b []byte
	for _, sd := range a.ServiceData() {
		if sd.UUID.Len() != 2 || len(sd.Data)+3 > 0xFF {
			continue
		}
		b = append(b, byte(len(sd.Data)+3), advert.ServiceDataType)
		b = append(b, sd.UUID...)
		b = append(b, sd.Data...)
	}
	return b
}

func handlerPublisher(stations *Stations) ble.AdvHandler {
	probe := advert.NewScanner(discard{})

	return func(a ble.Advertisement) {
		payload := payloadOf(a)
		addr := strings.ToUpper(a.Address().String())

		st := stations.Lookup(addr)
		if st == nil {
			if outcome := probe.OnAdvertisement(payload, len(payload)); outcome != advert.OutcomeDecoded {
				advertisementsCounter.WithLabelValues(outcome.String()).Inc()
				return
			}
			st = stations.Add("", addr)
			slog.Info("New station", "device", st.Name, "rssi", a.RSSI())
		}

		outcome := st.Scanner.OnAdvertisement(payload, len(payload))
		advertisementsCounter.WithLabelValues(outcome.String()).Inc()
		if outcome != advert.OutcomeDecoded {
			return
		}

		temperature.WithLabelValues(st.Name).Set(st.Temperature.Value())
		humidity.WithLabelValues(st.Name).Set(st.Humidity.Value())

		if record, _, ok := advert.FindServiceData(payload, len(payload)); ok {
			if f, err := advert.DecodeFrame(record); err == nil {
				batteryPercent.WithLabelValues(st.Name).Set(float64(f.BatteryPercent))
				batteryVoltage.WithLabelValues(st.Name).Set(float64(f.BatteryMV) / 1000)
				slog.Debug("Frame", "device", st.Name, "frame", f.String())
			}
		}

		slog.Debug("Reading",
			"device", st.Name,
			"reading", st.String(),
			"rssi", a.RSSI(),
			"data", hex.EncodeToString(payload))
	}
}
