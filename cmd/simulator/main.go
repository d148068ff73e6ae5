package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"math"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	natsadapter "github.com/fieldops/geotrack/internal/adapters/nats"
	"github.com/fieldops/geotrack/internal/core/domain"
	"github.com/fieldops/geotrack/internal/pkg/config"
)

// Simulated field engineers commute between the office and a customer site,
// dwell there, and drive back. Useful for exercising the engine and the
// WebSocket feeds without real devices.

const (
	officeLat = 43.2630
	officeLon = -2.9350
)

type engineer struct {
	id       string
	lat, lon float64
	destLat  float64
	destLon  float64
	speedKmh float64
	dwellLeft int // ticks remaining at the destination
}

func main() {
	users := flag.Int("users", 5, "number of simulated engineers")
	interval := flag.Duration("interval", 5*time.Second, "ping interval")
	jitterM := flag.Float64("jitter", 8, "GPS noise radius in meters")
	flag.Parse()

	cfg, err := config.Load("geotrack-simulator")
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	pub, err := natsadapter.NewPublisher(cfg.NATS.URL)
	if err != nil {
		log.Fatalf("nats: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()

	log.Printf("simulator: %d engineers, ping every %s", *users, *interval)

	var wg sync.WaitGroup
	for i := 0; i < *users; i++ {
		eng := &engineer{
			id:       fmt.Sprintf("sim-eng-%d", i+1),
			lat:      officeLat,
			lon:      officeLon,
			speedKmh: 30 + rand.Float64()*30,
		}
		eng.pickDestination()

		wg.Add(1)
		go func(e *engineer) {
			defer wg.Done()
			ticker := time.NewTicker(*interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					e.step(interval.Seconds())
					ping := e.ping(*jitterM)
					if err := pub.PublishPing(ctx, ping); err != nil {
						log.Printf("[%s] publish: %v", e.id, err)
					}
				}
			}
		}(eng)
	}

	wg.Wait()
	log.Println("simulator stopped")
}

// pickDestination chooses a customer site 2-8 km from the office.
func (e *engineer) pickDestination() {
	distKm := 2 + rand.Float64()*6
	bearing := rand.Float64() * 2 * math.Pi
	e.destLat = officeLat + (distKm/111.0)*math.Cos(bearing)
	e.destLon = officeLon + (distKm/(111.0*math.Cos(officeLat*math.Pi/180)))*math.Sin(bearing)
}

// step advances the engineer towards the destination, or burns dwell time and
// then heads back out.
func (e *engineer) step(seconds float64) {
	if e.dwellLeft > 0 {
		e.dwellLeft--
		if e.dwellLeft == 0 {
			if e.destLat == officeLat && e.destLon == officeLon {
				e.pickDestination()
			} else {
				e.destLat, e.destLon = officeLat, officeLon
			}
		}
		return
	}

	dLat := e.destLat - e.lat
	dLon := e.destLon - e.lon
	distDeg := math.Hypot(dLat, dLon)
	stepDeg := (e.speedKmh / 3600 * seconds) / 111.0

	if distDeg <= stepDeg {
		e.lat, e.lon = e.destLat, e.destLon
		e.dwellLeft = 60 + rand.Intn(120)
		return
	}
	e.lat += dLat / distDeg * stepDeg
	e.lon += dLon / distDeg * stepDeg
}

func (e *engineer) ping(jitterM float64) *domain.LocationPing {
	noiseLat := (rand.Float64()*2 - 1) * jitterM / 111000
	noiseLon := (rand.Float64()*2 - 1) * jitterM / 111000

	accuracy := 5 + rand.Float64()*20
	speed := e.speedKmh
	if e.dwellLeft > 0 {
		speed = 0
	}
	battery := 20 + rand.Intn(80)
	office := domain.GeoPoint{Lat: officeLat, Lon: officeLon}

	return &domain.LocationPing{
		UserID:        e.id,
		Time:          time.Now().UTC(),
		Location:      domain.GeoPoint{Lat: e.lat + noiseLat, Lon: e.lon + noiseLon},
		AccuracyM:     &accuracy,
		SpeedKmh:      &speed,
		BatteryLevel:  &battery,
		NetworkStatus: "wifi",
		OfficeRef:     &office,
	}
}
