// trackerd runs the perception core against a live SSL vision feed: it
// ingests detection packets over UDP, drives the tracker at a fixed rate and
// periodically logs world-state summaries.
package main

import (
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/banshee-field/fieldwork/internal/config"
	"github.com/banshee-field/fieldwork/internal/geo"
	"github.com/banshee-field/fieldwork/internal/monitoring"
	"github.com/banshee-field/fieldwork/internal/timeutil"
	"github.com/banshee-field/fieldwork/internal/track"
	"github.com/banshee-field/fieldwork/internal/trajplan"
	"github.com/banshee-field/fieldwork/internal/version"
)

type rawPacket struct {
	data        []byte
	receiveTime int64
}

func main() {
	// .env overrides are optional; flags win over both
	_ = godotenv.Load()

	visionAddr := flag.String("vision-addr", envOr("FIELDWORK_VISION_ADDR", "224.5.23.2:10006"), "UDP multicast address of the vision feed")
	configPath := flag.String("config", envOr("FIELDWORK_CONFIG", ""), "tuning config JSON (optional)")
	frameRate := flag.Int("frame-rate", 100, "core loop frequency in Hz")
	snapshotEvery := flag.Duration("snapshot-every", 2*time.Second, "interval between logged world-state summaries")
	flag.Parse()

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		loaded, err := config.LoadTuningConfig(*configPath)
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		tuning = loaded
	}

	tracker := track.NewTracker(track.TrackerConfigFromTuning(tuning))
	clock := timeutil.RealClock{}

	// the planner serves strategy-side plan requests; constructing it here
	// validates the precomputation blob at startup instead of mid-game
	planner := trajplan.NewPlanner(clock.NowNanos())
	planner.SetRobotRadius(tuning.GetRobotRadius())
	if path := tuning.GetPrecomputationPath(); path != "" {
		if err := planner.LoadPrecomputation(path); err != nil {
			monitoring.Logf("trackerd: precomputation unavailable, sampling live: %v", err)
		}
	}
	haveBoundary := false

	addr, err := net.ResolveUDPAddr("udp", *visionAddr)
	if err != nil {
		log.Fatalf("resolve vision address: %v", err)
	}
	var conn *net.UDPConn
	if addr.IP.IsMulticast() {
		conn, err = net.ListenMulticastUDP("udp", nil, addr)
	} else {
		conn, err = net.ListenUDP("udp", addr)
	}
	if err != nil {
		log.Fatalf("listen on vision feed: %v", err)
	}
	defer conn.Close()
	monitoring.Logf("trackerd %s: listening on %s", version.String(), *visionAddr)

	// the reader stamps wall-clock receive times and posts into a bounded
	// queue; the core drains it at frame boundaries
	packets := make(chan rawPacket, 256)
	go func() {
		buf := make([]byte, 65536)
		for {
			n, _, err := conn.ReadFromUDP(buf)
			if err != nil {
				monitoring.Logf("trackerd: vision read: %v", err)
				return
			}
			data := make([]byte, n)
			copy(data, buf[:n])
			select {
			case packets <- rawPacket{data: data, receiveTime: clock.NowNanos()}:
			default:
				// queue full: drop; the tracker tolerates lost frames
			}
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*frameRate))
	defer ticker.Stop()
	lastSnapshot := time.Now()

	for {
		select {
		case <-stop:
			monitoring.Logf("trackerd: shutting down")
			return
		case <-ticker.C:
			for {
				drained := false
				select {
				case p := <-packets:
					tracker.QueuePacket(p.data, p.receiveTime)
				default:
					drained = true
				}
				if drained {
					break
				}
			}
			now := clock.NowNanos()
			tracker.Process(now)

			if time.Since(lastSnapshot) >= *snapshotEvery {
				lastSnapshot = time.Now()
				snapshot := tracker.WorldState(now)
				ballState := "no ball"
				if snapshot.Ball != nil {
					ballState = "ball tracked"
				}
				monitoring.Logf("trackerd: %s, %d yellow, %d blue robots",
					ballState, len(snapshot.Yellow), len(snapshot.Blue))

				if snapshot.Geometry != nil {
					halfX := snapshot.Geometry.FieldWidth/2 + snapshot.Geometry.BoundaryWidth
					halfY := snapshot.Geometry.FieldHeight/2 + snapshot.Geometry.BoundaryWidth
					planner.SetBoundary(-halfX, -halfY, halfX, halfY)
					haveBoundary = true
				}

				// planning probe: a stop-at-ball trajectory for the first
				// tracked robot, reported as an end-to-end health signal
				if haveBoundary && snapshot.Ball != nil && len(snapshot.Yellow) > 0 {
					robot := snapshot.Yellow[0]
					points := planner.Plan(trajplan.Request{
						S0:            robot.Pos,
						V0:            robot.Speed,
						S1:            snapshot.Ball.Pos,
						V1:            geo.Vector2{},
						MaxSpeed:      tuning.GetMaxRobotSpeed(),
						Acceleration:  3,
						AllowSlowDown: true,
					})
					if len(points) > 0 {
						monitoring.Logf("trackerd: plan probe %d points, %.2f s to ball",
							len(points), points[len(points)-1].Time)
					}
				}
			}
		}
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
