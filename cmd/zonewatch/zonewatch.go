// Command zonewatch serves zone occupancy over HTTP. It reconciles a
// 2D demo scene against the registered zones, journals every transition
// to SQLite, and optionally wanders simulated members around the scene
// so there is traffic to watch.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/banshee-data/occupancy.report/internal/api"
	"github.com/banshee-data/occupancy.report/internal/config"
	"github.com/banshee-data/occupancy.report/internal/scene"
	"github.com/banshee-data/occupancy.report/internal/version"
	"github.com/banshee-data/occupancy.report/internal/zone"
	"github.com/banshee-data/occupancy.report/internal/zonedb"
)

var (
	listen      = flag.String("listen", ":8080", "Listen address")
	dbPath      = flag.String("db-path", "zonewatch.db", "SQLite database path")
	configPath  = flag.String("config", "", "Watch config JSON file (optional)")
	zoneSpecs   = flag.String("zones", defaultZones, "Comma-separated zone specs, each id:minX:minY:maxX:maxY")
	sim         = flag.Bool("sim", false, "Wander simulated members around the scene")
	simMembers  = flag.Int("sim-members", 4, "Simulated member count (with -sim)")
	seed        = flag.Int64("seed", 0, "Simulation seed (0 seeds from the clock)")
	showVersion = flag.Bool("version", false, "Print version and exit")
)

const defaultZones = "checkout:0:0:10:10,entrance:20:0:30:10"

// Scene bounds for simulated members. Wide enough that walkers spend
// most of their time outside the default zones.
const (
	worldMinX = -10.0
	worldMinY = -10.0
	worldMaxX = 40.0
	worldMaxY = 20.0
)

// zoneSpec is one parsed -zones entry. Each demo zone is backed by a
// single collision region sharing its id.
type zoneSpec struct {
	id   string
	rect scene.Rect
}

func parseZoneSpecs(s string) ([]zoneSpec, error) {
	var specs []zoneSpec
	for _, raw := range strings.Split(s, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		parts := strings.Split(raw, ":")
		if len(parts) != 5 {
			return nil, fmt.Errorf("invalid zone spec %q, expected id:minX:minY:maxX:maxY", raw)
		}
		if parts[0] == "" {
			return nil, fmt.Errorf("invalid zone spec %q, empty id", raw)
		}

		var coords [4]float64
		for i, p := range parts[1:] {
			v, err := strconv.ParseFloat(p, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid coordinate %q in zone spec %q", p, raw)
			}
			coords[i] = v
		}

		specs = append(specs, zoneSpec{
			id:   parts[0],
			rect: scene.Rect{MinX: coords[0], MinY: coords[1], MaxX: coords[2], MaxY: coords[3]},
		})
	}
	if len(specs) == 0 {
		return nil, errors.New("no zones configured")
	}
	return specs, nil
}

// logDisplay stands in for a physical occupancy display and logs every
// rendered member list instead.
type logDisplay struct {
	zone string
}

func (d *logDisplay) SetText(text string) error {
	log.Printf("display [%s]: %q", d.zone, text)
	return nil
}

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Subcommand dispatch before any long-lived setup.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		zonedb.RunMigrateCommand(args[1:], *dbPath)
		return
	}

	cfg := config.EmptyWatchConfig()
	if *configPath != "" {
		loaded, err := config.LoadWatchConfig(*configPath)
		if err != nil {
			log.Fatalf("Failed to load watch config: %v", err)
		}
		cfg = loaded
	}

	specs, err := parseZoneSpecs(*zoneSpecs)
	if err != nil {
		log.Fatalf("Failed to parse -zones: %v", err)
	}

	log.Printf("zonewatch %s starting", version.String())

	db, err := zonedb.Open(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.MigrateUp(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}
	if v, dirty, err := db.MigrateVersion(); err == nil {
		log.Printf("Database schema version %d (dirty: %v)", v, dirty)
	}

	world := scene.New(cfg.GetMemberMarker())
	for _, spec := range specs {
		if err := world.AddRegion(zone.RegionID(spec.id), spec.rect); err != nil {
			log.Fatalf("Failed to add region %q: %v", spec.id, err)
		}
	}

	registry, err := zone.New(zone.Config{
		Oracle:            world,
		Triggers:          world,
		Hider:             world,
		Journal:           zonedb.NewRecorder(db),
		Debounce:          cfg.Debounce(),
		MemberMarker:      cfg.GetMemberMarker(),
		DwellHistoryLimit: cfg.GetHistoryLimit(),
	})
	if err != nil {
		log.Fatalf("Failed to build zone registry: %v", err)
	}
	defer registry.Close()

	for _, spec := range specs {
		z := zone.Zone{
			ID:      spec.id,
			Name:    spec.id,
			Regions: []zone.RegionID{zone.RegionID(spec.id)},
		}
		opts := zone.WatchOptions{
			LogEvents: cfg.GetLogEvents(),
			Display:   &logDisplay{zone: spec.id},
		}
		if err := registry.Register(z, opts); err != nil {
			log.Fatalf("Failed to register zone %q: %v", spec.id, err)
		}

		// Snapshots only inform the operator. Membership rebuilds from
		// the scene on the first pass, so a restore can never fabricate
		// transitions.
		snap, err := db.LoadSnapshot(spec.id)
		switch {
		case err == nil:
			log.Printf("zone %q held %d members at last snapshot (%s)",
				spec.id, snap.Members.Len(), snap.TakenAt.Format(time.RFC3339))
		case !errors.Is(err, zonedb.ErrNoSnapshot):
			log.Printf("Failed to load snapshot for zone %q: %v", spec.id, err)
		}
	}

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *sim {
		simSeed := *seed
		if simSeed == 0 {
			simSeed = time.Now().UnixNano()
		}
		regions := make([]zone.RegionID, 0, len(specs))
		for _, spec := range specs {
			regions = append(regions, zone.RegionID(spec.id))
		}
		log.Printf("simulating %d members (seed %d)", *simMembers, simSeed)

		wg.Add(1)
		go func() {
			defer wg.Done()
			runSimulation(ctx, world, regions, *simMembers, simSeed)
			log.Printf("simulation stopped")
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		runSnapshots(ctx, registry, db, cfg.GetSnapshotInterval())
		log.Printf("snapshot routine stopped")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		server, err := api.NewServer(api.ServerConfig{
			Registry:   registry,
			DB:         db,
			ListenAddr: *listen,
		})
		if err != nil {
			log.Fatalf("Failed to build API server: %v", err)
		}
		if err := server.Start(ctx); err != nil {
			log.Fatalf("API server failed: %v", err)
		}
		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()
	log.Printf("Graceful shutdown complete")
}

// runSnapshots persists every zone's member set on a fixed cadence and
// once more at shutdown, so a restart can report the last occupancy.
func runSnapshots(ctx context.Context, registry *zone.Registry, db *zonedb.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			saveSnapshots(registry, db)
		case <-ctx.Done():
			saveSnapshots(registry, db)
			return
		}
	}
}

func saveSnapshots(registry *zone.Registry, db *zonedb.DB) {
	now := time.Now().UTC()
	for _, z := range registry.Zones() {
		members, err := registry.Members(z.ID)
		if err != nil {
			// Zone disposed between listing and reading.
			continue
		}
		if err := db.SaveSnapshot(z.ID, zone.NewMemberSet(members...), now); err != nil {
			log.Printf("Failed to snapshot zone %q: %v", z.ID, err)
		}
	}
}

// runSimulation wanders members around the scene so the zones see
// traffic. Every step moves each member a little; crossings raise
// contact hints through the scene's trigger wiring, and the occasional
// noise burst exercises the marker filter and no-op coalescing.
func runSimulation(ctx context.Context, world *scene.Scene, regions []zone.RegionID, members int, seed int64) {
	rng := rand.New(rand.NewSource(seed))

	type walker struct {
		id   zone.MemberID
		x, y float64
	}

	walkers := make([]*walker, 0, members)
	for i := 0; i < members; i++ {
		w := &walker{
			id: zone.MemberID(fmt.Sprintf("member-%02d", i+1)),
			x:  worldMinX + rng.Float64()*(worldMaxX-worldMinX),
			y:  worldMinY + rng.Float64()*(worldMaxY-worldMinY),
		}
		world.Upsert(w.id, w.x, w.y)
		walkers = append(walkers, w)
	}

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			for _, w := range walkers {
				w.x = clamp(w.x+(rng.Float64()*4-2), worldMinX, worldMaxX)
				w.y = clamp(w.y+(rng.Float64()*4-2), worldMinY, worldMaxY)
				world.Upsert(w.id, w.x, w.y)
			}
			if rng.Float64() < 0.05 && len(regions) > 0 {
				region := regions[rng.Intn(len(regions))]
				if err := world.InjectNoise(region); err != nil {
					log.Printf("Failed to inject noise into %q: %v", region, err)
				}
			}
		case <-ctx.Done():
			for _, w := range walkers {
				world.Remove(w.id)
			}
			return
		}
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
