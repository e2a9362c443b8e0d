package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"fleet-monitor/geostream/internal/app"
	"fleet-monitor/geostream/internal/config"
	"fleet-monitor/geostream/internal/domain"
	"fleet-monitor/geostream/internal/geofence"
	"fleet-monitor/geostream/internal/spatial"
)

func main() {
	if os.Getenv("GEOSTREAM_LOG_FORMAT") != "JSON" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	if os.Getenv("GEOSTREAM_DEBUG") == "YES" {
		log.Logger = log.Logger.Level(zerolog.DebugLevel)
	} else {
		log.Logger = log.Logger.Level(zerolog.InfoLevel)
	}

	if err := godotenv.Load(); err != nil {
		log.Info().Msg("No .env file found, using environment variables")
	}

	geofenceFlags := []cli.Flag{
		&cli.StringFlag{Name: "file", Usage: "geofence definitions file (YAML or JSON)", EnvVars: []string{"GEOFENCE_FILE"}},
		&cli.BoolFlag{Name: "demo", Usage: "use the seeded demo scenario"},
		&cli.Uint64Flag{Name: "seed", Value: 42, Usage: "demo scenario seed"},
		&cli.Float64Flag{Name: "cell", Value: spatial.DefaultCellDeg, Usage: "grid cell size in degrees"},
	}

	a := &cli.App{
		Name:        "geostream",
		Description: "Real-time fleet position, animation and geofence engine",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "connect to the fleet stream and serve the fleet API",
				Action: runAction,
			},
			{
				Name:  "geofences",
				Usage: "inspect a geofence set offline",
				Subcommands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "build the grid index and report its shape",
						Flags:  geofenceFlags,
						Action: statsAction,
					},
					{
						Name:  "check",
						Usage: "list the geofences containing a point",
						Flags: append([]cli.Flag{
							&cli.Float64Flag{Name: "lng", Required: true},
							&cli.Float64Flag{Name: "lat", Required: true},
						}, geofenceFlags...),
						Action: checkAction,
					},
				},
			},
		},
	}

	if err := a.Run(os.Args); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func runAction(c *cli.Context) error {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	log.Info().
		Str("stream", cfg.StreamURL).
		Int("geofences", a.Geofences.GeofenceCount()).
		Msg("Geostream starting")
	return a.Run(ctx)
}

func loadFences(c *cli.Context) ([]*domain.Geofence, error) {
	switch {
	case c.String("file") != "":
		return geofence.LoadFile(c.String("file"))
	case c.Bool("demo"):
		return geofence.DefaultScenario(c.Uint64("seed")).Generate(), nil
	default:
		return nil, errors.New("either --file or --demo is required")
	}
}

func statsAction(c *cli.Context) error {
	fences, err := loadFences(c)
	if err != nil {
		return err
	}

	started := time.Now()
	idx := spatial.NewGridIndex(c.Float64("cell"))
	idx.Build(fences)
	took := time.Since(started)

	kinds := make(map[domain.GeofenceKind]int)
	for _, f := range fences {
		kinds[f.Kind]++
	}

	fmt.Printf("geofences: %d\n", idx.Len())
	for _, k := range []domain.GeofenceKind{domain.GeofenceArea, domain.GeofenceStop} {
		fmt.Printf("  %-5s %d\n", k, kinds[k])
	}
	fmt.Printf("cells:     %d (%.4f deg)\n", idx.CellCount(), idx.CellDeg())
	fmt.Printf("build:     %s\n", took)
	return nil
}

func checkAction(c *cli.Context) error {
	fences, err := loadFences(c)
	if err != nil {
		return err
	}

	idx := spatial.NewGridIndex(c.Float64("cell"))
	idx.Build(fences)

	p := orb.Point{c.Float64("lng"), c.Float64("lat")}
	hits := idx.Containing(p)
	if len(hits) == 0 {
		fmt.Println("no geofence contains the point")
		return nil
	}

	names := make([]string, 0, len(hits))
	for _, f := range hits {
		names = append(names, fmt.Sprintf("%s (%s, %s)", f.ID, f.Name, f.Kind))
	}
	sort.Strings(names)
	fmt.Println(strings.Join(names, "\n"))
	return nil
}
