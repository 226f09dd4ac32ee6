package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"feeder/internal/config"
	"feeder/internal/logger"
	"feeder/internal/model"
	"feeder/internal/repository/sqlite"
	"feeder/internal/service/camera"
	"feeder/internal/service/feeding"
	"feeder/internal/service/petlibro"
)

const (
	commandTimeout = 30 * time.Second
	reasonManual   = "manual"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: feedctl <command> [flags]

Commands:
  start [-plate N] [-force]
                     open the feeder plate
  stop               close the feeder plate
  torch on|off       switch the camera light
  devices            list devices on the feeder account
`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	cfg := config.Load()

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "start":
		fs := flag.NewFlagSet("start", flag.ExitOnError)
		plate := fs.Int("plate", cfg.FeedPlate, "Plate to open")
		force := fs.Bool("force", false, "Open even if the hourly start cap is reached")
		fs.Parse(os.Args[2:])
		if !*force {
			err = checkCap(cfg)
		}
		if err == nil {
			err = feed(ctx, cfg, model.FeedStart, *plate)
		}
	case "stop":
		err = feed(ctx, cfg, model.FeedStop, cfg.FeedPlate)
	case "torch":
		if len(os.Args) < 3 || (os.Args[2] != "on" && os.Args[2] != "off") {
			usage()
		}
		control := camera.NewControl(cfg.CameraBaseURL(), cfg.CameraUsername, cfg.CameraPassword)
		err = control.SetTorch(ctx, os.Args[2] == "on")
		if err == nil {
			fmt.Printf("🔦 Torch %s\n", os.Args[2])
		}
	case "devices":
		err = devices(ctx, cfg)
	default:
		usage()
	}

	if err != nil {
		log.Fatalf("❌ %s failed: %v", os.Args[1], err)
	}
}

func newClient(cfg *config.Config) (*petlibro.Client, error) {
	return petlibro.New(petlibro.Options{
		Region:   cfg.PetlibroRegion,
		Timezone: cfg.PetlibroTimezone,
		Email:    cfg.PetlibroEmail,
		Password: cfg.PetlibroPassword,
	}, logger.NewDiscard())
}

// feed sends one command and records it, so the running service counts
// manual starts against the hourly cap after its next restart.
func feed(ctx context.Context, cfg *config.Config, kind model.FeedEventKind, plate int) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}

	if kind == model.FeedStart {
		err = client.FeedStart(ctx, plate)
	} else {
		err = client.FeedStop(ctx)
	}

	ev := &model.FeedEvent{Kind: kind, Reason: reasonManual, Plate: plate, At: time.Now()}
	if err != nil {
		ev.Err = err.Error()
	}
	if db, dbErr := sqlite.New(cfg.DatabasePath); dbErr != nil {
		log.Printf("⚠️  Not recorded: %v", dbErr)
	} else {
		if _, dbErr := sqlite.NewFeedEventRepository(db).Insert(ev); dbErr != nil {
			log.Printf("⚠️  Not recorded: %v", dbErr)
		}
		db.Close()
	}

	if err != nil {
		return err
	}
	fmt.Printf("✅ Feed %s sent (plate %d)\n", kind, plate)
	return nil
}

// checkCap refuses a manual start when the rolling hour already holds the
// maximum number of starts.
func checkCap(cfg *config.Config) error {
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	starts, err := sqlite.NewFeedEventRepository(db).CountSince(model.FeedStart, time.Now().Add(-time.Hour))
	if err != nil {
		return err
	}
	if starts >= feeding.MaxStartsPerHour {
		return fmt.Errorf("%d starts in the last hour (cap %d), use -force to override", starts, feeding.MaxStartsPerHour)
	}
	return nil
}

func devices(ctx context.Context, cfg *config.Config) error {
	client, err := newClient(cfg)
	if err != nil {
		return err
	}
	list, err := client.Devices(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Println("No devices on this account")
		return nil
	}
	for _, d := range list {
		state := "offline"
		if d.Online {
			state = "online"
		}
		fmt.Printf("%-24s %-28s %-8s %s\n", d.DeviceSn, d.ProductName, state, d.Name)
	}
	return nil
}
