package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"feeder/internal/app"
	"feeder/internal/config"
	"feeder/internal/logger"
	"feeder/internal/model"
	"feeder/internal/repository/sqlite"
	"feeder/internal/service/retention"

	"github.com/dustin/go-humanize"
)

func main() {
	cfg := config.Load()

	dir := flag.String("dir", cfg.RecordingsDirectory, "Recordings directory")
	dbPath := flag.String("db", cfg.DatabasePath, "Database path")
	yes := flag.Bool("yes", false, "Delete without asking")
	reindex := flag.Bool("reindex", false, "Rebuild the recordings catalogue from the directory")
	flag.Parse()

	cfg.RecordingsDirectory = *dir

	db, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.Close()
	recordings := sqlite.NewRecordingRepository(db)

	manager := retention.NewManager(*dir, app.Policies(cfg), recordings, logger.NewDiscard())

	plan, err := manager.Plan()
	if err != nil {
		log.Fatalf("Failed to scan %s: %v", *dir, err)
	}

	fmt.Printf("📁 Recordings in %s\n", *dir)
	pending := 0
	for _, p := range manager.Policies() {
		size, err := manager.Size(p)
		if err != nil {
			log.Fatalf("Failed to size %s: %v", p, err)
		}
		fmt.Printf("   %-10s %s of %s\n", p.Prefix, humanize.IBytes(uint64(size)), humanize.IBytes(uint64(p.SizeLimit)))
		for _, f := range plan[p] {
			fmt.Printf("      - %s (%s, %s)\n", filepath.Base(f.Path), humanize.IBytes(uint64(f.Size)), humanize.Time(f.ModTime))
		}
		pending += len(plan[p])
	}

	if pending == 0 {
		fmt.Println("✅ Nothing to delete")
	} else if *yes || confirm(fmt.Sprintf("Delete %d file(s)?", pending)) {
		results, err := manager.Run()
		if err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
		for _, r := range results {
			if len(r.Deleted) > 0 || len(r.Failed) > 0 {
				fmt.Printf("🗑️  %s: deleted %d, freed %s, %d failed\n",
					r.Policy.Prefix, len(r.Deleted), humanize.IBytes(uint64(r.Freed)), len(r.Failed))
			}
		}
	}

	if *reindex {
		n, skipped, err := rebuild(recordings, *dir)
		if err != nil {
			log.Fatalf("Reindex failed: %v", err)
		}
		fmt.Printf("✅ Catalogued %d recording(s)\n", n)
		if skipped > 0 {
			fmt.Printf("⚠️  Skipped %d files (unknown name format)\n", skipped)
		}
	}
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}

// rebuild replaces the catalogue with what is on disk.
func rebuild(recordings *sqlite.RecordingRepository, dir string) (int, int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, 0, err
	}

	var found []model.Recording
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		prefix, createdAt, err := model.ParseRecordingName(entry.Name(), time.Local)
		if err != nil {
			skipped++
			continue
		}
		info, err := entry.Info()
		if err != nil {
			skipped++
			continue
		}
		found = append(found, model.Recording{
			Filename:  entry.Name(),
			Prefix:    prefix,
			FilePath:  filepath.Join(dir, entry.Name()),
			FileSize:  info.Size(),
			CreatedAt: createdAt,
			ClosedAt:  info.ModTime(),
		})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].CreatedAt.Before(found[j].CreatedAt) })

	if err := recordings.DeleteAll(); err != nil {
		return 0, skipped, err
	}
	for i := range found {
		rec := &found[i]
		if _, err := recordings.Insert(rec); err != nil {
			return i, skipped, err
		}
		if err := recordings.UpdateSize(rec.FilePath, rec.FileSize, rec.ClosedAt); err != nil {
			return i, skipped, err
		}
	}
	return len(found), skipped, nil
}
