// cmd/tools/job-admin/main.go
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"push-dispatcher/internal/common/config"
	"push-dispatcher/internal/common/database"
	"push-dispatcher/internal/common/logger"
	"push-dispatcher/internal/models"
	"push-dispatcher/internal/repository"
)

var configPath string

func main() {
	enqueueCmd := flag.NewFlagSet("enqueue", flag.ExitOnError)
	statsCmd := flag.NewFlagSet("stats", flag.ExitOnError)
	requeueCmd := flag.NewFlagSet("requeue", flag.ExitOnError)

	for _, fs := range []*flag.FlagSet{enqueueCmd, statsCmd, requeueCmd} {
		fs.StringVar(&configPath, "config", "", "Path to config file (default: configs/config.yaml lookup)")
	}

	// Enqueue command flags
	kind := enqueueCmd.String("kind", "", "Job kind (e.g., round_end)")
	user := enqueueCmd.String("user", "", "Recipient user ID")
	tournament := enqueueCmd.String("tournament", "", "Tournament ID (optional)")
	payload := enqueueCmd.String("payload", "{}", `Payload JSON (e.g., {"title":"Round closed","sound":"chime.wav"})`)

	// Requeue command flags
	jobID := requeueCmd.String("id", "", "ID of a failed job")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "enqueue":
		enqueueCmd.Parse(os.Args[2:])
		if *kind == "" || *user == "" {
			fmt.Println("Error: kind and user are required for enqueue.")
			enqueueCmd.Usage()
			os.Exit(1)
		}
		var raw map[string]interface{}
		if err := json.Unmarshal([]byte(*payload), &raw); err != nil {
			fmt.Printf("Error: payload is not a JSON object: %v\n", err)
			os.Exit(1)
		}
		job := repository.NewJob{
			Kind:            *kind,
			RecipientUserID: *user,
			Payload:         models.NewPayload(raw),
		}
		if *tournament != "" {
			job.TournamentID = tournament
		}

		withStore(func(ctx context.Context, store *repository.JobStore) error {
			id, err := store.Enqueue(ctx, job)
			if err != nil {
				return err
			}
			fmt.Printf("Enqueued job: %s\n", id)
			return nil
		})

	case "stats":
		statsCmd.Parse(os.Args[2:])
		withStore(func(ctx context.Context, store *repository.JobStore) error {
			counts, err := store.CountByStatus(ctx)
			if err != nil {
				return err
			}
			statuses := make([]string, 0, len(counts))
			for s := range counts {
				statuses = append(statuses, string(s))
			}
			sort.Strings(statuses)
			for _, s := range statuses {
				fmt.Printf("%-12s %d\n", s, counts[models.JobStatus(s)])
			}
			return nil
		})

	case "requeue":
		requeueCmd.Parse(os.Args[2:])
		if *jobID == "" {
			fmt.Println("Error: id is required for requeue.")
			requeueCmd.Usage()
			os.Exit(1)
		}
		withStore(func(ctx context.Context, store *repository.JobStore) error {
			if err := store.Requeue(ctx, *jobID); err != nil {
				return err
			}
			fmt.Printf("Requeued job: %s\n", *jobID)
			return nil
		})

	case "help":
		fallthrough
	default:
		help()
	}
}

func withStore(fn func(ctx context.Context, store *repository.JobStore) error) {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Printf("Error loading config: %v\n", err)
		os.Exit(1)
	}

	pg, err := database.NewPostgres(cfg.Database.Postgres)
	if err != nil {
		fmt.Printf("Error opening database: %v\n", err)
		os.Exit(1)
	}
	defer pg.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	store := repository.NewJobStore(pg.DB, config.GetDuration(cfg.Database.QueryTimeout), logger.NewStructured("warn", "console"))
	if err := fn(ctx, store); err != nil {
		fmt.Printf("Error: %v\n", err)
		pg.Close()
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if configPath != "" {
		return config.LoadFromFile(configPath)
	}
	return config.Load()
}

func help() {
	fmt.Println("Usage: job-admin <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  enqueue   Queue a notification job")
	fmt.Println("            -kind <kind> -user <userId> [-tournament <id>] [-payload <json>]")
	fmt.Println("  stats     Show job counts per status")
	fmt.Println("  requeue   Reset a failed job to pending with zero attempts")
	fmt.Println("            -id <jobId>")
	fmt.Println("  help      Show this help message")
	fmt.Println("All commands accept -config <path>.")
}
