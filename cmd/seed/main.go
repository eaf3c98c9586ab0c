package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"

	"ai-analysis-pipeline/internal/config"
	"ai-analysis-pipeline/internal/domain/model"
	"ai-analysis-pipeline/internal/domain/ports/repository"
	"ai-analysis-pipeline/internal/infra/api"
	pg "ai-analysis-pipeline/internal/infra/db/postgres"
)

// Seeds an account with a few idle subjects, optionally links a Telegram
// chat, and prints a bearer token for manual testing.
func main() {
	account := flag.String("account", "", "account id (random when empty)")
	tier := flag.String("tier", string(model.TierPro), "tier claim for the printed token")
	chatID := flag.Int64("chat", 0, "telegram chat id to link (0 skips)")
	subjects := flag.Int("subjects", 3, "number of idle subjects to create")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")

	// ---- Config ----
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if !model.Tier(*tier).Valid() {
		log.Fatalf("unknown tier %q", *tier)
	}
	if *account == "" {
		*account = uuid.NewString()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pg.Connect(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	subjectRepo := pg.NewSubjectRepo(pool)
	targetRepo := pg.NewNotificationTargetRepo(pool)
	tm := pg.NewTxManager(pool)

	var ids []string
	err = tm.WithTx(ctx, pgx.TxOptions{}, func(ctx context.Context, tx repository.Tx) error {
		for i := 0; i < *subjects; i++ {
			s := &model.Subject{ID: uuid.NewString(), AccountID: *account, Status: model.SubjectIdle}
			if err := subjectRepo.Save(ctx, tx, s); err != nil {
				return fmt.Errorf("save subject: %w", err)
			}
			ids = append(ids, s.ID)
		}
		if *chatID != 0 {
			if err := targetRepo.Link(ctx, tx, *account, *chatID); err != nil {
				return fmt.Errorf("link chat: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		log.Fatalf("seed: %v", err)
	}

	tok, err := api.NewAuthManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer).Mint(*account, model.Tier(*tier), *ttl)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}

	fmt.Printf("account: %s (tier=%s)\n", *account, *tier)
	for _, id := range ids {
		fmt.Printf("  subject: %s\n", id)
	}
	if *chatID != 0 {
		fmt.Printf("  telegram chat: %d\n", *chatID)
	}
	fmt.Printf("token: %s\n", tok)
	fmt.Println("Seeding complete.")
}
