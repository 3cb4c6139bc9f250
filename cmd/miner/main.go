package main

import (
	"context"
	"log"

	"judgecore/core"
	"judgecore/miner"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "miner.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	m := miner.New(db, cfg.EpochDuration)
	log.Printf("starting block miner: epoch=%s", cfg.EpochDuration)
	m.Run(ctx)
}
