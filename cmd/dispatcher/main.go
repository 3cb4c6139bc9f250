package main

import (
	"context"
	"log"
	"os"
	"time"

	"judgecore/core"
	"judgecore/dispatcher"
	"judgecore/judge"
	"judgecore/sandbox"
	"judgecore/scoring"
)

func main() {
	cfg := core.Load()
	ctx := context.Background()

	logCloser, err := core.SetupLogging(cfg, "dispatcher.log")
	if err != nil {
		log.Fatalf("failed to setup logging: %v", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}
	defer db.Close()

	redisClient, err := core.NewRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect redis: %v", err)
	}
	defer redisClient.Close()

	queue := core.NewRedisQueue(redisClient)
	subRepo := core.NewPgSubmissionRepository(db)
	problemRepo := core.NewPgProblemRepository(db)

	pool, err := sandbox.NewPool(cfg.SandboxRoot, cfg.SandboxBoxes)
	if err != nil {
		log.Fatalf("failed to init sandbox pool: %v", err)
	}

	scores := scoring.NewEngine(db, scoring.Params{Alpha: cfg.PointsAlpha, Min: cfg.PointsMin})
	compileTime := time.Duration(cfg.CompileTimeLimitMs) * time.Millisecond
	engine := judge.NewEngine(subRepo, problemRepo, scores, pool, compileTime)

	workerID := core.NewWorkerID()
	hostname, _ := os.Hostname()
	hb := core.NewHeartbeatState(workerID, hostname, cfg.WorkerConcurrency)
	go hb.Start(ctx, redisClient)

	d := dispatcher.New(queue, subRepo, engine, hb)
	d.Concurrency = cfg.WorkerConcurrency
	d.Visibility = cfg.LeaseTTL
	d.MaxAttempts = cfg.MaxAttempts

	log.Printf("starting dispatcher: concurrency=%d boxes=%d", d.Concurrency, cfg.SandboxBoxes)
	d.Run(ctx)
}
