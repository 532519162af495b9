package main

import (
	"context"
	"log"

	"github.com/Ale866/malta-photogramme3d/internal/config"
	"github.com/Ale866/malta-photogramme3d/internal/db"
	"github.com/Ale866/malta-photogramme3d/internal/httpapi"
	"github.com/Ale866/malta-photogramme3d/internal/job"
	"github.com/Ale866/malta-photogramme3d/internal/model"
	"github.com/Ale866/malta-photogramme3d/internal/models"
	"github.com/Ale866/malta-photogramme3d/internal/realtime"
	"github.com/Ale866/malta-photogramme3d/internal/store/rabbitmq"
	"github.com/Ale866/malta-photogramme3d/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)
	if err := gdb.AutoMigrate(&models.User{}, &job.Job{}, &model.Model{}); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rds.Close()

	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit: %v", err)
	}
	defer pub.Close()

	hub := realtime.NewHub(cfg.JWTSecret, job.NewLifecycle(job.NewRepo(gdb), cfg.JobLogTailSize))

	// Workers publish job updates on redis. Bridge them into the local
	// websocket hub so subscribers see progress from any worker process.
	go func() {
		if err := rds.SubscribeJobUpdates(context.Background(), func(snapshot job.StatusDTO) {
			hub.Update(context.Background(), snapshot)
		}); err != nil {
			log.Printf("job_update_bridge_stopped err=%v", err)
		}
	}()

	r := httpapi.NewRouter(gdb, cfg, rds, pub, hub)

	log.Printf("server listening addr=%s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
