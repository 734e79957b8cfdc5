package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/gopherchat/gopherchat/internal/chat"
	"github.com/gopherchat/gopherchat/internal/config"
	"github.com/gopherchat/gopherchat/internal/db"
	"github.com/gopherchat/gopherchat/internal/httpapi"
	"github.com/gopherchat/gopherchat/internal/store/rabbitmq"
	"github.com/gopherchat/gopherchat/internal/store/redisstore"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	// per-chat send lock; without redis, overlapping sends go unguarded
	var locks chat.SendLocker
	rds := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := rds.Ping(pingCtx); err != nil {
		log.Printf("redis unavailable, send serialization disabled: %v", err)
	} else {
		locks = rds
	}
	cancel()

	// title jobs; without rabbit, new chats keep the placeholder title
	var titles chat.TitlePublisher
	pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("rabbitmq unavailable, title generation disabled: %v", err)
	} else {
		titles = pub
		defer pub.Close()
	}

	r, err := httpapi.NewRouter(gdb, cfg, titles, locks)
	if err != nil {
		log.Fatalf("router: %v", err)
	}

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("api listening on %s", addr)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
