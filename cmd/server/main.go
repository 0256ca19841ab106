package main

import (
	"log"

	"github.com/voyago/voyago/internal/ai"
	"github.com/voyago/voyago/internal/config"
	"github.com/voyago/voyago/internal/convo"
	"github.com/voyago/voyago/internal/db"
	"github.com/voyago/voyago/internal/httpapi"
	"github.com/voyago/voyago/internal/notify"
	"github.com/voyago/voyago/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	client, err := ai.NewClient(cfg.WatsonxURL, cfg.WatsonxIAMURL, cfg.WatsonxAPIKey, cfg.WatsonxProjectID, cfg.WatsonxProxyURL)
	if err != nil {
		log.Fatalf("watsonx client: %v", err)
	}

	var locker convo.Locker = redisstore.NewLocker(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)

	var notifier notify.Notifier
	rabbit, err := notify.NewRabbit(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Printf("rabbit unavailable, events disabled: %v", err)
		notifier = notify.Noop{}
	} else {
		defer rabbit.Close()
		notifier = rabbit
	}

	svc := convo.NewService(convo.NewRepo(gdb), client, locker, notifier, cfg.WatsonxModelID)

	r := httpapi.NewRouter(gdb, cfg, svc, client)
	log.Printf("listening on %s", cfg.HTTPAddr)
	if err := r.Run(cfg.HTTPAddr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
