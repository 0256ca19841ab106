package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/gorm"

	"github.com/voyago/voyago/internal/common"
	"github.com/voyago/voyago/internal/config"
	"github.com/voyago/voyago/internal/db"
	"github.com/voyago/voyago/internal/models"
)

// wire form of notify.Envelope with the payload left raw for per-event
// decoding
type envelopeIn struct {
	Channel string          `json:"channel"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

type turnPayload struct {
	SessionID      string `json:"session_id"`
	UserID         uint64 `json:"user_id"`
	ItineraryValid bool   `json:"itinerary_valid"`
	ReplyPreview   string `json:"reply_preview"`
}

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	dlq := cfg.RabbitQueue + ".dlq"
	if _, err := ch.QueueDeclare(dlq, true, false, false, false, nil); err != nil {
		log.Fatalf("dlq declare: %v", err)
	}
	if _, err := ch.QueueDeclare(cfg.RabbitQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": dlq,
	}); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	deliveries := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range deliveries {
				var env envelopeIn
				if err := json.Unmarshal(d.Body, &env); err != nil || env.Event == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				if err := handleEvent(ctx, gdb, env); err != nil {
					log.Printf("worker=%d event %s/%s failed: %v", workerID, env.Channel, env.Event, err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed: %v", workerID, err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(deliveries)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			deliveries <- d
		}
	}
}

func handleEvent(ctx context.Context, gdb *gorm.DB, env envelopeIn) error {
	switch env.Channel + "/" + env.Event {
	case "chat/turn":
		return handleTurn(ctx, gdb, env.Payload)
	default:
		// unknown events are acked and dropped, not dead-lettered
		log.Printf("ignoring event %s/%s", env.Channel, env.Event)
		return nil
	}
}

func handleTurn(ctx context.Context, gdb *gorm.DB, raw json.RawMessage) error {
	var p turnPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return err
	}
	if p.UserID == 0 || p.SessionID == "" {
		log.Printf("turn event missing user/session, dropping")
		return nil
	}

	text := p.ReplyPreview
	if p.ItineraryValid {
		text = "Your itinerary is ready"
	}

	id, err := common.NewULID()
	if err != nil {
		return err
	}
	return gdb.WithContext(ctx).Create(&models.Notification{
		ID:         id,
		Recipient:  p.UserID,
		Type:       "chat_turn",
		Text:       text,
		EntityKind: "chat_session",
		EntityID:   p.SessionID,
	}).Error
}
