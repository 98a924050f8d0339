// Command events prints the journal of a bot and optionally follows live events.
//
//	events -bot <id> [-n 20] [-follow]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"perpbot/internal/config"
	"perpbot/internal/model"
	"perpbot/internal/repository"
	"perpbot/internal/service"
	"perpbot/pkg/redis"

	"github.com/joho/godotenv"
)

func main() {
	botID := flag.String("bot", "", "bot id")
	limit := flag.Int("n", 20, "number of journaled events to print")
	follow := flag.Bool("follow", false, "keep printing live events")
	flag.Parse()

	if *botID == "" && !*follow {
		fmt.Fprintln(os.Stderr, "usage: events -bot <id> [-n 20] [-follow]")
		os.Exit(2)
	}

	_ = godotenv.Load()
	rc := config.LoadRedis()

	redisClient, err := redis.New(redis.Config{
		Host:     rc.Host,
		Port:     rc.Port,
		Password: rc.Password,
		DB:       rc.DB,
	})
	if err != nil {
		log.Fatalf("Failed to connect to Redis: %v", err)
	}
	defer redisClient.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *botID != "" {
		events, err := repository.NewEventRepository(redisClient, 0).List(ctx, *botID, *limit)
		if err != nil {
			log.Fatalf("Failed to read journal: %v", err)
		}
		fmt.Printf("%d events for bot %s (newest first)\n", len(events), *botID)
		for _, ev := range events {
			printEvent(ev)
		}
	}

	if !*follow {
		return
	}

	sub := redisClient.Subscribe(ctx, redis.ChannelBotEvents)
	defer sub.Close()
	fmt.Println("following live events, ctrl-c to stop")
	for {
		msg, err := sub.ReceiveMessage(ctx)
		if err != nil {
			return
		}
		var ev model.Event
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
			continue
		}
		if *botID == "" || ev.BotID == *botID {
			printEvent(ev)
		}
	}
}

func printEvent(ev model.Event) {
	fmt.Printf("%s  %-18s %-12s %s\n", ev.Time.Format("2006-01-02 15:04:05"), ev.Type, ev.Symbol, ev.Message)
	if len(ev.Fields) > 0 {
		fmt.Printf("    %s\n", service.FormatFields(ev.Fields))
	}
}
