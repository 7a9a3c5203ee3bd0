package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"gatebot/internal/broadcast"
	"gatebot/internal/catalog"
	"gatebot/internal/config"
	"gatebot/internal/db"
	"gatebot/internal/gate"
	"gatebot/internal/ingest"
	"gatebot/internal/redeem"
	"gatebot/internal/registry"
	"gatebot/internal/roles"
	"gatebot/internal/stats"
	"gatebot/internal/telegram"
)

const configPath = "config.yaml"

func main() {
	config.LoadConfig(configPath)
	if err := config.Validate(); err != nil {
		log.Fatal("Config invalid: ", err)
	}

	err := db.Init(config.Conf.DatabasePath)
	if err != nil {
		log.Fatal("DB init failed: ", err)
	}

	db.DB.AutoMigrate(
		&registry.User{},
		&catalog.Entry{},
		&gate.RequiredChannel{},
		&roles.AdminModel{},
		&ingest.ProcessedMessage{},
		&stats.Snapshot{},
	)

	client, err := telegram.NewClient(config.Conf.Token)
	if err != nil {
		log.Fatal("Telegram init failed: ", err)
	}

	reg := registry.New(db.DB)
	cat := catalog.New(db.DB)
	g := gate.New(db.DB, client)
	rs := roles.New(db.DB, config.Conf.OwnerID, config.Conf.AdminKey)
	rs.LoadAdminsFromDB()
	ing := ingest.New(db.DB, cat, config.Conf.SourceChannel, config.Conf.CaptionAsCode)
	flow := redeem.New(g, cat)
	dispatcher := broadcast.New(client, config.Conf.BroadcastWorkers, config.Conf.BroadcastRate)

	statsService := stats.NewService(db.DB)
	statsService.Start()
	defer statsService.Stop()

	bot := telegram.NewBot(client, reg, rs, g, cat, ing, flow, dispatcher, configPath)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Printf("Starting gatebot (owner %d, source channel %d)", config.Conf.OwnerID, config.Conf.SourceChannel)
	bot.Run(ctx, config.Conf.UpdateTimeout)
}
