package main

import (
	"fmt"
	"os"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	_ "github.com/jackc/pgx/v4/stdlib"

	"github.com/worthym330/innovate-calls/internal/config"
	"github.com/worthym330/innovate-calls/internal/core"
	"github.com/worthym330/innovate-calls/internal/eventbus"
	"github.com/worthym330/innovate-calls/internal/relay"
)

func main() {
	app := &cli.App{
		Name:  "innovate-calls-relay",
		Usage: "Call signaling relay server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment: either 'development' or 'production'",
			},
			&cli.StringFlag{
				Name:  "address",
				Usage: "listen IP and port, example: ':8090' for listen on 0.0.0.0:8090",
			},
		},
		Action: startRelay,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func startRelay(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	if env := c.String("env"); env != "" {
		cfg.Env = core.Environment(env)
	}
	if address := c.String("address"); address != "" {
		cfg.Relay.Address = address
	}

	bus, err := buildBus(cfg)
	if err != nil {
		return err
	}

	directory, err := buildDirectory(cfg)
	if err != nil {
		return err
	}

	app := relay.New(relay.AppOptions{
		Env:           cfg.Env,
		Address:       cfg.Relay.Address,
		Bus:           bus,
		Directory:     directory,
		SessionSecret: cfg.Relay.SessionSecret,
	})

	return app.Start()
}

func buildBus(cfg *config.Config) (eventbus.Bus, error) {
	switch cfg.Relay.Bus {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr: cfg.Relay.RedisAddr,
			DB:   0,
		})
		return eventbus.RedisPubSub(rdb), nil
	case "nats":
		return eventbus.NatsPubSub(cfg.Relay.NatsAddr)
	case "memory":
		return eventbus.NewMemoryBus(), nil
	default:
		return nil, fmt.Errorf("unknown bus %q", cfg.Relay.Bus)
	}
}

func buildDirectory(cfg *config.Config) (core.UserDirectory, error) {
	if cfg.Relay.DatabaseURL == "" {
		return core.NewMemoryDirectory(), nil
	}

	db, err := sqlx.Connect("pgx", cfg.Relay.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}

	return core.NewUsersRepository(db), nil
}
