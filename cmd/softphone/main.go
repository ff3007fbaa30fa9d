package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/net/publicsuffix"

	"github.com/worthym330/innovate-calls/internal/call"
	"github.com/worthym330/innovate-calls/internal/config"
	"github.com/worthym330/innovate-calls/internal/core"
	"github.com/worthym330/innovate-calls/internal/rtc"
	"github.com/worthym330/innovate-calls/internal/transport"
)

func main() {
	app := &cli.App{
		Name:  "innovate-calls-softphone",
		Usage: "Headless calling client for soak tests and demos",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to the configuration file",
			},
			&cli.StringFlag{
				Name:  "server",
				Usage: "relay HTTP base URL",
				Value: "http://localhost:8090",
			},
			&cli.StringFlag{
				Name:  "relay-url",
				Usage: "relay websocket endpoint",
				Value: "ws://localhost:8090/api/v1/ws",
			},
			&cli.StringFlag{
				Name:  "user",
				Usage: "user ID to sign in as; generated when omitted",
			},
			&cli.StringFlag{
				Name:  "call",
				Usage: "user ID to call; without it the softphone only answers",
			},
			&cli.StringFlag{
				Name:  "kind",
				Usage: "media kind of the placed call: 'audio' or 'video'",
				Value: "audio",
			},
			&cli.StringFlag{
				Name:  "audio-file",
				Usage: "Ogg/Opus file played as the audio track",
				Value: "audio.ogg",
			},
			&cli.StringFlag{
				Name:  "video-file",
				Usage: "IVF/VP8 file played as the video track",
				Value: "video.ivf",
			},
			&cli.BoolFlag{
				Name:  "auto-accept",
				Usage: "accept every incoming call",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("")
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	userID := core.UserID(c.String("user"))
	if userID == "" {
		userID = core.NewUserID()
	}
	log.Info().Str("service", "softphone").Str("userID", userID.String()).Msg("signing in")

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return err
	}

	if err := login(c.String("server"), jar, userID); err != nil {
		return err
	}

	source := &rtc.FileSource{
		AudioPath: c.String("audio-file"),
		VideoPath: c.String("video-file"),
	}
	factory := func(kind core.MediaKind) call.Negotiator {
		return rtc.NewEngine(cfg.RTC, source, kind)
	}

	client := transport.New(c.String("relay-url"), transport.WithDialer(&websocket.Dialer{
		Jar:              jar,
		HandshakeTimeout: 45 * time.Second,
	}))

	var coordinator *call.Coordinator
	coordinator = call.NewCoordinator(client, factory, call.WithCallbacks(call.Callbacks{
		OnStateChange: func(state core.CallState) {
			log.Info().Str("service", "softphone").Str("state", string(state)).Msg("call state changed")
		},
		OnIncoming: func(info core.CallInfo) {
			log.Info().Str("service", "softphone").
				Str("from", info.RemoteUser.String()).
				Str("media_kind", string(info.MediaKind)).
				Msg("incoming call")

			if c.Bool("auto-accept") {
				go func() {
					if err := coordinator.Accept(); err != nil {
						log.Error().Err(err).Str("service", "softphone").Msg("accept")
					}
				}()
			}
		},
		OnTerminated: func(info core.CallInfo, reason core.TerminationReason) {
			log.Info().Str("service", "softphone").
				Str("call_id", info.CallID.String()).
				Str("reason", string(reason)).
				Msg("call terminated")
		},
		OnDeviceError: func(err error) {
			log.Error().Err(err).Str("service", "softphone").Msg("media error")
		},
	}))
	defer coordinator.Close()

	client.OnMessage(coordinator.HandleMessage)
	if err := client.Connect(userID); err != nil {
		return err
	}
	defer client.Close()

	if target := c.String("call"); target != "" {
		kind := core.MediaKind(c.String("kind"))
		if err := coordinator.Start(core.UserID(target), kind); err != nil {
			return err
		}
	}

	interrupt := make(chan os.Signal, 1)
	ossignal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	log.Info().Str("service", "softphone").Msg("interrupt, hanging up")
	if err := coordinator.End(); err != nil && err != call.ErrNoCall {
		log.Error().Err(err).Str("service", "softphone").Msg("hang up")
	}

	return nil
}

func login(server string, jar http.CookieJar, userID core.UserID) error {
	httpClient := &http.Client{
		Timeout: 5 * time.Second,
		Jar:     jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	defer httpClient.CloseIdleConnections()

	body, err := json.Marshal(map[string]string{"user_id": userID.String()})
	if err != nil {
		return err
	}

	resp, err := httpClient.Post(server+"/api/v1/session", "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("login failed: %s", resp.Status)
	}

	return nil
}
