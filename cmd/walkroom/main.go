package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	ossignal "os/signal"
	"syscall"

	"walkroom/native/internal/api"
	"walkroom/native/internal/config"
	"walkroom/native/internal/console"
	"walkroom/native/internal/domain"
	"walkroom/native/internal/locsync"
	"walkroom/native/internal/session"
	"walkroom/native/internal/signal"
	"walkroom/native/internal/webrtc"
)

const helpText = `walkroom - Share live positions between an owner and a walker over WebRTC

Usage:
  walkroom -room <room> -role <A|owner|B|walker> [options]

Positions are read from stdin as "lat,lng" lines. Marker updates and the
distance to the peer are written to stdout.

Options:
  -room       room to join (WALK_ROOM)
  -role       A|owner or B|walker (WALK_ROLE)
  -relay      signaling backend, ws or redis (WALK_RELAY, default ws)
  -relay-url  walkrelay base URL (WALK_RELAY_URL)
  -redis-addr redis address (REDIS_ADDR)
  -h, --help  Show this help message

Environment Variables:
  WALK_ICE_SERVERS_JSON   JSON array of ICE servers
  WALK_STUN_URLS          comma-separated STUN URLs
  WALK_TURN_URLS          comma-separated TURN URLs
  WALK_TURN_USERNAME      TURN username
  WALK_TURN_CREDENTIAL    TURN credential
  WALK_ICE_FROM_RELAY     fetch ICE servers from the relay's /ice endpoint
  WALK_ALLOW_LOOPBACK     keep loopback ICE candidates
  OWNER_PERIODIC          owner also sends keep-alive positions
  LOG_LEVEL, LOG_FORMAT   debug|info|warn|error, text|json
  PION_LOG_LEVEL          disabled|error|warn|info|debug|trace

Examples:
  # Walker, positions from a GPS log
  walkroom -room park -role walker < track.txt

  # Owner with a fixed position
  echo "37.5665,126.978" | walkroom -room park -role owner
`

func main() {
	cfg, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		fmt.Print(helpText)
		os.Exit(0)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "walkroom: %v\n\n%s", err, helpText)
		os.Exit(2)
	}

	// stdout carries markers, so logs go to stderr.
	logger, err := config.NewLogger(os.Stderr, cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "walkroom: %v\n", err)
		os.Exit(2)
	}
	slog.SetDefault(logger)
	log := logger.With("component", "main")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		log.Error("fatal", "err", err)
		os.Exit(1)
	}
	log.Info("done")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	log := logger.With("component", "main")

	// Step 1: ICE servers
	iceServers := cfg.ICEServers
	if cfg.ICEFromRelay {
		apiClient, err := api.NewClient(cfg.RelayURL)
		if err != nil {
			return err
		}
		if iceServers, err = apiClient.FetchICEServers(ctx); err != nil {
			return fmt.Errorf("fetch ice servers: %w", err)
		}
		log.Info("ice servers obtained from relay", "count", len(iceServers))
	}

	// Step 2: Signaling relay
	relay, closeRelay, err := newRelay(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeRelay()

	// Step 3: Transport factory
	factory, err := webrtc.NewFactory(webrtc.Options{
		ICEServers:    iceServers,
		AllowLoopback: cfg.AllowLoopback,
		PionLogLevel:  cfg.PionLogLevel,
		Logger:        logger,
	})
	if err != nil {
		return err
	}

	// Step 4: Console collaborators
	renderer := console.NewRenderer(os.Stdout)
	center := console.NewCenterStore()
	source := console.NewLineSource(os.Stdin, 0, logger)

	// Step 5: Location sync and coordinator; the service sends through the
	// coordinator that delivers its channel events.
	cadence := locsync.DefaultCadence(cfg.Role)
	if cfg.Role == domain.RoleA && cfg.OwnerPeriodic {
		cadence.Periodic = true
	}
	var coord *session.Coordinator
	loc := locsync.New(locsync.Config{
		Role:          cfg.Role,
		Cadence:       cadence,
		MoveThreshold: cfg.MoveThreshold,
		KeepAlive:     cfg.KeepAlive,
		NearbyRadius:  cfg.NearbyRadius,
		Sender: locsync.SenderFunc(func(ctx context.Context, data []byte) error {
			return coord.Send(ctx, data)
		}),
		Markers: renderer,
		Center:  center,
		Logger:  logger,
	})
	loc.OnRemote(renderer.Status)

	coord = session.New(session.Config{
		Relay:       relay,
		Transports:  factory,
		Handler:     loc,
		Logger:      logger,
		OfferDelay:  cfg.OfferDelay,
		SendTimeout: cfg.SendTimeout,
		OnStateChange: func(s domain.ConnectionState) {
			log.Info("connection state", "state", s.String())
		},
	})
	defer coord.Stop()

	// Step 6: Join the room
	if err := coord.Start(ctx, cfg.Room, cfg.Role); err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	log.Info("session started", "room", cfg.Room, "role", cfg.Role.String())

	// Step 7: Feed positions until shutdown
	go func() {
		if err := loc.Run(ctx, source); err != nil {
			log.Warn("position source ended", "err", err)
		}
	}()

	<-ctx.Done()
	return nil
}

func newRelay(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Relay, func(), error) {
	switch cfg.Relay {
	case config.RelayRedis:
		client, err := signal.DialRedis(ctx, signal.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			return nil, nil, err
		}
		return signal.NewRedisRelay(client, logger), func() { _ = client.Close() }, nil
	default:
		client, err := signal.NewClient(cfg.RelayURL, signal.WithLogger(logger))
		if err != nil {
			return nil, nil, err
		}
		return client, client.Close, nil
	}
}
