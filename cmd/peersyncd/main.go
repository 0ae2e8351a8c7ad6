// Command peersyncd serves one profile's sync endpoints over gRPC.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"peersync.dev/peersync/peerservice"
	"peersync.dev/peersync/store/sqlitestore"
	"peersync.dev/peersync/transport/syncgrpc"
)

type config struct {
	Listen   string `toml:"listen"`
	Profile  string `toml:"profile"`
	DBPath   string `toml:"db_path"`
	LogLevel string `toml:"log_level"`
}

func defaultConfig() config {
	return config{
		Listen:   "127.0.0.1:7667",
		Profile:  "facilitydata",
		DBPath:   "peersync.db",
		LogLevel: "info",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

func main() {
	fs := flag.NewFlagSet("peersyncd", flag.ExitOnError)
	configPath := fs.String("config", "", "TOML config file")
	listen := fs.String("listen", "", "listen address (overrides config)")
	_ = fs.Parse(os.Args[1:])

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *listen != "" {
		cfg.Listen = *listen
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log_level %q\n", cfg.LogLevel)
		os.Exit(2)
	}
	log := zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()

	st, err := sqlitestore.Open(cfg.DBPath)
	if err != nil {
		log.Fatal().Err(err).Str("db", cfg.DBPath).Msg("open store")
	}
	defer st.Close()

	svc := peerservice.New(peerservice.Config{
		Profile: cfg.Profile,
		Store:   st,
		Log:     log,
		Now:     func() time.Time { return time.Now().UTC() },
	})

	lis, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		log.Fatal().Err(err).Str("listen", cfg.Listen).Msg("listen")
	}
	defer lis.Close()

	s := grpc.NewServer()
	syncgrpc.RegisterSyncServer(s, &syncgrpc.Server{Service: svc})

	log.Info().Str("listen", lis.Addr().String()).Str("profile", cfg.Profile).
		Str("db", cfg.DBPath).Msg("peersyncd listening")
	if err := s.Serve(lis); err != nil {
		log.Fatal().Err(err).Msg("serve")
	}
}
