package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dkeye/Conference/internal/adapters/capture"
	"github.com/dkeye/Conference/internal/adapters/rtc"
	"github.com/dkeye/Conference/internal/adapters/sfuclient"
	"github.com/dkeye/Conference/internal/conference"
	"github.com/dkeye/Conference/internal/config"
	"github.com/dkeye/Conference/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	fs := config.NewFlagSet("client")
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.Fatal().Err(err).Msg("bad flags")
	}
	cfg, err := config.Load(fs)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	zerolog.SetGlobalLevel(cfg.Level())

	dir, err := directory(cfg.Client)
	if err != nil {
		log.Fatal().Err(err).Msg("device directory")
	}
	defer dir.Close()

	opts := sfuclient.Options{
		URL:  cfg.Client.SignalURL,
		ICE:  rtc.Configuration(cfg.ICEServers),
		Name: cfg.Client.Name,
	}
	if cfg.ICELoopback {
		opts.API = rtc.LoopbackAPI()
	}
	signaling := sfuclient.New(opts)

	// The conference outlives ctx so Close can still leave the room.
	conf := conference.New(context.Background(), capture.New(dir), signaling,
		conference.WithDataHandler(func(msg domain.DataMessage) {
			log.Info().Str("src", string(msg.Src)).Bytes("data", msg.Data).Msg("data")
		}),
		conference.WithErrorHandler(func(err error) {
			log.Warn().Err(err).Msg("conference error")
		}),
	)
	defer conf.Close()

	stopWatch, err := conf.Watch(ctx, logState())
	if err != nil {
		log.Fatal().Err(err).Msg("watch")
	}
	defer stopWatch()

	if err := conf.OnLoad(ctx); err != nil {
		log.Error().Err(err).Msg("load devices")
	}

	joinCtx, joinCancel := context.WithTimeout(ctx, 30*time.Second)
	err = conf.OnClickJoinRoom(joinCtx, domain.RoomName(cfg.Client.Room), domain.RoomMode(cfg.Client.RoomMode))
	joinCancel()
	if err != nil {
		log.Error().Err(err).Str("room", cfg.Client.Room).Msg("join failed")
		return
	}

	<-ctx.Done()
	log.Info().Msg("Leaving")
	if err := conf.OnClickLeaveRoom(context.Background()); err != nil {
		log.Warn().Err(err).Msg("leave")
	}
}

func directory(cfg config.ClientConfig) (capture.Directory, error) {
	if cfg.DeviceSource == "devfs" {
		d, err := capture.NewDevfsDirectory(cfg.DevfsRoot)
		if err != nil {
			return nil, err
		}
		return d, nil
	}
	devices := make([]domain.Device, 0, len(cfg.Devices))
	for _, d := range cfg.Devices {
		kind, err := domain.ParseDeviceKind(d.Kind)
		if err != nil {
			return nil, err
		}
		devices = append(devices, domain.Device{ID: domain.DeviceID(d.ID), Label: d.Label, Kind: kind})
	}
	return capture.NewStaticDirectory(devices...), nil
}

// logState reports changes to devices, selection and room membership.
func logState() func(conference.State) {
	var last conference.State
	return func(s conference.State) {
		if len(s.VideoDevices) != len(last.VideoDevices) || len(s.AudioDevices) != len(last.AudioDevices) {
			log.Info().Int("video", len(s.VideoDevices)).Int("audio", len(s.AudioDevices)).Msg("devices")
		}
		if s.Selection != last.Selection {
			log.Info().
				Str("video", string(s.Selection.VideoDeviceID)).
				Str("audio", string(s.Selection.AudioDeviceID)).
				Msg("selection")
		}
		if s.Joined != last.Joined || s.Room != last.Room {
			log.Info().Bool("joined", s.Joined).Str("room", string(s.Room)).Msg("room")
		}
		if len(s.Remotes) != len(last.Remotes) {
			peers := make([]string, 0, len(s.Remotes))
			for _, r := range s.Remotes {
				peers = append(peers, string(r.PeerID))
			}
			log.Info().Strs("peers", peers).Msg("remote streams")
		}
		last = s
	}
}
