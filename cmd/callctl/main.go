// Command callctl joins a group call or places a direct call with
// placeholder media, logging every engine update.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Connect-Club/connectclub-calls-client/config"
	"github.com/Connect-Club/connectclub-calls-client/groupcall"
	"github.com/Connect-Club/connectclub-calls-client/media"
	"github.com/Connect-Club/connectclub-calls-client/p2p"
	"github.com/Connect-Club/connectclub-calls-client/signaling"
	"github.com/Connect-Club/connectclub-calls-client/transport/pionpc"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/pflag"
)

const leaveTimeout = 5 * time.Second

func main() {
	fs := pflag.NewFlagSet("callctl", pflag.ContinueOnError)

	var (
		configPath = fs.StringP("config", "c", "", "path to json config file")
		callId     = fs.StringP("call", "i", "", "call id")
		userId     = fs.StringP("user", "u", "", "own user id")
		mode       = fs.StringP("mode", "m", "group", "group or p2p")
		outgoing   = fs.Bool("outgoing", false, "place the direct call instead of answering it")
		video      = fs.Bool("video", false, "start with video")
		logLevel   = fs.StringP("log-level", "l", "", "log level, overrides the config file")
	)
	if err := fs.Parse(os.Args[1:]); err != nil {
		log.WithError(err).Fatal("failed to parse command line arguments")
	}

	cfg := config.Default()
	if len(*configPath) > 0 {
		var err error
		if cfg, err = config.ReadFile(*configPath); err != nil {
			log.WithError(err).Fatal("failed to read config")
		}
	}
	if len(*logLevel) > 0 {
		cfg.LogLevel = *logLevel
	}
	if err := cfg.ApplyLogging(); err != nil {
		log.WithError(err).Warn("bad log level")
	}
	if len(*callId) == 0 {
		log.Fatal("call id is required")
	}

	factory, err := pionpc.NewFactory(log.WithField("component", "pionpc"))
	if err != nil {
		log.WithError(err).Fatal("failed to create connection factory")
	}
	client := signaling.NewClient(cfg.SignalingAddress, cfg.SignalingToken, *callId)
	defer client.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch *mode {
	case "group":
		err = runGroupCall(ctx, cancel, cfg, *userId, *video, factory, client)
	case "p2p":
		err = runPhoneCall(ctx, cancel, *userId, *outgoing, *video, factory, client)
	default:
		log.WithField("mode", *mode).Fatal("unknown mode")
	}
	if err != nil {
		log.WithError(err).Fatal("call failed")
	}
}

func runGroupCall(
	ctx context.Context,
	cancel context.CancelFunc,
	cfg config.Config,
	userId string,
	startVideo bool,
	factory *pionpc.Factory,
	client *signaling.Client,
) error {
	call := groupcall.New(groupcall.Config{
		UserId:             userId,
		ICEServers:         cfg.ICEServers,
		AudioBandwidth:     cfg.AudioBandwidth,
		VideoBandwidth:     cfg.VideoBandwidth,
		SimulcastLayers:    cfg.SimulcastLayers,
		AmplitudeInterval:  cfg.AmplitudeInterval(),
		VoiceThreshold:     cfg.VoiceThreshold,
		NegotiationTimeout: cfg.NegotiationTimeout(),
	}, factory, client, media.PlaceholderDevices{}, nil, func(update groupcall.Update) {
		log.WithField("update", update).Info("group call update")
		if state, ok := update.(groupcall.ConnectionStateUpdate); ok {
			if state.State == groupcall.Failed || state.State == groupcall.Disconnected {
				cancel()
			}
		}
	})

	if err := call.Join(ctx); err != nil {
		return err
	}
	if startVideo {
		if err := call.SetStreamEnabled(ctx, media.Video, true); err != nil {
			log.WithError(err).Warn("cannot start video")
		}
	}
	<-ctx.Done()

	leaveCtx, leaveCancel := context.WithTimeout(context.Background(), leaveTimeout)
	defer leaveCancel()
	call.Leave(leaveCtx)
	return nil
}

func runPhoneCall(
	ctx context.Context,
	cancel context.CancelFunc,
	userId string,
	outgoing bool,
	startVideo bool,
	factory *pionpc.Factory,
	client *signaling.Client,
) error {
	phoneCall, err := client.GetPhoneCall(ctx)
	if err != nil {
		return err
	}
	call := p2p.New(p2p.Config{
		UserId:           userId,
		Connections:      phoneCall.Connections,
		IsOutgoing:       outgoing || phoneCall.IsOutgoing,
		IsP2pAllowed:     phoneCall.IsP2pAllowed,
		ShouldStartVideo: startVideo,
	}, factory, client, media.PlaceholderDevices{}, func(update p2p.Update) {
		log.WithField("update", update).Info("direct call update")
		if state, ok := update.(p2p.StateUpdate); ok {
			if state.State == p2p.Failed || state.State == p2p.Closed {
				cancel()
			}
		}
	})
	defer call.Stop()

	data, err := client.SignalingData(ctx)
	if err != nil {
		return err
	}
	// descriptions are only accepted once started, the stream holds them until then
	if err := call.Start(ctx); err != nil {
		return err
	}
	go func() {
		for payload := range data {
			if err := call.HandleSignalingData(ctx, payload); err != nil {
				log.WithError(err).Warn("signaling data rejected")
			}
		}
	}()
	<-ctx.Done()
	return nil
}
