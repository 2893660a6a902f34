package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"reelcast/internal/core/domain"
	"reelcast/internal/core/ports"
	"reelcast/internal/core/services"
	httphandlers "reelcast/internal/handlers/http"
	"reelcast/internal/infrastructure/middleware"
	"reelcast/internal/infrastructure/monitoring"
	signalclient "reelcast/internal/infrastructure/signal"
	webrtcinfra "reelcast/internal/infrastructure/webrtc"
	"reelcast/pkg/config"
	"reelcast/pkg/logger"
	"reelcast/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the YAML configuration")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zap.NewExample().Sugar().Fatalw("failed to load configuration", "path", *configPath, "error", err)
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tracer, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("failed to initialise tracing", "error", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := monitoring.NewPrometheusCollector(registry)

	// Signaling transport
	clientCfg := signalclient.DefaultClientConfig(cfg.Signal.URL)
	clientCfg.ReconnectAttempts = cfg.Signal.ReconnectAttempts
	clientCfg.ReconnectDelay = cfg.Signal.ReconnectDelay
	clientCfg.DialTimeout = cfg.Signal.DialTimeout
	clientCfg.PingInterval = cfg.Signal.PingInterval
	clientCfg.PongTimeout = cfg.Signal.PongTimeout
	clientCfg.WriteTimeout = cfg.Signal.WriteTimeout
	clientCfg.MaxMessageBytes = cfg.Signal.MaxMessageBytes
	clientCfg.BreakerThreshold = cfg.Signal.BreakerThreshold
	clientCfg.BreakerCooldown = cfg.Signal.BreakerCooldown

	transport := signalclient.NewWebSocketClient(clientCfg, log.Named("signal"))
	transport.SetMetrics(collector)
	transport.OnConnectionChange(collector.SignalingConnectionChanged)

	// Peer connections
	webrtcCfg := webrtcinfra.WebRTCConfig{}
	for _, s := range cfg.WebRTC.ICEServers {
		webrtcCfg.ICEServers = append(webrtcCfg.ICEServers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	webrtcCfg.PortRange.Min = cfg.WebRTC.PortRange.Min
	webrtcCfg.PortRange.Max = cfg.WebRTC.PortRange.Max

	factory, err := webrtcinfra.NewPeerConnectionFactory(webrtcCfg)
	if err != nil {
		log.Fatalw("failed to create peer connection factory", "error", err)
	}

	egress, err := webrtcinfra.DialRTPEgress(cfg.Playback.AudioAddress, cfg.Playback.VideoAddress)
	if err != nil {
		log.Fatalw("failed to open playback output", "error", err)
	}
	defer egress.Close()

	// Session manager
	service := services.NewLiveStreamService(transport, factory, services.LiveStreamConfig{
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout,
		ChatRate:           rate.Limit(cfg.Chat.MessagesPerSecond),
		ChatBurst:          cfg.Chat.Burst,
	}, log.Named("live"))
	service.SetMetrics(collector)
	service.SetInboundTrackHandler(webrtcinfra.NewRemoteStreamReader(collector, egress, log.Named("media")))
	service.SetCallbacks(services.Callbacks{
		OnViewerJoined: func(v domain.ViewerJoined) {
			log.Infow("viewer joined", "viewer_id", v.ViewerID, "user_name", v.UserName)
		},
		OnStreamReceived: func(s *services.RemoteStream) {
			log.Infow("receiving stream", "stream", s.ID, "broadcaster", s.Broadcaster)
		},
		OnStreamMessage: func(m domain.StreamMessage) {
			log.Infow("chat", "user_name", m.UserName, "message", m.Message)
		},
		OnStreamLike: func(l domain.StreamLike) {
			log.Debugw("like", "user_id", l.UserID)
		},
		OnStreamEnded: func() {
			log.Info("broadcaster ended the stream")
		},
	})

	source := localStreamSource(cfg, collector, log.Named("ingest"))

	// Control API
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(logger.NewContextLogger(zapLogger.Named("control"))),
		middleware.ErrorHandlerMiddleware(log),
		middleware.NewHTTPRateLimitMiddleware(cfg.Control.RequestsPerSecond, cfg.Control.Burst),
	)
	httphandlers.NewStreamHandler(service, source, log.Named("control")).SetupRoutes(router)

	health := monitoring.NewHealthChecker()
	health.AddSignalingCheck(transport)
	router.GET("/health", func(c *gin.Context) {
		status := health.CheckAll(c.Request.Context())
		code := http.StatusOK
		if !status.Healthy() {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))
		log.Info("Prometheus metrics enabled")
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.Signal.DialTimeout)
	if err := service.Connect(connectCtx); err != nil {
		log.Warnw("signaling server unreachable, waiting for /api/v1/connect", "url", cfg.Signal.URL, "error", err)
	}
	cancelConnect()

	srv := &http.Server{
		Addr:              cfg.Control.Address,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("control API listening", "address", cfg.Control.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Errorw("control API failed", "error", err)
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Control.ShutdownTimeout)
	defer cancel()

	if err := service.EndStream(shutdownCtx); err != nil {
		log.Warnw("end stream on shutdown", "error", err)
	}
	if err := service.Disconnect(); err != nil {
		log.Warnw("disconnect signaling", "error", err)
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("control API shutdown", "error", err)
		srv.Close()
	}
	if err := tracer.Shutdown(shutdownCtx); err != nil {
		log.Warnw("flush traces", "error", err)
	}

	log.Info("reelcast stopped")
}

// localStreamSource opens a fresh local stream per broadcast and feeds it from
// the configured RTP ingest sockets until the stream is stopped.
func localStreamSource(cfg *config.Config, collector *monitoring.PrometheusCollector, log *zap.SugaredLogger) httphandlers.LocalStreamSource {
	return func(streamID domain.StreamID) (ports.LocalStream, error) {
		stream, err := webrtcinfra.NewLocalMediaStream(string(streamID), cfg.WebRTC.VideoCodec, log)
		if err != nil {
			return nil, err
		}
		stream.OnPictureLoss(collector.PictureLossRequested)

		inputs := []struct {
			kind webrtc.RTPCodecType
			addr string
		}{
			{webrtc.RTPCodecTypeAudio, cfg.Ingest.AudioAddress},
			{webrtc.RTPCodecTypeVideo, cfg.Ingest.VideoAddress},
		}
		for _, in := range inputs {
			if in.addr == "" {
				continue
			}
			ingest, err := webrtcinfra.ListenRTP(in.addr, in.kind, stream, log)
			if err != nil {
				stream.Stop()
				return nil, err
			}
			stream.AddStopHook(func() { ingest.Close() })
			go func() {
				if err := ingest.Run(context.Background()); err != nil {
					log.Warnw("rtp ingest stopped", "stream_id", streamID, "error", err)
				}
			}()
		}
		return stream, nil
	}
}
