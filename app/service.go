// Package app wires configuration, auth, transport and sinks into a running
// gateway service.
package app

import (
	"context"
	"fmt"

	"github.com/mbeckert/stiebelgw/auth"
	"github.com/mbeckert/stiebelgw/config"
	"github.com/mbeckert/stiebelgw/core/model"
	"github.com/mbeckert/stiebelgw/core/session"
	"github.com/mbeckert/stiebelgw/infra/influx"
	"github.com/mbeckert/stiebelgw/infra/logger"
	"github.com/mbeckert/stiebelgw/infra/mqtt"
	"github.com/mbeckert/stiebelgw/infra/ws"
	"github.com/mbeckert/stiebelgw/metrics"
)

// Service owns one realtime session against the cloud service.
type Service struct {
	cfg    *config.Config
	tokens *auth.Manager
	log    logger.Logger
}

// New creates a Service from the configuration.
func New(cfg *config.Config) (*Service, error) {
	logger.SetGlobalLevel(cfg.Logging.Level)
	mgr := auth.NewManager(auth.Config{
		Credentials: auth.Credentials{
			Username: cfg.Auth.Username,
			Password: cfg.Auth.Password,
			ClientID: cfg.Auth.ClientID,
		},
		AuthBaseURL:    cfg.Auth.AuthURL,
		ServiceBaseURL: cfg.Auth.ServiceURL,
		CachedToken:    cfg.Auth.CachedToken,
		CachedExpiry:   cfg.Auth.CachedExpiry,
		Log:            logger.New("auth"),
	})
	return &Service{cfg: cfg, tokens: mgr, log: logger.New("service")}, nil
}

// Run starts the session and blocks until the context is cancelled.
func (s *Service) Run(ctx context.Context) error {
	inst, err := s.selectInstallation(ctx)
	if err != nil {
		return err
	}
	s.log.Infof("using installation %d (%s, online=%v)", inst.ID, inst.Name, inst.IsOnline)
	instID := inst.InstallationID()

	sinks := []model.Sink{logSink{log: logger.New("values")}}
	var mqttSink *mqtt.Sink
	if s.cfg.MQTT.Enabled {
		mqttSink, err = mqtt.NewSink(s.cfg.MQTT, instID, logger.New("mqtt"))
		if err != nil {
			return fmt.Errorf("mqtt sink: %w", err)
		}
		defer mqttSink.Close()
		sinks = append(sinks, mqttSink)
	}
	if s.cfg.Influx.Enabled {
		sink := influx.NewSinkWithFallback(s.cfg.Influx, instID, logger.New("influx"))
		if c, ok := sink.(*influx.Sink); ok {
			defer c.Close()
		}
		sinks = append(sinks, sink)
	}
	var sink model.Sink = sinks[0]
	if len(sinks) > 1 {
		sink = model.NewMultiSink(sinks...)
	}

	var obs session.Observer = session.NopObserver{}
	if s.cfg.Metrics.PrometheusEnabled {
		prom, err := metrics.NewPromObserver(nil)
		if err != nil {
			return fmt.Errorf("prom observer: %w", err)
		}
		obs = prom
		go func() {
			if err := metrics.StartPromServer(ctx, s.cfg.Metrics.PrometheusAddr, s.log); err != nil {
				s.log.Errorf("prom server: %v", err)
			}
		}()
	}

	url := s.cfg.Realtime.URL
	if url == "" {
		url = ws.DefaultURL
	}
	sess := session.New(session.Config{
		InstallationID: instID,
		ClientID:       s.cfg.Auth.ClientID,
		Fields:         s.cfg.Fields,
	}, session.Deps{
		Tokens:    s.tokens,
		Transport: ws.New(url, logger.New("ws")),
		Sink:      sink,
		Log:       logger.New("session"),
		Observer:  obs,
	})
	if mqttSink != nil {
		mqttSink.BindWriter(sess)
	}
	if err := sess.Start(ctx); err != nil {
		return err
	}

	<-ctx.Done()
	sess.Stop()
	return nil
}

// selectInstallation resolves the configured installation id against the
// account, or picks the first installation when none is configured.
func (s *Service) selectInstallation(ctx context.Context) (auth.Installation, error) {
	installations, err := s.tokens.Installations(ctx)
	if err != nil {
		return auth.Installation{}, fmt.Errorf("list installations: %w", err)
	}
	if len(installations) == 0 {
		return auth.Installation{}, fmt.Errorf("account has no installations")
	}
	if s.cfg.Installation.ID == 0 {
		return installations[0], nil
	}
	for _, inst := range installations {
		if inst.ID == s.cfg.Installation.ID {
			return inst, nil
		}
	}
	return auth.Installation{}, fmt.Errorf("installation %d not found", s.cfg.Installation.ID)
}

// logSink traces delivered batches. It always succeeds.
type logSink struct {
	log logger.Logger
}

func (l logSink) Publish(_ context.Context, batch []model.FieldUpdate) error {
	for _, f := range batch {
		if reg, ok := model.Catalog[f.RegisterIndex]; ok {
			l.log.Debugf("%s (%d) = %v", reg.Name, f.RegisterIndex, f.Value)
			continue
		}
		l.log.Debugf("register %d = %v", f.RegisterIndex, f.Value)
	}
	return nil
}
