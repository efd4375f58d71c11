package supervisor

import (
	"context"
	"time"

	"github.com/networkup/chat/internal/logger"
	"github.com/thejerf/suture/v4"
)

// TreeConfig: параметры перезапуска сервисов.
type TreeConfig struct {
	// FailureThreshold: число сбоев (с учётом затухания), после которого супервизор делает паузу.
	FailureThreshold float64
	// FailureDecay: период полураспада счётчика сбоев, в секундах.
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

func DefaultTreeConfig() TreeConfig {
	return TreeConfig{
		FailureThreshold: 5.0,
		FailureDecay:     30.0,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  10 * time.Second,
	}
}

// Tree: root -> realtime (hub, relay subscriber) и api (HTTP).
// Realtime стартует раньше, чтобы hub был готов к первому upgrade.
type Tree struct {
	root     *suture.Supervisor
	realtime *suture.Supervisor
	api      *suture.Supervisor
}

func NewTree(cfg TreeConfig) *Tree {
	def := DefaultTreeConfig()
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = def.FailureDecay
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = def.FailureBackoff
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = logEvent

	t := &Tree{
		root:     suture.New("chat", rootSpec),
		realtime: suture.New("realtime", spec),
		api:      suture.New("api", spec),
	}
	t.root.Add(t.realtime)
	t.root.Add(t.api)
	return t
}

func logEvent(e suture.Event) {
	logger.Log().Warn().Fields(e.Map()).Msg("supervisor: " + e.String())
}

func (t *Tree) AddRealtimeService(svc suture.Service) suture.ServiceToken {
	return t.realtime.Add(svc)
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

// Serve блокируется до отмены ctx; все сервисы останавливаются в пределах ShutdownTimeout.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) UnstoppedServiceReport() ([]suture.UnstoppedService, error) {
	return t.root.UnstoppedServiceReport()
}
