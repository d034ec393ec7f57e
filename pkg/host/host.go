// Package host assembles the services into a runnable HID host: storage,
// config watching, driver registration and the device lifecycle service.
package host

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/usbforge/hidhost/hid"
	"github.com/usbforge/hidhost/hiddrv"
	"github.com/usbforge/hidhost/internal/configsvc"
	"github.com/usbforge/hidhost/internal/hidsvc"
	"github.com/usbforge/hidhost/internal/hidsvc/replay"
	"github.com/usbforge/hidhost/pkg/bus"
)

type Config struct {
	DataDir       string `json:"dataDir"`
	DriversConfig string `json:"driversConfig"`
	CaptureFile   string `json:"captureFile"`
}

// DriversConfig is the live-reloaded drivers configuration file.
type DriversConfig struct {
	Mouse hiddrv.MouseOptions `json:"mouse"`
}

type EventBus = bus.Bus[string, hiddrv.Event]

// eventKey is the single key input events are published under.
const eventKey = "input"

type Host struct {
	config Config
	log    *zap.Logger

	db        *badger.DB
	configSvc *configsvc.Service
	registry  *hid.Registry
	hidSvc    *hidsvc.Service
	events    *EventBus

	mouseOptions atomic.Pointer[hiddrv.MouseOptions]
	runCtx       atomic.Pointer[context.Context]
}

func NewHost(config Config) (*Host, error) {
	loggerConfig := zap.NewDevelopmentConfig()
	loggerConfig.EncoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000000000")
	loggerConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logger, err := loggerConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	dbOptions := badger.DefaultOptions(filepath.Join(config.DataDir, "db"))
	dbOptions.Logger = &badgerLogger{l: logger.Named("badger")}
	db, err := badger.Open(dbOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger db: %w", err)
	}

	h := &Host{
		config:    config,
		log:       logger,
		db:        db,
		configSvc: configsvc.New(logger.Named("config")),
		registry:  hid.NewRegistry(logger.Named("hid")),
		events:    bus.NewBus[string, hiddrv.Event](logger.Named("events")),
	}
	h.mouseOptions.Store(&hiddrv.MouseOptions{})

	h.registry.Register(hiddrv.NewKeyboardDriver(logger.Named("drv.keyboard"), h.publishEvent))
	h.registry.Register(hiddrv.NewMouseDriver(logger.Named("drv.mouse"), h.publishEvent, func() hiddrv.MouseOptions {
		return *h.mouseOptions.Load()
	}))

	replayBackend := replay.NewBackend(logger.Named("hid.replay"), config.CaptureFile)
	h.hidSvc = hidsvc.New(db, h.registry, logger.Named("hid"), time.Now,
		hidsvc.WithBackend("replay", replayBackend))
	return h, nil
}

func (h *Host) publishEvent(e hiddrv.Event) {
	ctx := h.runCtx.Load()
	if ctx == nil {
		return
	}
	h.events.Publish(*ctx, eventKey, e)
}

// Run starts all services and blocks until ctx is cancelled or a service
// fails. Drivers pick up configuration changes without a restart.
func (h *Host) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	group, groupCtx := errgroup.WithContext(ctx)
	h.runCtx.Store(&groupCtx)

	if err := h.events.Start(groupCtx); err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	group.Go(func() error {
		return h.configSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return h.hidSvc.Start(groupCtx)
	})
	group.Go(func() error {
		return h.watchDriversConfig(groupCtx)
	})
	group.Go(func() error {
		h.logEvents(groupCtx)
		return nil
	})

	err := group.Wait()
	if err != nil {
		return fmt.Errorf("host failed: %w", err)
	}
	return nil
}

func (h *Host) watchDriversConfig(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return nil
	case <-h.configSvc.Ready():
	}
	cfg, err := configsvc.Register(h.configSvc, h.config.DriversConfig, DriversConfig{},
		func(cfg DriversConfig, err error) {
			if err != nil {
				h.log.Error("failed to reload drivers config", zap.Error(err))
				return
			}
			h.applyDriversConfig(cfg)
			h.log.Info("drivers config reloaded")
		})
	if err != nil {
		// Missing config is not fatal: drivers run with defaults.
		h.log.Warn("drivers config not loaded, using defaults", zap.Error(err))
		return nil
	}
	h.applyDriversConfig(cfg)
	return nil
}

func (h *Host) applyDriversConfig(cfg DriversConfig) {
	mouse := cfg.Mouse
	h.mouseOptions.Store(&mouse)
}

func (h *Host) logEvents(ctx context.Context) {
	log := h.log.Named("input")
	for msg := range h.events.Subscribe(ctx, eventKey) {
		switch e := msg.Message; {
		case e.Key != nil:
			log.Info("key",
				zap.Uint8("hidCode", e.Key.HIDCode),
				zap.Uint16("scancode", e.Key.Scancode),
				zap.Bool("pressed", e.Key.Pressed))
		case e.Mouse != nil:
			log.Info("mouse",
				zap.Uint32("buttons", e.Mouse.Buttons),
				zap.Int32("dx", e.Mouse.DX),
				zap.Int32("dy", e.Mouse.DY),
				zap.Int32("wheel", e.Mouse.Wheel))
		}
	}
}

// Subscribe returns a channel of decoded input events. Valid while Run is
// active.
func (h *Host) Subscribe(ctx context.Context) <-chan bus.Message[string, hiddrv.Event] {
	return h.events.Subscribe(ctx, eventKey)
}

func (h *Host) HID() *hidsvc.Service {
	return h.hidSvc
}

func (h *Host) Close() error {
	return h.db.Close()
}

type badgerLogger struct {
	l *zap.Logger
}

func (l badgerLogger) Errorf(msg string, args ...any) {
	l.l.Error(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Warningf(msg string, args ...any) {
	l.l.Warn(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Infof(msg string, args ...any) {
	l.l.Info(fmt.Sprintf(msg, args...))
}

func (l badgerLogger) Debugf(msg string, args ...any) {
	l.l.Debug(fmt.Sprintf(msg, args...))
}
