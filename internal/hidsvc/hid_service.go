// Package hidsvc owns the lifecycle of connected HID devices: descriptor
// retrieval, parsing, driver binding and interrupt-IN polling. Transports
// plug in as backends and announce devices over the backend bus.
package hidsvc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger"
	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"

	"github.com/usbforge/hidhost/hid"
	"github.com/usbforge/hidhost/internal/usb"
	"github.com/usbforge/hidhost/pkg/bus"
)

type Service struct {
	log      *zap.Logger
	db       *badger.DB
	registry *hid.Registry
	options  serviceOptions
	now      func() time.Time
	ready    chan struct{}

	backendBus *BackendBus
	eventBus   *EventBus
	devices    *xsync.MapOf[Address, *openDevice]
}

type (
	BackendBus       = bus.Bus[string, BackendEvent]
	BackendPublisher = bus.Publisher[BackendEvent]

	EventType uint8
	EventKey  struct {
		Type EventType
		Addr Address
	}
	EventBus        = bus.Bus[EventKey, DeviceEvent]
	EventSubscriber = bus.Subscriber[EventKey, DeviceEvent]
	DeviceEvent     struct{}
)

const (
	DeviceConnected EventType = iota
	DeviceDisconnected
)

var defaultOptions = serviceOptions{
	backends:       make(map[string]Backend),
	backoffTimeout: 5 * time.Second,
}

type serviceOptions struct {
	backends       map[string]Backend
	backoffTimeout time.Duration
}

type Option func(*serviceOptions)

func WithBackend(name string, backend Backend) Option {
	return func(o *serviceOptions) {
		o.backends[name] = backend
	}
}

func WithBackoffTimeout(d time.Duration) Option {
	return func(o *serviceOptions) {
		o.backoffTimeout = d
	}
}

func New(db *badger.DB, registry *hid.Registry, log *zap.Logger, now func() time.Time, opts ...Option) *Service {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	return &Service{
		log:      log,
		db:       db,
		registry: registry,
		options:  options,
		now:      now,
		ready:    make(chan struct{}),

		backendBus: bus.NewBus[string, BackendEvent](log),
		eventBus:   bus.NewBus[EventKey, DeviceEvent](log),
		devices:    xsync.NewMapOf[Address, *openDevice](),
	}
}

func (s *Service) Start(ctx context.Context) error {
	err := s.backendBus.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start backend bus: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.backendBus.Ready():
	}

	err = s.eventBus.Start(ctx)
	if err != nil {
		return fmt.Errorf("failed to start event bus: %w", err)
	}
	select {
	case <-ctx.Done():
		return nil
	case <-s.eventBus.Ready():
	}

	s.consumeBackendEvents(ctx)

	for backendID := range s.options.backends {
		go s.runBackend(ctx, backendID)
	}
	for _, backend := range s.options.backends {
		select {
		case <-ctx.Done():
			return nil
		case <-backend.Ready():
		}
	}
	close(s.ready)
	s.log.Info("HID service started")
	<-ctx.Done()
	s.closeAll()
	return nil
}

func (s *Service) Ready() <-chan struct{} {
	return s.ready
}

func (s *Service) Subscribe(ctx context.Context, keys ...EventKey) <-chan bus.Message[EventKey, DeviceEvent] {
	return s.eventBus.Subscribe(ctx, keys...)
}

func (s *Service) consumeBackendEvents(ctx context.Context) {
	go func() {
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()
		ch := s.backendBus.Subscribe(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case msg := <-ch:
				s.handleBackendEvent(ctx, msg.Key, msg.Message)
			}
		}
	}()
}

func (s *Service) runBackend(ctx context.Context, backendID string) {
	backend := s.options.backends[backendID]
	for {
		err := backend.Start(ctx, s.backendBus.CreatePublisher(backendID))
		if err != nil {
			s.log.Error("failed to start the backend", zap.String("backend", backendID), zap.Error(err))
		}
		t := time.NewTimer(s.options.backoffTimeout)
		// retry after backoff
		select {
		case <-ctx.Done():
			if !t.Stop() {
				<-t.C
			}
			return
		case <-t.C:
		}
	}
}

func (s *Service) handleBackendEvent(ctx context.Context, backendID string, event BackendEvent) {
	for _, id := range event.Disconnected {
		s.onDisconnected(ctx, Address{Backend: backendID, ID: id})
	}
	for _, dev := range event.Connected {
		s.onConnected(ctx, backendID, dev)
	}
}

func (s *Service) onConnected(ctx context.Context, backendID string, bdev BackendDevice) {
	addr := Address{Backend: backendID, ID: bdev.ID}
	rec, err := s.persistDevice(addr, bdev)
	if err != nil {
		s.log.Error("failed to persist device record", zap.Error(err))
		return
	}
	open, err := s.setupDevice(ctx, addr, bdev.Device, bdev.Interface)
	if err != nil {
		s.log.Error("failed to set up device",
			zap.String("addr", addr.String()), zap.Error(err))
		return
	}
	s.devices.Store(addr, open)
	s.log.Info("device connected",
		zap.String("addr", addr.String()),
		zap.String("name", rec.Name),
		zap.Time("firstSeenAt", rec.FirstSeenAt))
	s.eventBus.Publish(ctx, EventKey{Type: DeviceConnected, Addr: addr}, DeviceEvent{})
}

func (s *Service) onDisconnected(ctx context.Context, addr Address) {
	open, ok := s.devices.LoadAndDelete(addr)
	if !ok {
		return
	}
	open.close()
	s.registry.Release(open.hidDev)
	s.log.Info("device disconnected", zap.String("addr", addr.String()))
	s.eventBus.Publish(ctx, EventKey{Type: DeviceDisconnected, Addr: addr}, DeviceEvent{})
}

func (s *Service) closeAll() {
	s.devices.Range(func(addr Address, open *openDevice) bool {
		s.devices.Delete(addr)
		open.close()
		s.registry.Release(open.hidDev)
		return true
	})
}

func (s *Service) IsConnected(addr Address) bool {
	_, ok := s.devices.Load(addr)
	return ok
}

// Backend is a transport announcing HID devices to the service. Start blocks
// until ctx is cancelled and publishes connect/disconnect events; the service
// restarts a backend that returns early.
type Backend interface {
	Start(ctx context.Context, pub BackendPublisher) error
	Ready() <-chan struct{}
}

type BackendEvent struct {
	Connected    []BackendDevice
	Disconnected []string
}

// BackendDevice is one announced device: the transport handle plus the HID
// interface to drive.
type BackendDevice struct {
	ID        string
	Name      string
	Device    usb.Device
	Interface usb.Interface
}

type Address struct {
	Backend string `json:"backend" yaml:"backend"`
	ID      string `json:"id" yaml:"id"`
}

func (a Address) String() string {
	return fmt.Sprintf("%s/%s", a.Backend, a.ID)
}

func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Address) UnmarshalJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseAddress(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, "/")
	if len(parts) != 2 {
		return Address{}, fmt.Errorf("invalid address: %s", s)
	}
	return Address{Backend: parts[0], ID: parts[1]}, nil
}

// DeviceRecord is the persisted view of a device, keyed by address. The raw
// report descriptor is stored separately so the record stays small.
type DeviceRecord struct {
	Address     Address   `json:"address"`
	Name        string    `json:"name"`
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
}

var ErrDeviceNotFound = errors.New("device not found")

func deviceKey(addr Address) []byte {
	return []byte(fmt.Sprintf("hid/devices/%s/%s", addr.Backend, addr.ID))
}

func descriptorKey(addr Address) []byte {
	return []byte(fmt.Sprintf("hid/descriptors/%s/%s", addr.Backend, addr.ID))
}

func (s *Service) persistDevice(addr Address, bdev BackendDevice) (DeviceRecord, error) {
	var rec DeviceRecord
	now := s.now()
	err := s.db.Update(func(txn *badger.Txn) error {
		key := deviceKey(addr)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
			rec = DeviceRecord{Name: bdev.Name}
		case err != nil:
			return err
		default:
			err = item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return fmt.Errorf("failed to unmarshal device record: %w", err)
			}
		}
		rec.Address = addr
		rec.Name = bdev.Name
		if rec.FirstSeenAt.IsZero() {
			rec.FirstSeenAt = now
		}
		rec.LastSeenAt = now
		b, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal device record: %w", err)
		}
		return txn.Set(key, b)
	})
	if err != nil {
		return DeviceRecord{}, fmt.Errorf("failed to store device record: %w", err)
	}
	return rec, nil
}

func (s *Service) cacheDescriptor(addr Address, desc []byte) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(descriptorKey(addr), desc)
	})
	if err != nil {
		return fmt.Errorf("failed to cache report descriptor: %w", err)
	}
	return nil
}

// CachedDescriptor returns the raw report descriptor last fetched from the
// device at addr.
func (s *Service) CachedDescriptor(addr Address) ([]byte, error) {
	var desc []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(descriptorKey(addr))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrDeviceNotFound
		}
		if err != nil {
			return err
		}
		desc, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return desc, nil
}

func (s *Service) ListDevices() ([]DeviceRecord, error) {
	var records []DeviceRecord
	err := s.db.View(func(txn *badger.Txn) error {
		iter := txn.NewIterator(badger.DefaultIteratorOptions)
		defer iter.Close()
		prefix := []byte("hid/devices/")
		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			var rec DeviceRecord
			err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	return records, nil
}
