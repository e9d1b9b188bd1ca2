// Package notify is a local notification center: it keeps pending and
// delivered requests in BadgerDB, fires daily requests through cron and
// one-shot requests through timers, and hands deliveries to a callback.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	pendingPrefix   = "notify:pending:"
	deliveredPrefix = "notify:delivered:"
	authKey         = "notify:auth"

	// one-shot requests that never fire are dropped by badger after this grace
	oneShotGrace = 24 * time.Hour
	deliveredTTL = 48 * time.Hour
)

// DeliveryHandler receives fired requests
type DeliveryHandler func(Delivery)

// Options configures a Center
type Options struct {
	Location *time.Location
	// DefaultAuthorized applies until SetAuthorized has been called once
	DefaultAuthorized bool
}

type storedRequest struct {
	Request Request    `json:"request"`
	FireAt  *time.Time `json:"fireAt,omitempty"`
}

// Center implements the notification gateway on top of BadgerDB and cron
type Center struct {
	db          *badger.DB
	loc         *time.Location
	defaultAuth bool
	logger      *zap.Logger
	now         func() time.Time

	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	timers  map[string]*time.Timer
	handler DeliveryHandler
	running bool
}

// NewCenter creates a notification center over an open badger database
func NewCenter(db *badger.DB, opts Options, logger *zap.Logger) *Center {
	if logger == nil {
		logger = zap.NewNop()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.Local
	}
	return &Center{
		db:          db,
		loc:         loc,
		defaultAuth: opts.DefaultAuthorized,
		logger:      logger,
		now:         time.Now,
		cron:        cron.New(cron.WithLocation(loc)),
		entries:     make(map[string]cron.EntryID),
		timers:      make(map[string]*time.Timer),
	}
}

// OnDeliver registers the delivery callback. It runs on the cron or timer goroutine.
func (c *Center) OnDeliver(h DeliveryHandler) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// ==================== Authorization ====================

// Authorized reports whether notifications may be presented
func (c *Center) Authorized(ctx context.Context) (bool, error) {
	var granted bool
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(authKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			granted = c.defaultAuth
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			granted = string(v) == "1"
			return nil
		})
	})
	return granted, err
}

// SetAuthorized records the permission decision
func (c *Center) SetAuthorized(ctx context.Context, granted bool) error {
	v := "0"
	if granted {
		v = "1"
	}
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(authKey), []byte(v))
	})
}

// ==================== Requests ====================

// Add stores the request, replacing any request with the same ID, and arms it when running
func (c *Center) Add(ctx context.Context, req Request) error {
	if err := req.Validate(); err != nil {
		return err
	}

	sr := storedRequest{Request: req}
	var ttl time.Duration
	if !req.Trigger.Repeats {
		fireAt := c.now().Add(req.Trigger.After)
		sr.FireAt = &fireAt
		ttl = req.Trigger.After + oneShotGrace
	}

	data, err := json.Marshal(sr)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	err = c.db.Update(func(txn *badger.Txn) error {
		e := badger.NewEntry([]byte(pendingPrefix+req.ID), data)
		if ttl > 0 {
			e = e.WithTTL(ttl)
		}
		return txn.SetEntry(e)
	})
	if err != nil {
		return fmt.Errorf("failed to store request: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.disarmLocked(req.ID)
	if c.running {
		c.armLocked(sr)
	}

	c.logger.Debug("Notification scheduled",
		zap.String("notification_id", req.ID),
		zap.String("trigger", req.Trigger.String()))
	return nil
}

// Remove deletes pending and delivered entries for ids. Unknown ids are ignored.
func (c *Center) Remove(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}

	err := c.db.Update(func(txn *badger.Txn) error {
		for _, id := range ids {
			if err := txn.Delete([]byte(pendingPrefix + id)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(deliveredPrefix + id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove requests: %w", err)
	}

	c.mu.Lock()
	for _, id := range ids {
		c.disarmLocked(id)
	}
	c.mu.Unlock()
	return nil
}

// Pending lists requests that have not fired yet, ordered by ID
func (c *Center) Pending(ctx context.Context) ([]Request, error) {
	stored, err := c.pending()
	if err != nil {
		return nil, err
	}
	out := make([]Request, 0, len(stored))
	for _, sr := range stored {
		out = append(out, sr.Request)
	}
	return out, nil
}

// Delivered lists requests that fired and have not been removed
func (c *Center) Delivered(ctx context.Context) ([]Delivery, error) {
	var out []Delivery
	err := c.scan(deliveredPrefix, func(_ string, v []byte) error {
		var d Delivery
		if err := json.Unmarshal(v, &d); err != nil {
			return err
		}
		out = append(out, d)
		return nil
	})
	return out, err
}

// DeliveredAt returns when the request with id last fired. ok is false when it
// has not fired or its delivery was removed.
func (c *Center) DeliveredAt(ctx context.Context, id string) (time.Time, bool, error) {
	var d Delivery
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(deliveredPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &d)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read delivery %s: %w", id, err)
	}
	return d.DeliveredAt.In(c.loc), true, nil
}

func (c *Center) pending() ([]storedRequest, error) {
	var out []storedRequest
	err := c.scan(pendingPrefix, func(_ string, v []byte) error {
		var sr storedRequest
		if err := json.Unmarshal(v, &sr); err != nil {
			return err
		}
		out = append(out, sr)
		return nil
	})
	return out, err
}

func (c *Center) scan(prefix string, fn func(key string, v []byte) error) error {
	return c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := strings.TrimPrefix(string(item.Key()), prefix)
			if err := item.Value(func(v []byte) error {
				return fn(key, v)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// ==================== Lifecycle ====================

// Start arms every pending request and starts the cron scheduler
func (c *Center) Start(ctx context.Context) error {
	stored, err := c.pending()
	if err != nil {
		return fmt.Errorf("failed to load pending requests: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("notification center already running")
	}
	c.running = true

	for _, sr := range stored {
		c.armLocked(sr)
	}
	c.cron.Start()

	c.logger.Info("Notification center started", zap.Int("pending", len(stored)))
	return nil
}

// Stop halts cron and all timers; pending requests stay stored
func (c *Center) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	for id := range c.entries {
		c.disarmLocked(id)
	}
	for id := range c.timers {
		c.disarmLocked(id)
	}
	c.mu.Unlock()

	<-c.cron.Stop().Done()
	c.logger.Info("Notification center stopped")
}

func (c *Center) armLocked(sr storedRequest) {
	id := sr.Request.ID
	if sr.Request.Trigger.Repeats {
		spec := fmt.Sprintf("%d %d * * *", sr.Request.Trigger.Minute, sr.Request.Trigger.Hour)
		entryID, err := c.cron.AddFunc(spec, func() { c.fire(id) })
		if err != nil {
			c.logger.Error("Failed to arm daily notification", zap.String("notification_id", id), zap.Error(err))
			return
		}
		c.entries[id] = entryID
		return
	}

	delay := time.Duration(0)
	if sr.FireAt != nil {
		delay = sr.FireAt.Sub(c.now())
	}
	if delay < 0 {
		delay = 0
	}
	c.timers[id] = time.AfterFunc(delay, func() { c.fire(id) })
}

func (c *Center) disarmLocked(id string) {
	if entryID, ok := c.entries[id]; ok {
		c.cron.Remove(entryID)
		delete(c.entries, id)
	}
	if t, ok := c.timers[id]; ok {
		t.Stop()
		delete(c.timers, id)
	}
}

// fire moves a request to the delivered set and invokes the handler
func (c *Center) fire(id string) {
	var sr storedRequest
	found := false
	deliveredAt := c.now().In(c.loc)

	err := c.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(pendingPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := item.Value(func(v []byte) error {
			return json.Unmarshal(v, &sr)
		}); err != nil {
			return err
		}
		found = true

		if !sr.Request.Trigger.Repeats {
			if err := txn.Delete([]byte(pendingPrefix + id)); err != nil {
				return err
			}
		}

		data, err := json.Marshal(Delivery{Request: sr.Request, DeliveredAt: deliveredAt})
		if err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(deliveredPrefix+id), data).WithTTL(deliveredTTL))
	})
	if err != nil {
		c.logger.Error("Failed to record delivery", zap.String("notification_id", id), zap.Error(err))
		return
	}
	if !found {
		return
	}

	c.mu.Lock()
	if !sr.Request.Trigger.Repeats {
		delete(c.timers, id)
	}
	handler := c.handler
	c.mu.Unlock()

	authorized, err := c.Authorized(context.Background())
	if err != nil || !authorized {
		c.logger.Debug("Notification not presented, permission not granted", zap.String("notification_id", id))
		return
	}

	if handler != nil {
		handler(Delivery{Request: sr.Request, DeliveredAt: deliveredAt})
	}
}

// Fire delivers a pending request immediately, as if its trigger had elapsed
func (c *Center) Fire(id string) {
	c.fire(id)
}
