// Package notify holds transient, dismissible notifications. Each toast may
// carry one action that can be invoked only while the toast is still live.
package notify

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
)

// DefaultDuration is how long a toast stays visible.
const DefaultDuration = 5 * time.Second

// Toast is a visible notification.
type Toast struct {
	ID        string
	Message   string
	Action    string
	ExpiresAt time.Time
}

type entry struct {
	toast    Toast
	seq      uint64
	onAction func()
}

// Tray is a TTL cache of live toasts.
type Tray struct {
	cache    *ttlcache.Cache[string, *entry]
	duration time.Duration
	seq      atomic.Uint64
}

// NewTray creates a tray whose toasts expire after d.
func NewTray(d time.Duration) *Tray {
	if d <= 0 {
		d = DefaultDuration
	}
	c := ttlcache.New[string, *entry](
		ttlcache.WithTTL[string, *entry](d),
		ttlcache.WithDisableTouchOnHit[string, *entry](),
	)
	c.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *entry]) {
		if reason == ttlcache.EvictionReasonExpired {
			slog.Debug("notification expired", "message", item.Value().toast.Message)
		}
	})
	go c.Start()
	return &Tray{cache: c, duration: d}
}

// Close stops the expiration loop.
func (t *Tray) Close() {
	t.cache.Stop()
}

// Notify shows a toast; it satisfies the dispatch controller's notifier.
func (t *Tray) Notify(message, action string, onAction func()) {
	t.Show(message, action, onAction)
}

// Show adds a toast and returns its ID. action may be empty.
func (t *Tray) Show(message, action string, onAction func()) string {
	id := uuid.New().String()
	e := &entry{
		toast: Toast{
			ID:        id,
			Message:   message,
			Action:    action,
			ExpiresAt: time.Now().Add(t.duration),
		},
		seq:      t.seq.Add(1),
		onAction: onAction,
	}
	t.cache.Set(id, e, ttlcache.DefaultTTL)
	return id
}

// Invoke runs the toast's action and dismisses it. It returns false when
// the toast has expired or was dismissed.
func (t *Tray) Invoke(id string) bool {
	item, _ := t.cache.GetAndDelete(id)
	if item == nil || item.IsExpired() {
		return false
	}
	if fn := item.Value().onAction; fn != nil {
		fn()
	}
	return true
}

// Dismiss removes a toast without running its action.
func (t *Tray) Dismiss(id string) {
	t.cache.Delete(id)
}

// Active returns live toasts, oldest first.
func (t *Tray) Active() []Toast {
	now := time.Now()
	var entries []*entry
	for _, item := range t.cache.Items() {
		if item.IsExpired() || !item.ExpiresAt().After(now) {
			continue
		}
		entries = append(entries, item.Value())
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].seq < entries[j].seq })

	out := make([]Toast, len(entries))
	for i, e := range entries {
		out[i] = e.toast
	}
	return out
}

// Latest returns the most recent live toast.
func (t *Tray) Latest() (Toast, bool) {
	active := t.Active()
	if len(active) == 0 {
		return Toast{}, false
	}
	return active[len(active)-1], true
}
