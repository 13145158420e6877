package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-durable/durable/backend"
	"github.com/go-durable/durable/internal/notify"
	"github.com/go-durable/durable/internal/sqlstore"
	"github.com/lib/pq"
)

// notificationListener receives the notification keys other processes send with pg_notify and
// publishes them to the backend's hub.
type notificationListener struct {
	dsn    string
	hub    *notify.Hub
	logger *slog.Logger

	listener *pq.Listener

	mu     sync.Mutex
	closed bool
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newNotificationListener(dsn string, hub *notify.Hub, logger *slog.Logger) *notificationListener {
	return &notificationListener{
		dsn:    dsn,
		hub:    hub,
		logger: logger,
	}
}

func (nl *notificationListener) Start() error {
	nl.listener = pq.NewListener(nl.dsn, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			nl.logger.Error("notification listener event", "event", ev, "error", err)
		}
	})

	if err := nl.listener.Listen(sqlstore.NotifyChannel); err != nil {
		nl.listener.Close()
		return fmt.Errorf("listening to notification channel: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	nl.cancel = cancel

	nl.wg.Add(1)
	go nl.handleNotifications(ctx)

	return nil
}

func (nl *notificationListener) Close() error {
	nl.mu.Lock()
	if nl.closed {
		nl.mu.Unlock()
		return nil
	}
	nl.closed = true
	nl.mu.Unlock()

	nl.cancel()
	nl.wg.Wait()

	if err := nl.listener.Close(); err != nil {
		return fmt.Errorf("closing notification listener: %w", err)
	}

	return nil
}

func (nl *notificationListener) handleNotifications(ctx context.Context) {
	defer nl.wg.Done()

	ping := time.NewTicker(90 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case n, ok := <-nl.listener.Notify:
			if !ok {
				return
			}

			// nil after the connection was re-established, notifications may have been missed
			if n == nil {
				nl.hub.Publish(backend.PendingInstancesKey)
				continue
			}

			nl.hub.Publish(n.Extra)

		case <-ping.C:
			// Keep the connection alive
			if err := nl.listener.Ping(); err != nil {
				nl.logger.Error("notification listener ping failed", "error", err)
			}
		}
	}
}
