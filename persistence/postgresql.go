// persistence/postgresql.go
package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq" // PostgreSQL 驱动 + LISTEN/NOTIFY

	"github.com/wfunc/photoguess/logger"
)

// PGNotifier relays changes through PostgreSQL LISTEN/NOTIFY. It is the natural
// pairing for GormStore: every process watching the same database hears every write.
type PGNotifier struct {
	db       *sql.DB
	listener *pq.Listener
	channel  string
	local    *LocalNotifier
	done     chan struct{}
}

func NewPGNotifier(dsn, channel string) (*PGNotifier, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	// 测试连接
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	listener := pq.NewListener(dsn, 100*time.Millisecond, 10*time.Second, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Log.Warnf("pq: listener event %d: %v", ev, err)
		}
	})
	if err := listener.Listen(channel); err != nil {
		listener.Close()
		db.Close()
		return nil, fmt.Errorf("pq: listen %s: %w", channel, err)
	}

	n := &PGNotifier{
		db:       db,
		listener: listener,
		channel:  channel,
		local:    NewLocalNotifier(),
		done:     make(chan struct{}),
	}
	go n.loop()
	return n, nil
}

func (n *PGNotifier) loop() {
	defer close(n.done)
	for notification := range n.listener.Notify {
		// A nil notification follows a reconnect; anything may have been missed.
		if notification == nil {
			n.local.DispatchAll()
			continue
		}
		var ch Change
		if err := json.Unmarshal([]byte(notification.Extra), &ch); err != nil {
			logger.Log.Warnf("pq: dropping malformed change on %s: %v", n.channel, err)
			continue
		}
		n.local.Dispatch(ch)
	}
}

func (n *PGNotifier) Publish(ctx context.Context, ch Change) error {
	payload, err := json.Marshal(ch)
	if err != nil {
		return err
	}
	if _, err := n.db.ExecContext(ctx, `SELECT pg_notify($1, $2)`, n.channel, string(payload)); err != nil {
		return fmt.Errorf("pq: notify %s: %w", n.channel, err)
	}
	return nil
}

func (n *PGNotifier) Subscribe(roomID string, fn func(Change)) func() {
	return n.local.Subscribe(roomID, fn)
}

func (n *PGNotifier) Close() error {
	err := n.listener.Close()
	<-n.done
	n.local.Close()
	if dbErr := n.db.Close(); err == nil {
		err = dbErr
	}
	return err
}
