package persistence

import (
	"context"
	"sync"
)

// watch re-reads one collection whenever it is signalled and hands the result
// to deliver. Signals arriving while a load is in flight coalesce into a
// single follow-up load, so subscribers always end on the latest state.
type watch[T any] struct {
	load    func(ctx context.Context) (T, error)
	deliver func(T, error)
	signal  chan struct{}
	done    chan struct{}
	once    sync.Once
}

// newWatch returns a watch with its initial load already queued. The caller
// starts it with go w.run() once its notifier subscription is in place.
func newWatch[T any](load func(ctx context.Context) (T, error), deliver func(T, error)) *watch[T] {
	w := &watch[T]{
		load:    load,
		deliver: deliver,
		signal:  make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	w.signal <- struct{}{}
	return w
}

func (w *watch[T]) notify() {
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *watch[T]) stop() {
	w.once.Do(func() { close(w.done) })
}

func (w *watch[T]) run() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	for {
		select {
		case <-w.done:
			return
		case <-w.signal:
		}
		v, err := w.load(ctx)
		select {
		case <-w.done:
			return
		default:
		}
		w.deliver(v, err)
		if err != nil {
			w.stop()
			return
		}
	}
}

// watchCollection wires a watch to the notifier so that changes to the given
// collection of roomID trigger a reload.
func watchCollection[T any](n Notifier, roomID string, c Collection, load func(ctx context.Context) (T, error), deliver func(T, error)) Unsubscribe {
	w := newWatch(load, deliver)
	cancel := n.Subscribe(roomID, func(ch Change) {
		if ch.Collection == c {
			w.notify()
		}
	})
	go w.run()
	return func() {
		cancel()
		w.stop()
	}
}
