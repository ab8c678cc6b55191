// Package config implements hot-reloadable configuration loading: YAML
// files decoded into a typed Bootstrap struct, reloaded on SIGHUP or on
// filesystem change. Grounded on tavern's contrib/config, extended with
// an fsnotify watch alongside the original SIGHUP trigger per the
// ambient stack described for this engine.
package config

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/rangecache/mediaproxy/internal/log"
)

// Observer is notified with the reloaded config whenever key changes.
type Observer[T any] func(string, *T)

// Config loads a typed configuration and notifies observers on reload.
type Config[T any] interface {
	Scan(v *T) error
	Watch(key string, o Observer[T]) error
	Close() error
}

type config[T any] struct {
	opts   *options
	stop   chan struct{}
	signal chan os.Signal
	fswatch *fsnotify.Watcher

	observers map[string][]Observer[T]
	bc        *T
}

// New constructs a Config and starts its reload loop.
func New[T any](opts ...Option) Config[T] {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	c := &config[T]{
		opts:      o,
		stop:      make(chan struct{}, 1),
		signal:    make(chan os.Signal, 1),
		observers: make(map[string][]Observer[T]),
	}

	if w, err := fsnotify.NewWatcher(); err == nil {
		c.fswatch = w
		for _, s := range o.sources {
			if p := s.Path(); p != "" {
				if err := w.Add(p); err != nil {
					log.L().Warnf("config: watch %s: %v", p, err)
				}
			}
		}
	} else {
		log.L().Warnf("config: fsnotify unavailable: %v", err)
	}

	go c.tick()

	return c
}

func (c *config[T]) Scan(v *T) error {
	c.bc = v
	for _, source := range c.opts.sources {
		files, err := source.Load()
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("config file not found: %w", err)
			}
			return err
		}
		for _, file := range files {
			if file.Value == nil {
				continue
			}
			unmarshal := toUnmarshal(file.Format)
			log.L().Debugf("config: load file %s format %s", file.Key, file.Format)
			if err := unmarshal(file.Value, v); err != nil {
				log.L().Errorf("config: unmarshal %s: %v", file.Key, err)
			}
		}
	}
	return nil
}

func (c *config[T]) Watch(key string, o Observer[T]) error {
	c.observers[key] = append(c.observers[key], o)
	return nil
}

func (c *config[T]) Close() error {
	c.stop <- struct{}{}
	close(c.stop)
	close(c.signal)
	if c.fswatch != nil {
		return c.fswatch.Close()
	}
	return nil
}

func (c *config[T]) tick() {
	signal.Notify(c.signal, syscall.SIGHUP)

	var fsEvents <-chan fsnotify.Event
	if c.fswatch != nil {
		fsEvents = c.fswatch.Events
	}

	for {
		select {
		case <-c.stop:
			return
		case <-c.signal:
			log.L().Debugf("config: received SIGHUP")
			c.reload()
		case ev, ok := <-fsEvents:
			if !ok {
				fsEvents = nil
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			log.L().Debugf("config: file changed: %s", ev.Name)
			c.reload()
		}
	}
}

func (c *config[T]) reload() {
	if c.bc == nil {
		return
	}
	if err := c.Scan(c.bc); err != nil {
		log.L().Errorf("config: reload failed: %v", err)
		return
	}
	for k, observers := range c.observers {
		log.L().Debugf("config: notifying observers for key %s", k)
		for _, observer := range observers {
			observer(k, c.bc)
		}
	}
}
