package challenge

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically drops challenge sessions that were abandoned in the
// Challenged state
type Sweeper struct {
	protocol *Protocol
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	done     chan struct{}
}

// NewSweeper creates a sweeper running every interval
func NewSweeper(protocol *Protocol, interval time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{
		protocol: protocol,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start begins the background sweep
func (s *Sweeper) Start() {
	go s.loop()
	s.logger.Info("Challenge session sweeper started", zap.Duration("interval", s.interval))
}

// Stop stops the sweep and waits for the loop to exit
func (s *Sweeper) Stop() {
	close(s.stopChan)
	<-s.done
	s.logger.Info("Challenge session sweeper stopped")
}

func (s *Sweeper) loop() {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

func (s *Sweeper) sweep() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	removed, err := s.protocol.Sweep(ctx)
	if err != nil {
		s.logger.Error("Failed to expire challenge sessions", zap.Error(err))
		return
	}
	if removed > 0 {
		s.logger.Info("Expired challenge sessions removed", zap.Int("count", removed))
	}
}
