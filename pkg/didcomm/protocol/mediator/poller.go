/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package mediator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type poller struct {
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// StartPickupPoller picks up from the default mediator every interval, the first time right away, until
// StopPickupPoller is called.
func (s *Service) StartPickupPoller(interval time.Duration) error {
	s.poller.mu.Lock()
	defer s.poller.mu.Unlock()

	if s.poller.cancel != nil {
		return ErrPollerRunning
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	s.poller.cancel = cancel
	s.poller.done = done

	ticker := backoff.NewTicker(backoff.NewConstantBackOff(interval))

	go func() {
		defer close(done)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.poll(ctx)
			}
		}
	}()

	logger.Infof("pickup poller started, interval %s", interval)

	return nil
}

// StopPickupPoller stops the poller and waits for a running pickup to end. It is a no-op when the poller is not
// running.
func (s *Service) StopPickupPoller() {
	s.poller.mu.Lock()
	cancel, done := s.poller.cancel, s.poller.done
	s.poller.cancel, s.poller.done = nil, nil
	s.poller.mu.Unlock()

	if cancel == nil {
		return
	}

	cancel()
	<-done

	logger.Infof("pickup poller stopped")
}

func (s *Service) poll(ctx context.Context) {
	n, err := s.PickupFromDefault(ctx)

	switch {
	case errors.Is(err, ErrNoDefaultMediator):
		logger.Debugf("pickup skipped: no default mediator")
	case errors.Is(err, context.Canceled):
	case err != nil:
		logger.Warnf("pickup from default mediator: %v", err)
	case n > 0:
		logger.Debugf("picked up %d messages", n)
	}
}
