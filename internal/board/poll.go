package board

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
)

// StartPolling refreshes the store on a fixed interval until the returned
// stop function is called or the context is cancelled. Refresh errors go to
// onError; polling keeps running after one.
func (s *Store) StartPolling(ctx context.Context, intervalSeconds int, onError func(error)) (func(), error) {
	if intervalSeconds <= 0 {
		intervalSeconds = 15
	}
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(fmt.Sprintf("@every %ds", intervalSeconds), func() {
		if ctx.Err() != nil {
			return
		}
		if err := s.Refresh(ctx); err != nil && onError != nil {
			onError(err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	stop := func() {
		<-c.Stop().Done()
	}
	go func() {
		<-ctx.Done()
		c.Stop()
	}()
	return stop, nil
}
