package main

import (
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"waitmux/common"
	"waitmux/condvar"
	"waitmux/shm"
	"waitmux/waitset"
)

// Small demo: three simulated subscriber endpoints and one periodic timer
// multiplexed over a single wait set whose shared block lives in a shared
// memory segment.
func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	seg, err := shm.CreateAnonymous(condvar.DataSize)
	common.PanicIfErr(err)
	defer func() {
		common.PanicIfErr(seg.Close())
		common.PanicIfErr(shm.Unlink(seg.Name()))
	}()

	data, err := condvar.PlaceData(seg.Bytes())
	common.PanicIfErr(err)

	ws := waitset.NewWaitSetWithObservers(data, 8, logger, waitset.NewMetrics(prometheus.NewRegistry()))

	names := map[waitset.Condition]string{}
	subscribers := make([]*waitset.TriggerCondition, 3)
	for i := range subscribers {
		subscribers[i] = waitset.NewTriggerCondition()
		names[subscribers[i]] = fmt.Sprintf("subscriber-%d", i)
		if !ws.AttachCondition(subscribers[i]) {
			logger.Fatal().Int("subscriber", i).Msg("attach failed")
		}
	}

	ticker := waitset.NewTimerCondition()
	defer ticker.Close()
	names[ticker] = "ticker"
	if !ws.AttachCondition(ticker) {
		logger.Fatal().Msg("attach failed for timer condition")
	}
	common.PanicIfErr(ticker.ArmPeriodic(20*time.Millisecond, 20*time.Millisecond))

	// producers notify their own condition a few times with some jitter, like
	// endpoints would on message arrival
	var producers errgroup.Group
	for _, sub := range subscribers {
		sub := sub
		producers.Go(func() error {
			for n := 0; n < 5; n++ {
				time.Sleep(time.Duration(rand.Intn(30)) * time.Millisecond)
				logger.Info().Str("source", names[sub]).Int("round", n).Msg("event published")
				sub.Notify()
			}
			return nil
		})
	}

	go func() {
		common.PanicIfErr(producers.Wait())
		time.Sleep(50 * time.Millisecond)
		logger.Info().Msg("producers done, interrupting wait set")
		ws.Interrupt()
	}()

	for {
		fulfilled := ws.Wait()
		if len(fulfilled) == 0 {
			logger.Info().Msg("wait interrupted, shutting down")
			return
		}

		for _, c := range fulfilled {
			logger.Info().Str("source", names[c]).Int("fulfilled", len(fulfilled)).Msg("event multiplexed")
			switch cond := c.(type) {
			case *waitset.TriggerCondition:
				cond.ClearTrigger()
			case *waitset.TimerCondition:
				cond.ClearTrigger()
			}
		}
	}
}
