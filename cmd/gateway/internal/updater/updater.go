package updater

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/metrics"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/pricestore"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/repository"
	"github.com/shubham-shewale/stockpush/cmd/gateway/internal/schedule"
	"github.com/shubham-shewale/stockpush/pkg/models"
)

const publishTimeout = 2 * time.Second

type Config struct {
	MinStep   int
	MaxStep   int
	StepScale float64

	MinDelay time.Duration
	MaxDelay time.Duration

	RestartOnFailure bool
	RestartBackoff   time.Duration
}

func DefaultConfig() Config {
	return Config{
		MinStep:        -150,
		MaxStep:        150,
		StepScale:      100,
		MinDelay:       500 * time.Millisecond,
		MaxDelay:       2500 * time.Millisecond,
		RestartBackoff: 5 * time.Second,
	}
}

// Updater moves every price by a random step, then sleeps a random delay before the next tick.
type Updater struct {
	logger *zap.Logger
	store  *pricestore.Store
	cfg    Config
	rand   Rand
	clock  Clock
	sinks  []repository.TickSink

	// only touched by the tick goroutine
	seq map[string]int64
}

func NewUpdater(
	logger *zap.Logger,
	store *pricestore.Store,
	cfg Config,
	rnd Rand,
	clock Clock,
	sinks ...repository.TickSink,
) *Updater {
	return &Updater{
		logger: logger,
		store:  store,
		cfg:    cfg,
		rand:   rnd,
		clock:  clock,
		sinks:  sinks,
		seq:    make(map[string]int64),
	}
}

// Tick applies one step to every symbol and hands the result to the sinks.
func (u *Updater) Tick(ctx context.Context) []models.StockUpdate {
	symbols := u.store.Symbols()

	deltas := make(map[string]float64, len(symbols))
	for _, sym := range symbols {
		step := u.randInt(u.cfg.MinStep, u.cfg.MaxStep)
		deltas[sym] = float64(step) / u.cfg.StepScale
	}

	prices := u.store.ApplyDeltas(deltas)
	now := u.clock.Now().UnixMicro()

	updates := make([]models.StockUpdate, 0, len(symbols))
	for _, sym := range symbols {
		price, ok := prices[sym]
		if !ok {
			continue
		}
		u.seq[sym]++
		updates = append(updates, models.StockUpdate{
			Symbol:    sym,
			Price:     price,
			Delta:     deltas[sym],
			Timestamp: now,
			SeqID:     u.seq[sym],
		})
	}
	metrics.UpdaterTicksTotal.Inc()

	u.publish(ctx, updates)
	return updates
}

// NextDelay draws the wait before the next tick, in whole milliseconds within [MinDelay, MaxDelay].
func (u *Updater) NextDelay() time.Duration {
	span := int((u.cfg.MaxDelay - u.cfg.MinDelay) / time.Millisecond)
	return u.cfg.MinDelay + time.Duration(u.rand.Intn(span+1))*time.Millisecond
}

// Run ticks until ctx is cancelled. A failed tick ends the loop; it is logged and counted, and
// restarted after RestartBackoff when RestartOnFailure is set. Otherwise the error is returned.
func (u *Updater) Run(ctx context.Context) error {
	for {
		u.logger.Info("Price updater started", zap.Int("symbols", u.store.Len()))
		metrics.UpdaterRunning.Set(1)

		task := schedule.Repeat(ctx, u.NextDelay, func(ctx context.Context) error {
			u.Tick(ctx)
			return nil
		})
		<-task.Done()
		metrics.UpdaterRunning.Set(0)

		err := task.Err()
		if err == nil {
			u.logger.Info("Price updater stopped")
			return nil
		}

		metrics.UpdaterFailuresTotal.Inc()
		u.logger.Error("Price updater failed, prices are frozen", zap.Error(err))
		if !u.cfg.RestartOnFailure {
			return err
		}

		timer := time.NewTimer(u.cfg.RestartBackoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
		u.logger.Warn("Restarting price updater", zap.Duration("backoff", u.cfg.RestartBackoff))
	}
}

func (u *Updater) randInt(lo, hi int) int {
	return lo + u.rand.Intn(hi-lo+1)
}

func (u *Updater) publish(ctx context.Context, updates []models.StockUpdate) {
	for _, sink := range u.sinks {
		pctx, cancel := context.WithTimeout(ctx, publishTimeout)
		err := sink.Publish(pctx, updates)
		cancel()
		if err != nil {
			metrics.SinkErrorsTotal.WithLabelValues(sink.Name()).Inc()
			u.logger.Warn("Tick publication failed", zap.String("sink", sink.Name()), zap.Error(err))
		}
	}
}
