// Package poller runs the ingest loop: fetch recent orders from the
// brokerage, update the ledger inside a transaction, then deliver a
// notification for every fill that has not been posted yet.
package poller

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"tradenotify/internal/clients/discord"
	"tradenotify/internal/clients/schwab"
	"tradenotify/internal/config"
	"tradenotify/internal/database"
	"tradenotify/internal/ingest"
	"tradenotify/internal/ledger"
	"tradenotify/internal/metrics"
	"tradenotify/internal/retry"
)

// OrdersClient fetches orders and positions from the brokerage.
type OrdersClient interface {
	GetOrders(ctx context.Context, lookback time.Duration, status string) ([]ingest.Order, error)
	GetOptionPositions(ctx context.Context) (map[string]schwab.Position, error)
}

// Notifier delivers a trade embed and returns the created message ID.
type Notifier interface {
	SendToAll(ctx context.Context, content string, embed discord.Embed) (string, error)
	RoleID() string
}

// dbError marks a cycle failure caused by the local database rather
// than an upstream service. DB failures use a shorter backoff cap
// since they tend to be transient lock contention.
type dbError struct {
	err error
}

func (e *dbError) Error() string { return e.err.Error() }
func (e *dbError) Unwrap() error { return e.err }

// Poller drives poll cycles against the brokerage and the ledger.
type Poller struct {
	cfg      *config.Config
	db       *sql.DB
	fills    *ledger.FillRepository
	lots     *ledger.LotRepository
	postings *ledger.PostingRepository
	matcher  *ledger.Matcher
	client   OrdersClient
	notifier Notifier
	retryer  *retry.Retryer
	metrics  *metrics.Metrics
	log      zerolog.Logger
}

// New creates a poller over the given collaborators.
func New(
	cfg *config.Config,
	db *sql.DB,
	fills *ledger.FillRepository,
	lots *ledger.LotRepository,
	postings *ledger.PostingRepository,
	matcher *ledger.Matcher,
	client OrdersClient,
	notifier Notifier,
	retryer *retry.Retryer,
	m *metrics.Metrics,
	log zerolog.Logger,
) *Poller {
	return &Poller{
		cfg:      cfg,
		db:       db,
		fills:    fills,
		lots:     lots,
		postings: postings,
		matcher:  matcher,
		client:   client,
		notifier: notifier,
		retryer:  retryer,
		metrics:  m,
		log:      log.With().Str("component", "poller").Logger(),
	}
}

// Run polls until the context is cancelled or too many consecutive
// cycles fail.
func (p *Poller) Run(ctx context.Context) error {
	p.log.Info().
		Dur("interval", p.cfg.PollInterval).
		Int("lookback_days", p.cfg.LookbackDays).
		Msg("Poller started")

	consecutive := 0
	for {
		err := p.RunCycle(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if err == nil {
			consecutive = 0
			p.metrics.ConsecutiveErrs.Set(0)
			p.metrics.Cycles.WithLabelValues("ok").Inc()
			if !sleepCtx(ctx, p.cfg.PollInterval) {
				return ctx.Err()
			}
			continue
		}

		consecutive++
		p.metrics.ConsecutiveErrs.Set(float64(consecutive))
		p.metrics.Cycles.WithLabelValues("error").Inc()
		p.log.Error().
			Err(err).
			Int("consecutive_errors", consecutive).
			Msg("Poll cycle failed")

		if consecutive >= p.cfg.MaxConsecutiveErrors {
			return fmt.Errorf("aborting after %d consecutive failed cycles: %w", consecutive, err)
		}

		if !sleepCtx(ctx, p.cycleBackoff(consecutive, err)) {
			return ctx.Err()
		}
	}
}

// cycleBackoff doubles the base delay per consecutive failure, capped
// lower for database errors than for upstream outages.
func (p *Poller) cycleBackoff(consecutive int, err error) time.Duration {
	maxDelay := p.cfg.CycleRetryMaxDelay
	var dbErr *dbError
	if errors.As(err, &dbErr) {
		maxDelay = p.cfg.DBRetryMaxDelay
	}

	delay := p.cfg.CycleRetryBaseDelay * (1 << (consecutive - 1))
	if delay > maxDelay || delay <= 0 {
		delay = maxDelay
	}
	return delay
}

// RunCycle executes one poll cycle: ingest, match, notify.
func (p *Poller) RunCycle(ctx context.Context) error {
	cycleID := uuid.New().String()[:8]
	log := p.log.With().Str("cycle", cycleID).Logger()
	start := time.Now()

	var orders []ingest.Order
	err := p.retryer.Do(ctx, "fetch_orders", func() error {
		var fetchErr error
		orders, fetchErr = p.client.GetOrders(ctx, time.Duration(p.cfg.LookbackDays)*24*time.Hour, p.cfg.OrderStatus)
		return fetchErr
	})
	if err != nil {
		return fmt.Errorf("failed to fetch orders: %w", err)
	}

	stats, err := p.ingestOrders(log, orders)
	if err != nil {
		return &dbError{err: fmt.Errorf("ledger update failed: %w", err)}
	}

	// Positions are display context only, a failed fetch must not
	// block notifications.
	positions := map[string]schwab.Position{}
	if fetched, posErr := p.client.GetOptionPositions(ctx); posErr != nil {
		log.Warn().Err(posErr).Msg("Failed to fetch positions")
	} else {
		positions = fetched
	}

	posted, err := p.postPending(ctx, log, positions)
	if err != nil {
		return err
	}

	log.Info().
		Int("orders", len(orders)).
		Int("ingested", stats.ingested).
		Int("skipped", stats.skipped).
		Int("lots_created", stats.lotsCreated).
		Int("closes_matched", stats.closesMatched).
		Int("posted", posted).
		Dur("duration_ms", time.Since(start)).
		Msg("Poll cycle complete")
	return nil
}

type cycleStats struct {
	ingested      int
	skipped       int
	lotsCreated   int
	closesMatched int
}

// ingestOrders normalizes and applies all fetched orders in a single
// transaction so a crash cannot leave a fill without its lot or match
// rows.
func (p *Poller) ingestOrders(log zerolog.Logger, orders []ingest.Order) (cycleStats, error) {
	var stats cycleStats

	err := database.WithTransaction(p.db, func(tx *sql.Tx) error {
		fills := p.fills.WithTx(tx)
		matcher := p.matcher.WithRepository(p.lots.WithTx(tx))

		for _, order := range orders {
			fill, err := ingest.Normalize(order)
			if err != nil {
				stats.skipped++
				p.metrics.FillsSkipped.Inc()
				log.Warn().Err(err).Msg("Skipping malformed order")
				continue
			}

			if _, err := fills.Upsert(fill); err != nil {
				return fmt.Errorf("failed to upsert fill %s: %w", fill.FillID, err)
			}
			stats.ingested++
			p.metrics.FillsProcessed.Inc()

			if fill.FilledQty <= 0 {
				continue
			}

			switch {
			case fill.IsBuy() && !fill.IsClose():
				created, err := matcher.ProcessOpen(&fill)
				if err != nil {
					return fmt.Errorf("failed to open lot for %s: %w", fill.FillID, err)
				}
				if created {
					stats.lotsCreated++
					p.metrics.LotsCreated.Inc()
				}
			case fill.IsSell() || fill.IsClose():
				result, err := matcher.ProcessClose(&fill)
				if err != nil {
					return fmt.Errorf("failed to match close for %s: %w", fill.FillID, err)
				}
				if result != nil {
					stats.closesMatched++
					p.metrics.MatchesRecorded.Add(float64(result.LotsMatched))
				} else {
					p.metrics.UnmatchedCloses.Inc()
				}
			}
		}
		return nil
	})

	return stats, err
}

// postPending delivers a notification for every unposted fill, marking
// each one posted as soon as its send succeeds.
func (p *Poller) postPending(ctx context.Context, log zerolog.Logger, positions map[string]schwab.Position) (int, error) {
	fillIDs, err := p.postings.UnpostedFillIDs()
	if err != nil {
		return 0, &dbError{err: fmt.Errorf("failed to list unposted fills: %w", err)}
	}

	posted := 0
	for _, fillID := range fillIDs {
		fill, err := p.fills.GetByID(fillID)
		if err != nil {
			return posted, &dbError{err: fmt.Errorf("failed to load fill %s: %w", fillID, err)}
		}
		if fill == nil {
			log.Warn().Str("fill_id", fillID).Msg("Posting record without fill")
			continue
		}

		tradeCtx, err := p.buildTradeContext(*fill, positions)
		if err != nil {
			return posted, &dbError{err: err}
		}

		embed, content := discord.BuildTradeEmbed(*fill, tradeCtx, p.notifier.RoleID())

		var messageID string
		err = p.retryer.Do(ctx, "post_notification", func() error {
			var sendErr error
			messageID, sendErr = p.notifier.SendToAll(ctx, content, embed)
			return sendErr
		})
		if err != nil {
			p.metrics.PostFailures.Inc()
			return posted, fmt.Errorf("failed to post fill %s: %w", fillID, err)
		}

		if err := p.postings.MarkPosted(fillID, messageID); err != nil {
			return posted, &dbError{err: fmt.Errorf("failed to mark %s posted: %w", fillID, err)}
		}
		posted++
		p.metrics.Posted.Inc()
		log.Info().
			Str("fill_id", fillID).
			Str("symbol", fill.Symbol).
			Str("side", fill.Side).
			Msg("Posted trade notification")
	}
	return posted, nil
}

// buildTradeContext gathers the ledger numbers shown in the embed.
func (p *Poller) buildTradeContext(fill ledger.Fill, positions map[string]schwab.Position) (discord.TradeContext, error) {
	tradeCtx := discord.TradeContext{}

	if pos, ok := positions[fill.Underlying]; ok {
		tradeCtx.PositionLeft = int64(pos.Quantity())
	}

	totalSold, err := p.fills.TotalSold(fill.Symbol)
	if err != nil {
		return tradeCtx, fmt.Errorf("failed to total sales for %s: %w", fill.Symbol, err)
	}
	tradeCtx.TotalSold = totalSold

	if fill.IsSell() || fill.IsClose() {
		gain, err := p.lots.AvgGainForClose(fill.OrderID)
		if err != nil {
			return tradeCtx, fmt.Errorf("failed to read gain for order %d: %w", fill.OrderID, err)
		}
		tradeCtx.GainPct = gain

		entry, err := p.matcher.WeightedEntryPrice(fill.OrderID)
		if err != nil {
			return tradeCtx, fmt.Errorf("failed to read entry price for order %d: %w", fill.OrderID, err)
		}
		tradeCtx.EntryPrice = entry
	}

	return tradeCtx, nil
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
