package poller

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"

	"tradenotify/internal/clients/discord"
	"tradenotify/internal/clients/schwab"
	"tradenotify/internal/config"
	"tradenotify/internal/database"
	"tradenotify/internal/ingest"
	"tradenotify/internal/ledger"
	"tradenotify/internal/metrics"
	"tradenotify/internal/retry"
)

type fakeClient struct {
	orders    []ingest.Order
	positions map[string]schwab.Position
	ordersErr error
}

func (c *fakeClient) GetOrders(_ context.Context, _ time.Duration, _ string) ([]ingest.Order, error) {
	if c.ordersErr != nil {
		return nil, c.ordersErr
	}
	return c.orders, nil
}

func (c *fakeClient) GetOptionPositions(_ context.Context) (map[string]schwab.Position, error) {
	if c.positions == nil {
		return map[string]schwab.Position{}, nil
	}
	return c.positions, nil
}

type sentMessage struct {
	content string
	embed   discord.Embed
}

type fakeNotifier struct {
	sent    []sentMessage
	sendErr error
}

func (n *fakeNotifier) SendToAll(_ context.Context, content string, embed discord.Embed) (string, error) {
	if n.sendErr != nil {
		return "", n.sendErr
	}
	n.sent = append(n.sent, sentMessage{content: content, embed: embed})
	return "msg-1", nil
}

func (n *fakeNotifier) RoleID() string { return "role-9" }

func testConfig() *config.Config {
	return &config.Config{
		LookbackDays:         7,
		OrderStatus:          "FILLED",
		PollInterval:         5 * time.Second,
		MaxConsecutiveErrors: 10,
		CycleRetryBaseDelay:  5 * time.Second,
		CycleRetryMaxDelay:   300 * time.Second,
		DBRetryMaxDelay:      60 * time.Second,
		MatchOrdering:        config.OrderingFIFO,
		MatchScope:           config.ScopeUnderlying,
		MaxRetries:           0,
		RetryBaseDelay:       time.Millisecond,
	}
}

func setupPoller(t *testing.T, client OrdersClient, notifier Notifier) (*Poller, *sql.DB) {
	t.Helper()

	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, err)
	_, err = db.Exec(database.Schema())
	require.NoError(t, err)

	cfg := testConfig()
	log := zerolog.Nop()
	fills := ledger.NewFillRepository(db, log)
	lots := ledger.NewLotRepository(db, log)
	postings := ledger.NewPostingRepository(db, log)
	matcher := ledger.NewMatcher(lots, cfg.MatchOrdering, cfg.MatchScope, log)
	retryer := retry.New(retry.Config{MaxRetries: cfg.MaxRetries, BaseDelay: cfg.RetryBaseDelay}, log)

	p := New(cfg, db, fills, lots, postings, matcher, client, notifier, retryer, metrics.New(), log)
	return p, db
}

func int64Ptr(v int64) *int64 { return &v }

func buyOrder(orderID int64, qty, price float64) ingest.Order {
	return ingest.Order{
		OrderID:        int64Ptr(orderID),
		Quantity:       qty,
		FilledQuantity: qty,
		Price:          price,
		Status:         "FILLED",
		EnteredTime:    "2026-02-10T14:30:05+0000",
		OrderLegs: []ingest.OrderLeg{
			{
				Instruction: "BUY_TO_OPEN",
				Instrument: ingest.Instrument{
					Symbol:           "ORCL  260213C00149000",
					UnderlyingSymbol: "ORCL",
					Description:      "ORACLE CORP 02/13/2026 $149 Call",
					AssetType:        "OPTION",
				},
			},
		},
	}
}

func sellOrder(orderID int64, qty, price float64) ingest.Order {
	o := buyOrder(orderID, qty, price)
	o.OrderLegs[0].Instruction = "SELL_TO_CLOSE"
	return o
}

func TestRunCycleIngestsMatchesAndPosts(t *testing.T) {
	client := &fakeClient{orders: []ingest.Order{buyOrder(1, 2, 1.00)}}
	notifier := &fakeNotifier{}
	p, db := setupPoller(t, client, notifier)

	require.NoError(t, p.RunCycle(context.Background()))

	var fillCount, lotCount int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM fills").Scan(&fillCount))
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM cost_basis_lots").Scan(&lotCount))
	assert.Equal(t, 1, fillCount)
	assert.Equal(t, 1, lotCount)

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "<@&role-9>", notifier.sent[0].content)
	assert.Equal(t, "BUY TO OPEN: ORCL", notifier.sent[0].embed.Title)

	// Re-running the same cycle posts nothing new.
	require.NoError(t, p.RunCycle(context.Background()))
	assert.Len(t, notifier.sent, 1)

	var posted int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM posting_state WHERE posted = 1").Scan(&posted))
	assert.Equal(t, 1, posted)
}

func TestRunCycleClosePostsGain(t *testing.T) {
	client := &fakeClient{orders: []ingest.Order{buyOrder(1, 2, 1.00)}}
	notifier := &fakeNotifier{}
	p, db := setupPoller(t, client, notifier)

	require.NoError(t, p.RunCycle(context.Background()))

	client.orders = append(client.orders, sellOrder(2, 2, 3.00))
	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, notifier.sent, 2)
	closeEmbed := notifier.sent[1].embed
	assert.Equal(t, "SELL TO CLOSE: ORCL", closeEmbed.Title)

	var gainField string
	for _, f := range closeEmbed.Fields {
		if f.Name == "Gain" {
			gainField = f.Value
		}
	}
	assert.Equal(t, "+200.00%", gainField)

	var matchCount int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM lot_matches").Scan(&matchCount))
	assert.Equal(t, 1, matchCount)
}

func TestRunCycleSkipsMalformedOrders(t *testing.T) {
	bad := buyOrder(0, 1, 1.00)
	bad.OrderID = nil
	client := &fakeClient{orders: []ingest.Order{bad, buyOrder(1, 1, 1.00)}}
	notifier := &fakeNotifier{}
	p, db := setupPoller(t, client, notifier)

	require.NoError(t, p.RunCycle(context.Background()))

	var fillCount int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM fills").Scan(&fillCount))
	assert.Equal(t, 1, fillCount)
	assert.Len(t, notifier.sent, 1)
}

func TestRunCycleSendFailureLeavesFillUnposted(t *testing.T) {
	client := &fakeClient{orders: []ingest.Order{buyOrder(1, 1, 1.00)}}
	notifier := &fakeNotifier{sendErr: retry.Fatal(errors.New("webhook gone"))}
	p, db := setupPoller(t, client, notifier)

	err := p.RunCycle(context.Background())
	require.Error(t, err)

	// The fill is ingested but stays unposted for the next cycle.
	var unposted int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM posting_state WHERE posted = 0").Scan(&unposted))
	assert.Equal(t, 1, unposted)

	// Once the webhook recovers, the fill posts exactly once.
	notifier.sendErr = nil
	require.NoError(t, p.RunCycle(context.Background()))
	assert.Len(t, notifier.sent, 1)
}

func TestRunCycleFetchFailurePropagates(t *testing.T) {
	client := &fakeClient{ordersErr: errors.New("api down")}
	p, _ := setupPoller(t, client, &fakeNotifier{})

	err := p.RunCycle(context.Background())
	require.Error(t, err)

	var dbErr *dbError
	assert.False(t, errors.As(err, &dbErr))
}

func TestCycleBackoffCaps(t *testing.T) {
	p, _ := setupPoller(t, &fakeClient{}, &fakeNotifier{})

	upstream := errors.New("api down")
	assert.Equal(t, 5*time.Second, p.cycleBackoff(1, upstream))
	assert.Equal(t, 10*time.Second, p.cycleBackoff(2, upstream))
	assert.Equal(t, 300*time.Second, p.cycleBackoff(8, upstream))

	stale := &dbError{err: errors.New("locked")}
	assert.Equal(t, 5*time.Second, p.cycleBackoff(1, stale))
	assert.Equal(t, 60*time.Second, p.cycleBackoff(5, stale))
}

func TestPositionContextInEmbed(t *testing.T) {
	client := &fakeClient{
		orders: []ingest.Order{buyOrder(1, 2, 1.00)},
		positions: map[string]schwab.Position{
			"ORCL": {LongQuantity: 2, Instrument: schwab.PositionInstrument{AssetType: "OPTION", UnderlyingSymbol: "ORCL"}},
		},
	}
	notifier := &fakeNotifier{}
	p, _ := setupPoller(t, client, notifier)

	require.NoError(t, p.RunCycle(context.Background()))

	require.Len(t, notifier.sent, 1)
	var owned string
	for _, f := range notifier.sent[0].embed.Fields {
		if f.Name == "Owned" {
			owned = f.Value
		}
	}
	assert.Equal(t, "2", owned)
}
