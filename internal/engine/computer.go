package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/quantfolio/quantfolio/internal/domain"
)

// Computer orchestrates snapshot computation: it walks the date axis,
// invoking the rate resolver, the market data resolver and the active
// performance strategy to produce per-instrument position metrics and the
// daily historical series.
type Computer struct {
	source            domain.ActivitySource
	marketData        domain.MarketDataResolver
	rates             domain.RateResolver
	baseCurrency      string
	lookupConcurrency int
	dailyWindowDays   int
	log               zerolog.Logger
}

// NewComputer creates a snapshot computer.
func NewComputer(
	source domain.ActivitySource,
	marketData domain.MarketDataResolver,
	rates domain.RateResolver,
	baseCurrency string,
	lookupConcurrency int,
	log zerolog.Logger,
) *Computer {
	if lookupConcurrency < 1 {
		lookupConcurrency = 1
	}
	return &Computer{
		source:            source,
		marketData:        marketData,
		rates:             rates,
		baseCurrency:      baseCurrency,
		lookupConcurrency: lookupConcurrency,
		dailyWindowDays:   DefaultDailyWindowDays,
		log:               log.With().Str("component", "snapshot_computer").Logger(),
	}
}

// ComputeParams identifies one snapshot computation.
type ComputeParams struct {
	UserID  string
	Filters domain.Filters
	Mode    Mode
	// AsOf is the evaluation instant; zero means now. Injectable so that
	// identical inputs with a frozen AsOf produce bit-identical results.
	AsOf time.Time
}

// dateKey is the map key for per-date lookup caches.
type dateKey struct {
	id   string // symbol or currency
	date time.Time
}

// lookupTable collects the fanned-out price and rate lookups. All results
// are gathered before the sequential rollup starts.
type lookupTable struct {
	mu     sync.Mutex
	prices map[dateKey]decimal.Decimal
	rates  map[dateKey]decimal.Decimal
}

// Compute produces a portfolio snapshot as of the evaluation instant.
// Instrument-level data gaps never abort the computation: they degrade the
// affected instrument to best-effort values and surface in Errors. Only
// structural problems (malformed activities) are fatal.
func (c *Computer) Compute(ctx context.Context, p ComputeParams) (*PortfolioSnapshot, error) {
	strategy, err := StrategyFor(p.Mode)
	if err != nil {
		return nil, err
	}

	asOf := p.AsOf
	if asOf.IsZero() {
		asOf = time.Now()
	}
	asOf = dayOf(asOf)

	activities, err := c.source.Activities(ctx, p.UserID, p.Filters)
	if err != nil {
		return nil, err
	}
	balances, err := c.source.AccountBalances(ctx, p.UserID, p.Filters)
	if err != nil {
		return nil, err
	}
	activities = clipActivities(activities, asOf)
	balances = clipBalances(balances, asOf)

	build, err := BuildTransactionPoints(activities)
	if err != nil {
		return nil, err
	}

	snapshot := &PortfolioSnapshot{
		Positions:         []TimelinePosition{},
		HistoricalData:    []HistoricalDataItem{},
		TransactionPoints: build.Points,
		InvestmentItems:   []InvestmentItem{},
		Errors:            []domain.ComputationError{},
		ComputedAt:        asOf,
	}
	if len(build.Points) == 0 && len(balances) == 0 {
		return snapshot, nil
	}

	start := asOf
	if len(build.Points) > 0 {
		start = build.Points[0].Date
	}
	if len(balances) > 0 && balances[0].Date.Before(start) {
		start = dayOf(balances[0].Date)
	}

	axis := ChartDates(start, asOf, c.dailyWindowDays)

	table, errs, err := c.prefetch(ctx, build, balances, axis, asOf, strategy.NeedsSubPeriodValuations())
	if err != nil {
		return nil, err
	}

	flows := buildFlows(build, table, strategy.NeedsSubPeriodValuations(), c.baseCurrency)

	snapshot.InvestmentItems = buildInvestmentItems(build.Points, flows)
	snapshot.HistoricalData = c.rollup(build, balances, flows, table, axis, p.Mode, start)
	c.finalPositions(snapshot, build, flows, table, strategy, start, asOf)

	snapshot.Errors = errs
	snapshot.HasErrors = len(errs) > 0
	sort.Slice(snapshot.Errors, func(i, j int) bool {
		if snapshot.Errors[i].Symbol != snapshot.Errors[j].Symbol {
			return snapshot.Errors[i].Symbol < snapshot.Errors[j].Symbol
		}
		return snapshot.Errors[i].Date.Before(snapshot.Errors[j].Date)
	})

	return snapshot, nil
}

func clipActivities(in []domain.Activity, asOf time.Time) []domain.Activity {
	out := in[:0:0]
	for _, a := range in {
		if !dayOf(a.Date).After(asOf) {
			out = append(out, a)
		}
	}
	return out
}

func clipBalances(in []domain.AccountBalance, asOf time.Time) []domain.AccountBalance {
	out := in[:0:0]
	for _, b := range in {
		if !dayOf(b.Date).After(asOf) {
			out = append(out, b)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out
}

// prefetch issues all price and rate lookups the rollup will need.
// Lookups for different instruments and dates are independent and run
// concurrently, bounded by the configured lookup concurrency; the rollup
// itself stays strictly sequential over the date axis. A context expiring
// mid-fan-out is a failure of the whole computation, not a data gap.
func (c *Computer) prefetch(
	ctx context.Context,
	build *BuildResult,
	balances []domain.AccountBalance,
	axis []time.Time,
	asOf time.Time,
	subPeriods bool,
) (*lookupTable, []domain.ComputationError, error) {
	table := &lookupTable{
		prices: make(map[dateKey]decimal.Decimal),
		rates:  make(map[dateKey]decimal.Decimal),
	}

	type priceReq struct {
		instrument domain.Instrument
		date       time.Time
	}
	priceSet := make(map[dateKey]priceReq)
	rateSet := make(map[dateKey]string)

	wantRate := func(currency string, date time.Time) {
		if currency == "" || currency == c.baseCurrency {
			return
		}
		rateSet[dateKey{currency, date}] = currency
	}
	wantPrice := func(inst domain.Instrument, date time.Time) {
		priceSet[dateKey{inst.Symbol, date}] = priceReq{inst, date}
		wantRate(inst.Currency, date)
	}

	// Currencies that appear outside instrument states: cash totals and
	// account balances need conversion on every chart date.
	extraCurrencies := make(map[string]struct{})
	for _, ct := range build.FinalCash {
		extraCurrencies[ct.Currency] = struct{}{}
	}
	for _, b := range balances {
		extraCurrencies[b.Currency] = struct{}{}
	}

	// Axis dates: prices for instruments active at each date, rates for all
	// involved currencies. The monotonic two-pointer scan mirrors the one in
	// the rollup.
	pi := -1
	for _, d := range axis {
		for pi+1 < len(build.Points) && !build.Points[pi+1].Date.After(d) {
			pi++
		}
		if pi >= 0 {
			for _, st := range build.Points[pi].Instruments {
				wantPrice(st.Instrument, d)
			}
		}
		for cur := range extraCurrencies {
			wantRate(cur, d)
		}
	}

	// Transaction point dates: rates are always needed to convert flows at
	// their own dates; prices only when the strategy chains sub-periods.
	prev := map[string]domain.Instrument{}
	for _, pt := range build.Points {
		seen := map[string]domain.Instrument{}
		for _, st := range pt.Instruments {
			seen[st.Instrument.Symbol] = st.Instrument
			wantRate(st.Instrument.Currency, pt.Date)
			if subPeriods {
				wantPrice(st.Instrument, pt.Date)
			}
		}
		// An instrument that vanished from the active list was closed at
		// this point; its closing flow still needs this date's lookups.
		for sym, inst := range prev {
			if _, ok := seen[sym]; !ok {
				wantRate(inst.Currency, pt.Date)
				if subPeriods {
					wantPrice(inst, pt.Date)
				}
				seen[sym] = inst
			}
		}
		prev = seen
	}

	// Final valuation date for all instruments ever held, closed ones
	// included (their rate is still needed for realized figures).
	for _, st := range build.FinalStates {
		wantRate(st.Instrument.Currency, asOf)
		if !st.Quantity.IsZero() {
			wantPrice(st.Instrument, asOf)
		}
	}

	var (
		wg       sync.WaitGroup
		sem      = make(chan struct{}, c.lookupConcurrency)
		errMu    sync.Mutex
		errSeen  = make(map[string]struct{})
		gathered []domain.ComputationError
	)

	record := func(e domain.ComputationError) {
		errMu.Lock()
		defer errMu.Unlock()
		key := string(e.Kind) + "|" + e.Symbol + "|" + e.Currency
		if _, ok := errSeen[key]; ok {
			return
		}
		errSeen[key] = struct{}{}
		gathered = append(gathered, e)
	}

	for key, req := range priceSet {
		wg.Add(1)
		sem <- struct{}{}
		go func(key dateKey, req priceReq) {
			defer wg.Done()
			defer func() { <-sem }()
			price, err := c.marketData.Price(ctx, req.instrument, req.date)
			if err != nil {
				if !errors.Is(err, domain.ErrPriceNotFound) {
					c.log.Warn().Err(err).Str("symbol", req.instrument.Symbol).Time("date", req.date).Msg("Market data lookup failed")
				}
				record(domain.ComputationError{
					Kind:   domain.MissingMarketData,
					Symbol: req.instrument.Symbol,
					Date:   req.date,
				})
				return
			}
			table.mu.Lock()
			table.prices[key] = price
			table.mu.Unlock()
		}(key, req)
	}

	for key, currency := range rateSet {
		wg.Add(1)
		sem <- struct{}{}
		go func(key dateKey, currency string) {
			defer wg.Done()
			defer func() { <-sem }()
			rate, err := c.rates.Rate(ctx, currency, c.baseCurrency, key.date)
			if err != nil {
				if !errors.Is(err, domain.ErrRateNotFound) {
					c.log.Warn().Err(err).Str("currency", currency).Time("date", key.date).Msg("Exchange rate lookup failed")
				}
				record(domain.ComputationError{
					Kind:     domain.MissingExchangeRate,
					Symbol:   currency,
					Currency: currency,
					Date:     key.date,
				})
				return
			}
			table.mu.Lock()
			table.rates[key] = rate
			table.mu.Unlock()
		}(key, currency)
	}

	wg.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	return table, gathered, nil
}

// price returns the cached price for a symbol and date, or zero when the
// lookup failed (the gap was already recorded as a computation error).
func (t *lookupTable) price(symbol string, date time.Time) decimal.Decimal {
	return t.prices[dateKey{symbol, date}]
}

// rate returns the cached rate into the base currency. Identity for the
// base currency itself; a missing rate degrades to zero contribution.
func (t *lookupTable) rate(currency, base string, date time.Time) decimal.Decimal {
	if currency == base || currency == "" {
		return decimal.NewFromInt(1)
	}
	return t.rates[dateKey{currency, date}]
}

// instrumentFlows is the per-instrument cash flow series plus derived
// acquisition figures.
type instrumentFlows struct {
	flows      []Flow
	frozenRate decimal.Decimal // weighted-average acquisition rate
}

// buildFlows derives per-instrument investment change series from the
// transaction points, converting each change at its own date's rate. For
// sub-period strategies it also attaches pre- and post-flow valuations.
func buildFlows(build *BuildResult, table *lookupTable, subPeriods bool, base string) map[string]*instrumentFlows {
	out := make(map[string]*instrumentFlows)

	prevInvestment := map[string]decimal.Decimal{}
	prevQuantity := map[string]decimal.Decimal{}
	cumNative := map[string]decimal.Decimal{}
	cumBase := map[string]decimal.Decimal{}
	buyNative := map[string]decimal.Decimal{}
	buyBase := map[string]decimal.Decimal{}

	for _, pt := range build.Points {
		// Union of instruments present at this point and those that just
		// closed out: a close-out is a flow down to zero.
		involved := map[string]InstrumentState{}
		for _, st := range pt.Instruments {
			involved[st.Instrument.Symbol] = st
		}
		for sym := range prevInvestment {
			if _, ok := involved[sym]; !ok {
				involved[sym] = InstrumentState{
					Instrument: instrumentFor(build, sym),
					Quantity:   decimal.Zero,
					Investment: decimal.Zero,
				}
			}
		}

		for sym, st := range involved {
			deltaNative := st.Investment.Sub(prevInvestment[sym])
			qtyBefore := prevQuantity[sym]
			if deltaNative.IsZero() && st.Quantity.Equal(qtyBefore) {
				continue
			}

			rate := table.rate(st.Instrument.Currency, base, pt.Date)
			deltaBase := deltaNative.Mul(rate)

			cumNative[sym] = cumNative[sym].Add(deltaNative)
			cumBase[sym] = cumBase[sym].Add(deltaBase)
			if deltaNative.IsPositive() {
				buyNative[sym] = buyNative[sym].Add(deltaNative)
				buyBase[sym] = buyBase[sym].Add(deltaBase)
			}

			f := Flow{
				Date:                  pt.Date,
				DeltaNative:           deltaNative,
				DeltaBase:             deltaBase,
				InvestmentNativeAfter: st.Investment,
				InvestmentBaseAfter:   cumBase[sym],
				RateAtDate:            rate,
			}
			if subPeriods {
				price := table.price(sym, pt.Date)
				f.ValueNativeBefore = qtyBefore.Mul(price)
				f.ValueNativeAfter = st.Quantity.Mul(price)
			}

			inf := out[sym]
			if inf == nil {
				inf = &instrumentFlows{}
				out[sym] = inf
			}
			inf.flows = append(inf.flows, f)

			prevInvestment[sym] = st.Investment
			prevQuantity[sym] = st.Quantity
		}
	}

	for sym, inf := range out {
		inf.frozenRate = safeDiv(buyBase[sym], buyNative[sym])
		if inf.frozenRate.IsZero() && len(inf.flows) > 0 {
			inf.frozenRate = inf.flows[0].RateAtDate
		}
	}
	return out
}

func instrumentFor(build *BuildResult, symbol string) domain.Instrument {
	for _, st := range build.FinalStates {
		if st.Instrument.Symbol == symbol {
			return st.Instrument
		}
	}
	return domain.Instrument{Symbol: symbol}
}

// twiTracker incrementally maintains the duration-weighted average of an
// investment level, so the per-date rollup stays O(points + axis dates).
type twiTracker struct {
	start     time.Time
	lastDate  time.Time
	lastLevel decimal.Decimal
	weighted  decimal.Decimal
}

func newTwiTracker(start time.Time) *twiTracker {
	return &twiTracker{start: start, lastDate: start}
}

func (t *twiTracker) setLevel(date time.Time, level decimal.Decimal) {
	days := decimal.NewFromInt(int64(daysBetween(t.lastDate, date)))
	t.weighted = t.weighted.Add(t.lastLevel.Mul(days))
	t.lastDate = date
	t.lastLevel = level
}

func (t *twiTracker) averageAt(date time.Time) decimal.Decimal {
	total := decimal.NewFromInt(int64(daysBetween(t.start, date)))
	if total.IsZero() {
		return t.lastLevel
	}
	partial := t.lastLevel.Mul(decimal.NewFromInt(int64(daysBetween(t.lastDate, date))))
	return t.weighted.Add(partial).Div(total)
}

// twrTracker incrementally chains sub-period growth factors over the axis
// walk, mirroring the position-level geometric chaining. product holds the
// chained growth through the post-flow valuation of the last boundary.
type twrTracker struct {
	product  decimal.Decimal
	base     decimal.Decimal // post-flow portfolio valuation at the last boundary
	invested bool
}

func newTwrTracker() *twrTracker {
	return &twrTracker{product: decimal.NewFromInt(1)}
}

// boundary closes the running sub-period at a transaction point: the period
// ends at the pre-flow valuation and the next one starts at the post-flow
// valuation, so external flows never contaminate a sub-period's return.
func (t *twrTracker) boundary(pre, post decimal.Decimal) {
	if !t.base.IsZero() {
		t.product = t.product.Mul(pre.Div(t.base))
	}
	t.base = post
	if !post.IsZero() {
		t.invested = true
	}
}

// returnAt chains the open sub-period up to the given portfolio valuation.
// After a full close-out the base is zero and the realized chained return
// carries forward unchanged.
func (t *twrTracker) returnAt(value decimal.Decimal) decimal.Decimal {
	one := decimal.NewFromInt(1)
	if !t.invested {
		return decimal.Zero
	}
	if t.base.IsZero() {
		return t.product.Sub(one)
	}
	return t.product.Mul(value.Div(t.base)).Sub(one)
}

// frozenFor returns the instrument's weighted-average acquisition rate, or
// the identity rate when it never had a flow.
func frozenFor(flows map[string]*instrumentFlows, symbol string) decimal.Decimal {
	if inf := flows[symbol]; inf != nil {
		return inf.frozenRate
	}
	return decimal.NewFromInt(1)
}

// rollup walks the date axis sequentially and accumulates one
// HistoricalDataItem per chart date. Each date's figures may depend on the
// prior running state (time-weighted averages), so this loop is never
// parallelized.
func (c *Computer) rollup(
	build *BuildResult,
	balances []domain.AccountBalance,
	flows map[string]*instrumentFlows,
	table *lookupTable,
	axis []time.Time,
	mode Mode,
	start time.Time,
) []HistoricalDataItem {
	items := make([]HistoricalDataItem, 0, len(axis))

	twiPlain := newTwiTracker(start)
	twiWithCE := newTwiTracker(start)
	twrPlain := newTwrTracker()
	twrWithCE := newTwrTracker()

	pi := -1
	bi := 0
	latestBalance := map[string]domain.AccountBalance{}

	one := decimal.NewFromInt(1)

	for _, d := range axis {
		for pi+1 < len(build.Points) && !build.Points[pi+1].Date.After(d) {
			pt := build.Points[pi+1]
			// Advance the portfolio-level investment trackers at each
			// passed transaction point.
			var levelPlain, levelWithCE decimal.Decimal
			for _, st := range pt.Instruments {
				inf := flows[st.Instrument.Symbol]
				if inf == nil {
					continue
				}
				levelPlain = levelPlain.Add(st.Investment.Mul(inf.frozenRate))
				levelWithCE = levelWithCE.Add(investmentBaseAt(inf, pt.Date))
			}
			twiPlain.setLevel(pt.Date, levelPlain)
			twiWithCE.setLevel(pt.Date, levelWithCE)

			if mode == ModeTWR {
				// Close the running sub-period at this boundary: the
				// previous point's holdings valued at today's prices are the
				// pre-flow valuation, this point's are the post-flow one.
				// Point-date prices are prefetched for this mode.
				var prePlain, preWithCE, postPlain, postWithCE decimal.Decimal
				if pi >= 0 {
					for _, st := range build.Points[pi].Instruments {
						price := table.price(st.Instrument.Symbol, pt.Date)
						rate := table.rate(st.Instrument.Currency, c.baseCurrency, pt.Date)
						v := st.Quantity.Mul(price)
						prePlain = prePlain.Add(v.Mul(frozenFor(flows, st.Instrument.Symbol)))
						preWithCE = preWithCE.Add(v.Mul(rate))
					}
				}
				for _, st := range pt.Instruments {
					price := table.price(st.Instrument.Symbol, pt.Date)
					rate := table.rate(st.Instrument.Currency, c.baseCurrency, pt.Date)
					v := st.Quantity.Mul(price)
					postPlain = postPlain.Add(v.Mul(frozenFor(flows, st.Instrument.Symbol)))
					postWithCE = postWithCE.Add(v.Mul(rate))
				}
				twrPlain.boundary(prePlain, postPlain)
				twrWithCE.boundary(preWithCE, postWithCE)
			}
			pi++
		}
		for bi < len(balances) && !dayOf(balances[bi].Date).After(d) {
			latestBalance[balances[bi].AccountID] = balances[bi]
			bi++
		}

		item := HistoricalDataItem{Date: d}

		var investmentPlain, investmentWithCE decimal.Decimal
		var realizedPlain, realizedWithCE decimal.Decimal
		var feesPlain, feesWithCE decimal.Decimal
		var valuables, liabilities, cashAdjust decimal.Decimal

		if pi >= 0 {
			pt := build.Points[pi]
			for _, st := range pt.Instruments {
				inf := flows[st.Instrument.Symbol]
				frozen := one
				if inf != nil {
					frozen = inf.frozenRate
				}
				rate := table.rate(st.Instrument.Currency, c.baseCurrency, d)
				price := table.price(st.Instrument.Symbol, d)
				valueNative := st.Quantity.Mul(price)

				item.Value = item.Value.Add(valueNative.Mul(frozen))
				item.ValueWithCurrencyEffect = item.ValueWithCurrencyEffect.Add(valueNative.Mul(rate))
				investmentPlain = investmentPlain.Add(st.Investment.Mul(frozen))
				if inf != nil {
					investmentWithCE = investmentWithCE.Add(investmentBaseAt(inf, d))
				}
				realizedPlain = realizedPlain.Add(st.RealizedGross.Mul(frozen))
				realizedWithCE = realizedWithCE.Add(st.RealizedGross.Mul(rate))
				feesPlain = feesPlain.Add(st.Fee.Mul(frozen))
				feesWithCE = feesWithCE.Add(st.Fee.Mul(rate))
			}
			// Closed instruments are absent from the active list but their
			// realized performance and fees stay part of the series.
			active := map[string]struct{}{}
			for _, st := range pt.Instruments {
				active[st.Instrument.Symbol] = struct{}{}
			}
			for _, st := range build.FinalStates {
				if _, ok := active[st.Instrument.Symbol]; ok {
					continue
				}
				inf := flows[st.Instrument.Symbol]
				if inf == nil || len(inf.flows) == 0 || inf.flows[0].Date.After(d) {
					continue
				}
				closed := stateAsOf(build, st.Instrument.Symbol, pi)
				rate := table.rate(st.Instrument.Currency, c.baseCurrency, d)
				realizedPlain = realizedPlain.Add(closed.RealizedGross.Mul(inf.frozenRate))
				realizedWithCE = realizedWithCE.Add(closed.RealizedGross.Mul(rate))
				feesPlain = feesPlain.Add(closed.Fee.Mul(inf.frozenRate))
				feesWithCE = feesWithCE.Add(closed.Fee.Mul(rate))
			}
			for _, ct := range pt.Cash {
				// Account-level fees have no acquisition rate to freeze;
				// both variants convert at the date's rate.
				rate := table.rate(ct.Currency, c.baseCurrency, d)
				feesPlain = feesPlain.Add(ct.Fees.Mul(rate))
				feesWithCE = feesWithCE.Add(ct.Fees.Mul(rate))
				valuables = valuables.Add(ct.Valuables.Mul(rate))
				liabilities = liabilities.Add(ct.Liabilities.Mul(rate))
				cashAdjust = cashAdjust.Add(ct.CashAdjustments.Mul(rate))
			}
		}

		for _, b := range latestBalance {
			rate := table.rate(b.Currency, c.baseCurrency, d)
			item.TotalAccountBalance = item.TotalAccountBalance.Add(b.Amount.Mul(rate))
		}
		item.TotalAccountBalance = item.TotalAccountBalance.Add(cashAdjust)

		item.TotalInvestment = investmentWithCE
		item.NetWorth = item.ValueWithCurrencyEffect.
			Add(item.TotalAccountBalance).
			Add(valuables).
			Sub(liabilities)

		grossPlain := item.Value.Sub(investmentPlain).Add(realizedPlain)
		grossWithCE := item.ValueWithCurrencyEffect.Sub(investmentWithCE).Add(realizedWithCE)
		item.NetPerformance = grossPlain.Sub(feesPlain)
		item.NetPerformanceWithCurrencyEffect = grossWithCE.Sub(feesWithCE)

		switch mode {
		case ModeROI:
			item.NetPerformancePercentage = safeDiv(item.NetPerformance, investmentPlain)
			item.NetPerformancePercentageWithCurrencyEffect = safeDiv(item.NetPerformanceWithCurrencyEffect, investmentWithCE)
		case ModeTWR:
			// Chain the open sub-period up to this date's valuation, the
			// same geometry the position-level strategy applies; fee drag is
			// expressed against the duration-weighted investment base.
			grossPct := twrPlain.returnAt(item.Value)
			grossPctWithCE := twrWithCE.returnAt(item.ValueWithCurrencyEffect)
			item.NetPerformancePercentage = grossPct.Sub(safeDiv(feesPlain, twiPlain.averageAt(d)))
			item.NetPerformancePercentageWithCurrencyEffect = grossPctWithCE.Sub(safeDiv(feesWithCE, twiWithCE.averageAt(d)))
		default:
			item.NetPerformancePercentage = safeDiv(item.NetPerformance, twiPlain.averageAt(d))
			item.NetPerformancePercentageWithCurrencyEffect = safeDiv(item.NetPerformanceWithCurrencyEffect, twiWithCE.averageAt(d))
		}

		items = append(items, item)
	}

	return items
}

// buildInvestmentItems projects the transaction points onto the cumulative
// invested capital in base currency. A full sell-out brings the level back
// down; the series is not monotonic.
func buildInvestmentItems(points []TransactionPoint, flows map[string]*instrumentFlows) []InvestmentItem {
	deltaByDate := make(map[time.Time]decimal.Decimal)
	for _, inf := range flows {
		for _, f := range inf.flows {
			deltaByDate[f.Date] = deltaByDate[f.Date].Add(f.DeltaBase)
		}
	}

	items := make([]InvestmentItem, 0, len(points))
	var total decimal.Decimal
	for _, pt := range points {
		total = total.Add(deltaByDate[pt.Date])
		items = append(items, InvestmentItem{Date: pt.Date, Investment: total})
	}
	return items
}

// investmentBaseAt returns the cumulative base-currency investment of one
// instrument considering all flows at or before the date.
func investmentBaseAt(inf *instrumentFlows, d time.Time) decimal.Decimal {
	var last decimal.Decimal
	for _, f := range inf.flows {
		if f.Date.After(d) {
			break
		}
		last = f.InvestmentBaseAfter
	}
	return last
}

// stateAsOf returns the latest known accumulated state of an instrument at
// or before transaction point index pi, falling back to the final state.
// Used for closed positions, which no longer appear in active lists.
func stateAsOf(build *BuildResult, symbol string, pi int) InstrumentState {
	for i := pi; i >= 0; i-- {
		for _, st := range build.Points[i].Instruments {
			if st.Instrument.Symbol == symbol {
				return st
			}
		}
	}
	for _, st := range build.FinalStates {
		if st.Instrument.Symbol == symbol {
			return st
		}
	}
	return InstrumentState{}
}

// finalPositions computes the TimelinePosition list as of the evaluation
// instant with the same per-instrument machinery, then rolls up the
// portfolio-level totals.
func (c *Computer) finalPositions(
	snapshot *PortfolioSnapshot,
	build *BuildResult,
	flows map[string]*instrumentFlows,
	table *lookupTable,
	strategy Strategy,
	start, asOf time.Time,
) {
	one := decimal.NewFromInt(1)

	for _, st := range build.FinalStates {
		inf := flows[st.Instrument.Symbol]
		frozen := one
		var instFlows []Flow
		if inf != nil {
			frozen = inf.frozenRate
			instFlows = inf.flows
		}

		rate := table.rate(st.Instrument.Currency, c.baseCurrency, asOf)
		var price decimal.Decimal
		if !st.Quantity.IsZero() {
			price = table.price(st.Instrument.Symbol, asOf)
		}
		valueNative := st.Quantity.Mul(price)

		var investmentBase decimal.Decimal
		if inf != nil {
			investmentBase = investmentBaseAt(inf, asOf)
		}
		investmentPlain := st.Investment.Mul(frozen)

		grossPlain := valueNative.Mul(frozen).Sub(investmentPlain).Add(st.RealizedGross.Mul(frozen))
		grossWithCE := valueNative.Mul(rate).Sub(investmentBase).Add(st.RealizedGross.Mul(rate))
		feesPlain := st.Fee.Mul(frozen)
		feesWithCE := st.Fee.Mul(rate)

		in := StrategyInput{
			Start:                              start,
			End:                                asOf,
			Flows:                              instFlows,
			EndValueNative:                     valueNative,
			EndRate:                            rate,
			FrozenRate:                         frozen,
			GrossPerformance:                   grossPlain,
			GrossPerformanceWithCurrencyEffect: grossWithCE,
			Fees:                               feesPlain,
			FeesWithCurrencyEffect:             feesWithCE,
		}
		res := strategy.Compute(in)

		pos := TimelinePosition{
			Symbol:     st.Instrument.Symbol,
			DataSource: st.Instrument.DataSource,
			Currency:   st.Instrument.Currency,

			Quantity:     st.Quantity,
			AveragePrice: st.AveragePrice(),

			Investment:                   investmentPlain,
			InvestmentWithCurrencyEffect: investmentBase,

			MarketPrice:               price,
			MarketPriceInBaseCurrency: price.Mul(rate),
			ValueInBaseCurrency:       valueNative.Mul(rate),

			GrossPerformance:                   grossPlain,
			GrossPerformanceWithCurrencyEffect: grossWithCE,
			GrossPerformancePercentage:         res.GrossPerformancePercentage,
			GrossPerformancePercentageWithCurrencyEffect: res.GrossPerformancePercentageWithCurrencyEffect,

			NetPerformance:                   grossPlain.Sub(feesPlain),
			NetPerformanceWithCurrencyEffect: grossWithCE.Sub(feesWithCE),
			NetPerformancePercentage:         res.NetPerformancePercentage,
			NetPerformancePercentageWithCurrencyEffect: res.NetPerformancePercentageWithCurrencyEffect,

			TimeWeightedInvestment:                   res.TimeWeightedInvestment,
			TimeWeightedInvestmentWithCurrencyEffect: res.TimeWeightedInvestmentWithCurrencyEffect,

			Fee:      feesWithCE,
			Dividend: st.Dividend.Mul(rate),
			Interest: st.Interest.Mul(rate),

			TransactionCount:    st.ActivityCount,
			DateOfFirstActivity: st.FirstActivityDate,
		}

		snapshot.Positions = append(snapshot.Positions, pos)

		snapshot.TotalInvestment = snapshot.TotalInvestment.Add(investmentBase)
		snapshot.CurrentValueInBaseCurrency = snapshot.CurrentValueInBaseCurrency.Add(pos.ValueInBaseCurrency)
		snapshot.TotalFeesWithCurrencyEffect = snapshot.TotalFeesWithCurrencyEffect.Add(feesWithCE)
		snapshot.TotalInterestWithCurrencyEffect = snapshot.TotalInterestWithCurrencyEffect.Add(pos.Interest)
	}

	for _, ct := range build.FinalCash {
		rate := table.rate(ct.Currency, c.baseCurrency, asOf)
		snapshot.TotalFeesWithCurrencyEffect = snapshot.TotalFeesWithCurrencyEffect.Add(ct.Fees.Mul(rate))
		snapshot.TotalInterestWithCurrencyEffect = snapshot.TotalInterestWithCurrencyEffect.Add(ct.Interest.Mul(rate))
		snapshot.TotalLiabilitiesWithCurrencyEffect = snapshot.TotalLiabilitiesWithCurrencyEffect.Add(ct.Liabilities.Mul(rate))
		snapshot.TotalValuablesWithCurrencyEffect = snapshot.TotalValuablesWithCurrencyEffect.Add(ct.Valuables.Mul(rate))
	}
}
