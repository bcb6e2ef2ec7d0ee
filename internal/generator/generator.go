// Package generator synthesizes transaction records for the automated feed.
package generator

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/opensource-finance/finsentinel/internal/domain"
)

// Descriptions is the catalog synthetic transaction texts are drawn from.
var Descriptions = []string{
	"Purchase at online retailer",
	"Subscription payment",
	"Wire transfer to business account",
	"International payment",
	"ATM withdrawal",
	"Mobile payment to peer",
	"Bill payment",
	"Recurring payment to service provider",
	"International wire transfer",
	"Large purchase at electronics store",
}

// Value ranges. Amounts are in cents.
const (
	minAmountCents = 1000
	maxAmountCents = 1000000 // exclusive
	minAvgCents    = 5000
	maxAvgCents    = 200000
	sequenceLength = 5
)

// Generator draws TransactionRecords. It is safe for concurrent use.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// Option configures a Generator.
type Option func(*Generator)

// WithSeed makes generation reproducible.
func WithSeed(seed uint64) Option {
	return func(g *Generator) {
		g.rng = rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		g.now = now
	}
}

// New creates a generator seeded from the runtime source unless WithSeed is given.
func New(opts ...Option) *Generator {
	g := &Generator{
		rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate draws one record. Every field is drawn independently.
func (g *Generator) Generate() *domain.TransactionRecord {
	g.mu.Lock()
	defer g.mu.Unlock()

	amount := decimal.New(int64(g.between(minAmountCents, maxAmountCents-1)), -2)
	avg := decimal.New(int64(g.between(minAvgCents, maxAvgCents)), -2)
	last1h := g.rng.IntN(10)
	distance := g.hundredths(0, 5000)
	ts := g.now().UTC()

	rec := &domain.TransactionRecord{
		TransactionAmount:      amount.InexactFloat64(),
		Currency:               g.pick(domain.Currencies),
		AvgTransactionAmount:   avg.InexactFloat64(),
		AmountDeviationFromAvg: amount.Sub(avg).InexactFloat64(),

		TransactionsLast1Hr:      last1h,
		TransactionsLast24Hr:     last1h + g.rng.IntN(31),
		TimeSinceLastTransaction: g.hundredths(0, 72),
		DistanceFromHome:         distance,
		UserAccountAgeDays:       g.between(1, 1000),

		PaymentMethod:  g.pick(domain.PaymentMethods),
		CardType:       g.pick(domain.CardTypes),
		CardIssuer:     g.pick(domain.CardIssuers),
		CardCountry:    g.pick(domain.Countries),
		CardID:         g.between(1000, 9999),
		BillingAddress: g.between(100, 999),
		BillingCountry: g.pick(domain.Countries),

		MerchantID:       fmt.Sprintf("merchant_%d", g.rng.IntN(10000)),
		MerchantCategory: g.pick(domain.MerchantCategories),
		MerchantCountry:  g.pick(domain.Countries),
		ProductCode:      g.pick(domain.ProductCodes),

		UserID:            fmt.Sprintf("user_%d", g.rng.IntN(1000)),
		DeviceType:        g.pick(domain.DeviceTypes),
		DeviceOS:          g.pick(domain.DeviceOSes),
		Browser:           g.pick(domain.Browsers),
		DeviceFingerprint: fmt.Sprintf("device_%d", g.rng.IntN(10000)),
		IPAddress: fmt.Sprintf("%d.%d.%d.%d",
			g.rng.IntN(256), g.rng.IntN(256), g.rng.IntN(256), g.rng.IntN(256)),
		EmailDomain: g.pick(domain.EmailDomains),

		IsHighRiskMerchant: g.flag(),
		IPIsProxy:          g.flag(),
		IsNewDevice:        g.flag(),
		IsEmailGeneric:     g.flag(),
		IsHoliday:          g.flag(),

		TransactionText: g.pick(Descriptions),
		Timestamp:       ts,
	}
	rec.Features = g.features(rec)
	return rec
}

// features draws the anonymized columns, prior sequence and payment graph.
func (g *Generator) features(rec *domain.TransactionRecord) *domain.ModelFeatures {
	f := &domain.ModelFeatures{
		Card2: g.between(100, 999),
		Card3: g.between(100, 999),
		Card5: g.between(100, 999),
		C1:    g.rng.IntN(10),
		C2:    g.rng.IntN(5),
		D1:    g.rng.IntN(30),
		D15:   g.rng.IntN(5),
		V95:   g.hundredths(-2, 2),
		V96:   g.hundredths(-2, 2),
		V97:   g.hundredths(-2, 2),
		V126:  g.hundredths(-2, 2),
		V127:  g.hundredths(-2, 2),
	}

	dist := float64(int(rec.DistanceFromHome))
	f.Sequence = make([][]float64, sequenceLength)
	for i := range f.Sequence {
		f.Sequence[i] = []float64{
			g.hundredths(50, 2000),
			float64(rec.CardID), float64(f.Card2), float64(f.Card3), float64(f.Card5),
			float64(rec.BillingAddress), dist,
			float64(f.C1), float64(f.C2), float64(f.D1), float64(f.D15),
		}
	}

	recipient := fmt.Sprintf("recipient_%d", g.rng.IntN(1000))
	bank := fmt.Sprintf("bank_%d", g.rng.IntN(100))
	ts := rec.Timestamp.Unix()

	f.Network = domain.NetworkData{
		Nodes: map[string]domain.NetworkNode{
			rec.UserID: {
				TransactionCount: g.between(1, 50),
				TotalAmount:      g.hundredths(0, 50000),
				RiskScore:        g.hundredths(0, 0.9),
				Age:              g.between(1, 1000),
				IsBusiness:       g.chance(0.3),
			},
			recipient: {
				TransactionCount: g.between(1, 500),
				TotalAmount:      g.hundredths(0, 1000000),
				RiskScore:        g.hundredths(0, 0.9),
				Age:              g.between(30, 3679),
				IsBusiness:       g.chance(0.7),
			},
			bank: {
				TransactionCount: g.between(1000, 10999),
				TotalAmount:      g.hundredths(0, 100000000),
				RiskScore:        g.hundredths(0, 0.5),
				Age:              g.between(365, 10364),
				IsBusiness:       1,
			},
		},
		Edges: []domain.NetworkEdge{
			{
				Source:          rec.UserID,
				Target:          bank,
				Amount:          rec.TransactionAmount,
				Timestamp:       ts,
				Frequency:       g.between(1, 100),
				IsInternational: g.chance(0.3),
			},
			{
				Source:          bank,
				Target:          recipient,
				Amount:          rec.TransactionAmount,
				Timestamp:       ts + 1,
				Frequency:       g.between(1, 100),
				IsInternational: g.chance(0.3),
			},
		},
	}
	return f
}

// between returns an int in [lo, hi].
func (g *Generator) between(lo, hi int) int {
	return lo + g.rng.IntN(hi-lo+1)
}

// hundredths returns a value in [lo, hi) rounded to two decimals.
func (g *Generator) hundredths(lo, hi float64) float64 {
	v := decimal.NewFromFloat(lo + g.rng.Float64()*(hi-lo)).Round(2)
	if v.GreaterThanOrEqual(decimal.NewFromFloat(hi)) {
		v = decimal.NewFromFloat(hi).Sub(decimal.New(1, -2))
	}
	return v.InexactFloat64()
}

func (g *Generator) pick(values []string) string {
	return values[g.rng.IntN(len(values))]
}

func (g *Generator) flag() bool {
	return g.rng.IntN(2) == 1
}

// chance returns 1 with probability p.
func (g *Generator) chance(p float64) int {
	if g.rng.Float64() < p {
		return 1
	}
	return 0
}
