package aggregate

import (
	"math/rand"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiquery/internal/core"
)

func ptr(v float64) *float64 { return &v }

func tx(id string, amount float64, kind core.Kind, ts string) core.Transaction {
	t, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		panic(err)
	}
	return core.Transaction{ID: id, Amount: amount, Kind: kind, Currency: core.CurrencyNGN, Timestamp: t.UTC()}
}

func fixture() []core.Transaction {
	return []core.Transaction{
		tx("1", 100, core.KindDebit, "2025-07-31T23:59:59Z"),
		tx("2", 500, core.KindCredit, "2025-08-01T00:00:00Z"),
		tx("3", 1500, core.KindDebit, "2025-08-15T12:30:00Z"),
		tx("4", 2000, core.KindDebit, "2025-08-31T23:59:59Z"),
		tx("5", 2500, core.KindCredit, "2025-09-01T00:00:00Z"),
		tx("6", 0.1, core.KindDebit, "2025-09-02T08:00:00Z"),
		tx("7", 0.2, core.KindDebit, "2025-09-03T08:00:00Z"),
	}
}

func TestAmountRange(t *testing.T) {
	txs := []core.Transaction{
		tx("a", 100, core.KindDebit, "2025-08-01T00:00:00Z"),
		tx("b", 500, core.KindDebit, "2025-08-02T00:00:00Z"),
		tx("c", 1500, core.KindCredit, "2025-08-03T00:00:00Z"),
		tx("d", 2000, core.KindDebit, "2025-08-04T00:00:00Z"),
		tx("e", 2500, core.KindDebit, "2025-08-05T00:00:00Z"),
	}
	p := AmountParams{MinAmount: ptr(500), MaxAmount: ptr(2000)}

	total, err := AmountSum(txs, p)
	require.NoError(t, err)
	assert.Equal(t, 4000.0, total)

	n, err := AmountCount(txs, p)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = AmountCount(txs, AmountParams{MinAmount: ptr(1000)})
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = AmountCount(txs, AmountParams{MaxAmount: ptr(500)})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = AmountCount(txs, AmountParams{MinAmount: ptr(3000), MaxAmount: ptr(10)})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestNoParametersAggregatesEverything(t *testing.T) {
	txs := fixture()

	s1, err := DateSum(txs, DateParams{})
	require.NoError(t, err)
	s2, err := TypeSum(txs, TypeParams{})
	require.NoError(t, err)
	s3, err := AmountSum(txs, AmountParams{})
	require.NoError(t, err)

	assert.Equal(t, 6600.3, s1)
	assert.Equal(t, s1, s2)
	assert.Equal(t, s1, s3)

	for _, countFn := range []func() (int, error){
		func() (int, error) { return DateCount(txs, DateParams{}) },
		func() (int, error) { return TypeCount(txs, TypeParams{}) },
		func() (int, error) { return AmountCount(txs, AmountParams{}) },
	} {
		n, err := countFn()
		require.NoError(t, err)
		assert.Equal(t, len(txs), n)
	}
}

func TestTypeFilter(t *testing.T) {
	debits := []core.Transaction{
		tx("a", 10, core.KindDebit, "2025-08-01T00:00:00Z"),
		tx("b", 20, core.KindDebit, "2025-08-02T00:00:00Z"),
	}

	total, err := TypeSum(debits, TypeParams{Kind: core.KindCredit})
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)

	n, err := TypeCount(debits, TypeParams{Kind: core.KindCredit})
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	total, err = TypeSum(debits, TypeParams{Kind: core.KindDebit})
	require.NoError(t, err)
	assert.Equal(t, 30.0, total)

	total, err = TypeSum(nil, TypeParams{})
	require.NoError(t, err)
	assert.Equal(t, 0.0, total)

	_, err = TypeCount(debits, TypeParams{Kind: "refund"})
	var fe *FormatError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "transaction_type", fe.Param)
}

func TestDateWindow(t *testing.T) {
	txs := fixture()

	tests := []struct {
		name    string
		params  DateParams
		wantIDs []string
	}{
		{"whole august", DateParams{StartDate: "2025-08-01", EndDate: "2025-08-31"}, []string{"2", "3", "4"}},
		{"single day from start only", DateParams{StartDate: "2025-08-15"}, []string{"3"}},
		{"end only is an upper bound", DateParams{EndDate: "2025-08-01"}, []string{"1", "2"}},
		{"august debits", DateParams{StartDate: "2025-08-01", EndDate: "2025-08-31", Kind: core.KindDebit}, []string{"3", "4"}},
		{"august debits above 1600", DateParams{StartDate: "2025-08-01", EndDate: "2025-08-31", Kind: core.KindDebit, MinAmount: ptr(1600)}, []string{"4"}},
		{"inverted window is empty", DateParams{StartDate: "2025-09-01", EndDate: "2025-08-01"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var wantSum float64
			for _, x := range txs {
				if slices.Contains(tt.wantIDs, x.ID) {
					wantSum += x.Amount
				}
			}

			n, err := DateCount(txs, tt.params)
			require.NoError(t, err)
			assert.Equal(t, len(tt.wantIDs), n)

			total, err := DateSum(txs, tt.params)
			require.NoError(t, err)
			assert.InDelta(t, wantSum, total, 1e-9)
		})
	}
}

// The date filter must select exactly the records whose UTC timestamp lies
// between start 00:00:00 and end 23:59:59.
func TestDateWindowMatchesReferenceSelection(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	txs := make([]core.Transaction, 300)
	for i := range txs {
		ts := base.Add(time.Duration(rng.Int63n(int64(365 * 24 * time.Hour))))
		txs[i] = core.Transaction{ID: string(rune('a' + i%26)), Amount: float64(rng.Intn(10000)), Kind: core.KindDebit, Timestamp: ts.Truncate(time.Second)}
	}

	for i := 0; i < 50; i++ {
		start := base.AddDate(0, 0, rng.Intn(300))
		end := start.AddDate(0, 0, rng.Intn(60))
		lo := start
		hi := end.Add(23*time.Hour + 59*time.Minute + 59*time.Second)

		want := 0
		for _, x := range txs {
			if !x.Timestamp.Before(lo) && !x.Timestamp.After(hi) {
				want++
			}
		}

		got, err := DateCount(txs, DateParams{StartDate: start.Format(core.DateLayout), EndDate: end.Format(core.DateLayout)})
		require.NoError(t, err)
		assert.Equal(t, want, got, "window %s..%s", start.Format(core.DateLayout), end.Format(core.DateLayout))
	}
}

func TestMalformedDatesFailWithFormatError(t *testing.T) {
	txs := fixture()

	for _, p := range []DateParams{
		{StartDate: "2025-13-40"},
		{StartDate: "2025-08-01", EndDate: "2025-13-40"},
		{EndDate: "2025/08/01"},
		{StartDate: "August 2025"},
		{StartDate: "2025-02-30"},
	} {
		_, err := DateSum(txs, p)
		var fe *FormatError
		require.ErrorAs(t, err, &fe, "%+v", p)

		_, err = DateCount(txs, p)
		require.ErrorAs(t, err, &fe, "%+v", p)
	}
}

func TestNegativeBoundsFailWithRangeError(t *testing.T) {
	txs := fixture()

	cases := []struct {
		name string
		run  func() error
	}{
		{"amount sum min", func() error { _, err := AmountSum(txs, AmountParams{MinAmount: ptr(-1)}); return err }},
		{"amount count max", func() error { _, err := AmountCount(txs, AmountParams{MaxAmount: ptr(-0.01)}); return err }},
		{"amount both", func() error {
			_, err := AmountCount(txs, AmountParams{MinAmount: ptr(10), MaxAmount: ptr(-5)})
			return err
		}},
		{"date with bad date too", func() error {
			_, err := DateSum(txs, DateParams{StartDate: "nope", MinAmount: ptr(-3)})
			return err
		}},
		{"date with kind", func() error {
			_, err := DateCount(txs, DateParams{Kind: core.KindCredit, MaxAmount: ptr(-3)})
			return err
		}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			var re *RangeError
			require.ErrorAs(t, c.run(), &re)
			assert.Contains(t, re.Error(), "must be non-negative")
		})
	}
}

func TestOrderInvarianceAndIdempotence(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	txs := fixture()
	for i := 0; i < 200; i++ {
		kind := core.KindDebit
		if rng.Intn(2) == 0 {
			kind = core.KindCredit
		}
		txs = append(txs, core.Transaction{
			ID:        "r",
			Amount:    float64(rng.Intn(1_000_000)) / 100,
			Kind:      kind,
			Timestamp: time.Date(2025, time.Month(1+rng.Intn(12)), 1+rng.Intn(28), rng.Intn(24), 0, 0, 0, time.UTC),
		})
	}
	original := slices.Clone(txs)

	date := DateParams{StartDate: "2025-03-01", EndDate: "2025-06-30", Kind: core.KindDebit}
	typ := TypeParams{Kind: core.KindCredit}
	amt := AmountParams{MinAmount: ptr(100), MaxAmount: ptr(5000)}

	results := func(list []core.Transaction) []float64 {
		ds, _ := DateSum(list, date)
		dc, _ := DateCount(list, date)
		ts, _ := TypeSum(list, typ)
		tc, _ := TypeCount(list, typ)
		as, _ := AmountSum(list, amt)
		ac, _ := AmountCount(list, amt)
		return []float64{ds, float64(dc), ts, float64(tc), as, float64(ac)}
	}

	want := results(txs)
	assert.Equal(t, want, results(txs), "repeated call must be identical")
	assert.Equal(t, original, txs, "input must not be modified")

	for i := 0; i < 20; i++ {
		shuffled := slices.Clone(txs)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		assert.Equal(t, want, results(shuffled))
	}
}
