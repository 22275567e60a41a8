package pipeline

import (
	"sort"

	"github.com/shopspring/decimal"

	"dailyprices/internal/domain"
)

// DailyMeans groups records into UTC day buckets and returns the mean price
// of each non-empty bucket. Records without an instrument are attributed to
// instrument. Output is sorted by instrument, then day.
func DailyMeans(instrument string, records []domain.PriceRecord) []domain.DailyPriceRecord {
	type key struct {
		instrument string
		day        int64
	}
	type accum struct {
		sum   decimal.Decimal
		count int64
	}

	buckets := make(map[key]*accum)
	for i := range records {
		r := &records[i]
		k := key{instrument: r.Instrument, day: domain.DayStart(r.UnixDateTime)}
		if k.instrument == "" {
			k.instrument = instrument
		}
		a := buckets[k]
		if a == nil {
			a = &accum{sum: decimal.Zero}
			buckets[k] = a
		}
		a.sum = a.sum.Add(r.Price)
		a.count++
	}

	result := make([]domain.DailyPriceRecord, 0, len(buckets))
	for k, a := range buckets {
		result = append(result, domain.DailyPriceRecord{
			Instrument:   k.instrument,
			UnixDateTime: k.day,
			Price:        a.sum.Div(decimal.NewFromInt(a.count)),
		})
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Instrument != result[j].Instrument {
			return result[i].Instrument < result[j].Instrument
		}
		return result[i].UnixDateTime < result[j].UnixDateTime
	})
	return result
}
