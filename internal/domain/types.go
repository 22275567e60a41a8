// Package domain defines the price records moved between tables and the
// request payload that drives a pipeline run.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

// SecondsPerDay is the width of a day bucket.
const SecondsPerDay = 24 * 60 * 60

// ---------------------------------------------------------------------------
// Records
// ---------------------------------------------------------------------------

// PriceRecord is a single timestamped price sample. Instrument is the
// partition key and UnixDateTime the sort key; together they identify the
// record.
type PriceRecord struct {
	Instrument   string          `json:"Instrument"`
	UnixDateTime int64           `json:"UnixDateTime"`
	Price        decimal.Decimal `json:"Price"`
}

// Time returns the record timestamp in UTC.
func (r PriceRecord) Time() time.Time {
	return time.Unix(r.UnixDateTime, 0).UTC()
}

// DailyPriceRecord is the mean price of an instrument over one UTC calendar
// day. UnixDateTime is the start of that day.
type DailyPriceRecord struct {
	Instrument   string          `json:"Instrument"`
	UnixDateTime int64           `json:"UnixDateTime"`
	Price        decimal.Decimal `json:"Price"`
}

// Record returns the daily summary in the shape stored in tables.
func (d DailyPriceRecord) Record() PriceRecord {
	return PriceRecord{
		Instrument:   d.Instrument,
		UnixDateTime: d.UnixDateTime,
		Price:        d.Price,
	}
}

// DayStart returns the epoch seconds of 00:00 UTC on the day containing unix.
func DayStart(unix int64) int64 {
	rem := unix % SecondsPerDay
	if rem < 0 {
		rem += SecondsPerDay
	}
	return unix - rem
}

// ---------------------------------------------------------------------------
// Request payload
// ---------------------------------------------------------------------------

// Request is the payload of an aggregation run. The range ends at
// invocation time.
type Request struct {
	Instrument string `json:"instrument"`
	StartTime  int64  `json:"start_time"`
}

// UnmarshalJSON accepts start_time as either a JSON number or a numeric
// string.
func (r *Request) UnmarshalJSON(data []byte) error {
	var raw struct {
		Instrument string          `json:"instrument"`
		StartTime  json.RawMessage `json:"start_time"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	r.Instrument = raw.Instrument
	r.StartTime = 0

	st := bytes.TrimSpace(raw.StartTime)
	if len(st) == 0 || bytes.Equal(st, []byte("null")) {
		return nil
	}
	if st[0] == '"' {
		var s string
		if err := json.Unmarshal(st, &s); err != nil {
			return err
		}
		st = []byte(s)
	}
	n, err := strconv.ParseInt(string(st), 10, 64)
	if err != nil {
		return fmt.Errorf("start_time: %q is not an integer epoch", string(st))
	}
	r.StartTime = n
	return nil
}
