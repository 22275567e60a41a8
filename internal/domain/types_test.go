package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestDayStart(t *testing.T) {
	tests := []struct {
		name string
		in   int64
		want int64
	}{
		{"epoch", 0, 0},
		{"midday", time.Date(2024, 3, 5, 12, 30, 0, 0, time.UTC).Unix(), time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC).Unix()},
		{"last second", time.Date(2024, 3, 5, 23, 59, 59, 0, time.UTC).Unix(), time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC).Unix()},
		{"midnight", time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC).Unix(), time.Date(2024, 3, 6, 0, 0, 0, 0, time.UTC).Unix()},
		{"before epoch", -1, -SecondsPerDay},
		{"exactly one day before epoch", -SecondsPerDay, -SecondsPerDay},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DayStart(tt.in); got != tt.want {
				t.Errorf("DayStart(%d) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDailyPriceRecordRecord(t *testing.T) {
	d := DailyPriceRecord{
		Instrument:   "EURUSD",
		UnixDateTime: 86400,
		Price:        decimal.RequireFromString("1.105"),
	}
	r := d.Record()
	if r.Instrument != "EURUSD" || r.UnixDateTime != 86400 {
		t.Errorf("Record() = %+v, want instrument EURUSD at 86400", r)
	}
	if r.Price.String() != "1.105" {
		t.Errorf("Record().Price = %s, want 1.105", r.Price)
	}
	if got := r.Time(); !got.Equal(time.Date(1970, 1, 2, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("Time() = %v, want 1970-01-02", got)
	}
}

func TestRequestUnmarshal(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    Request
		wantErr bool
	}{
		{
			name: "number",
			body: `{"instrument":"EURUSD","start_time":1700000000}`,
			want: Request{Instrument: "EURUSD", StartTime: 1700000000},
		},
		{
			name: "numeric string",
			body: `{"instrument":"GBPUSD","start_time":"1700000000"}`,
			want: Request{Instrument: "GBPUSD", StartTime: 1700000000},
		},
		{
			name: "missing start",
			body: `{"instrument":"GBPUSD"}`,
			want: Request{Instrument: "GBPUSD"},
		},
		{
			name:    "not a number",
			body:    `{"instrument":"GBPUSD","start_time":"yesterday"}`,
			wantErr: true,
		},
		{
			name:    "fractional",
			body:    `{"instrument":"GBPUSD","start_time":1.5}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got Request
			err := json.Unmarshal([]byte(tt.body), &got)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%s) returned nil error, want error", tt.body)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal(%s): %v", tt.body, err)
			}
			if got != tt.want {
				t.Errorf("Unmarshal(%s) = %+v, want %+v", tt.body, got, tt.want)
			}
		})
	}
}

func TestPriceRecordJSONKeepsDecimal(t *testing.T) {
	r := PriceRecord{Instrument: "EURUSD", UnixDateTime: 1, Price: decimal.RequireFromString("1.105")}
	b, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	want := `{"Instrument":"EURUSD","UnixDateTime":1,"Price":"1.105"}`
	if string(b) != want {
		t.Errorf("Marshal = %s, want %s", b, want)
	}
}
