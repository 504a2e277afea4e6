package database

import (
	"encoding/json"
	"fmt"
	"reflect"
	"testing"
	"time"

	"forex-signal-engine/internal/confluence"
	"forex-signal-engine/internal/signal"
)

type fakeRows struct {
	rows [][]any
	pos  int
}

func (f *fakeRows) Next() bool {
	if f.pos >= len(f.rows) {
		return false
	}
	f.pos++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.pos-1]
	for i, d := range dest {
		dv := reflect.ValueOf(d).Elem()
		if row[i] == nil {
			dv.Set(reflect.Zero(dv.Type()))
			continue
		}
		sv := reflect.ValueOf(row[i])
		switch {
		case sv.Type().AssignableTo(dv.Type()):
			dv.Set(sv)
		case dv.Kind() != reflect.Pointer && sv.Type().ConvertibleTo(dv.Type()):
			dv.Set(sv.Convert(dv.Type()))
		case dv.Kind() == reflect.Pointer && sv.Type().AssignableTo(dv.Type().Elem()):
			p := reflect.New(dv.Type().Elem())
			p.Elem().Set(sv)
			dv.Set(p)
		default:
			return fmt.Errorf("cannot scan %s into %s", sv.Type(), dv.Type())
		}
	}
	return nil
}

func (f *fakeRows) Err() error { return nil }

func TestScanSignalsRoundTrip(t *testing.T) {
	flags := confluence.Flags{HasEMAAlign: true, HasMomentum: true, EMAAlignRatio: 0.8}
	raw, _ := json.Marshal(flags)
	created := time.Date(2024, 3, 6, 10, 0, 0, 0, time.UTC)
	closed := created.Add(2 * time.Hour)

	rows := &fakeRows{rows: [][]any{{
		"id-1", "EURUSD", "BUY", 1.1000, 1.0976, 1.1048,
		72.5, "TREND", "LONDON", raw, "TP_HIT", created,
		closed, 1.1048, 48.0,
	}}}

	out, err := scanSignals(rows)
	if err != nil {
		t.Fatalf("scanSignals: %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("got %d signals, want 1", len(out))
	}

	s := out[0]
	if s.ID != "id-1" || s.Symbol != "EURUSD" {
		t.Errorf("identity lost: id=%s symbol=%s", s.ID, s.Symbol)
	}
	if s.Status != signal.StatusTPHit {
		t.Errorf("status = %s, want TP_HIT", s.Status)
	}
	if !s.Flags.HasEMAAlign || !s.Flags.HasMomentum || s.Flags.EMAAlignRatio != 0.8 {
		t.Errorf("flags not restored: %+v", s.Flags)
	}
	if s.ClosedAt == nil || !s.ClosedAt.Equal(closed) {
		t.Errorf("closed_at = %v, want %v", s.ClosedAt, closed)
	}
	if s.PnLPips != 48.0 || s.ClosePrice != 1.1048 {
		t.Errorf("close data lost: pips=%f price=%f", s.PnLPips, s.ClosePrice)
	}
}

func TestScanSignalsOpenRowHasNoCloseData(t *testing.T) {
	raw, _ := json.Marshal(confluence.Flags{})
	rows := &fakeRows{rows: [][]any{{
		"id-2", "USDJPY", "SELL", 151.20, 151.56, 150.66,
		55.0, "RANGE", "ASIA", raw, "OPEN", time.Now().UTC(),
		nil, nil, nil,
	}}}

	out, err := scanSignals(rows)
	if err != nil {
		t.Fatalf("scanSignals: %v", err)
	}
	s := out[0]
	if s.ClosedAt != nil || s.ClosePrice != 0 || s.PnLPips != 0 {
		t.Errorf("open row carried close data: %+v", s)
	}
}

func TestLockIDStable(t *testing.T) {
	a := lockID("train:EURUSD:LONDON:TREND")
	b := lockID("train:EURUSD:LONDON:TREND")
	c := lockID("train:EURUSD:LONDON:RANGE")
	if a != b {
		t.Error("same key must hash to the same lock id")
	}
	if a == c {
		t.Error("different keys should not collide")
	}
}
