package event_test

import (
	"math"
	"testing"

	"github.com/beebdev/sigfish-haru/event"
)

func makeTable(means []float32) event.Table {
	events := make([]event.Event, len(means))
	for i, m := range means {
		events[i] = event.Event{Mean: m, Start: uint64(i), Length: 1}
	}
	return event.Table{Events: events}
}

func TestNormalizeLaw(t *testing.T) {
	means := make([]float32, 300)
	for i := range means {
		means[i] = float32(i%7) * 1.3
	}
	tbl := makeTable(means)
	res, err := tbl.Normalize(50, 250)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	win := tbl.Window(res.Start, res.End)
	var sum float64
	for _, v := range win {
		sum += float64(v)
	}
	mean := sum / float64(len(win))
	var varSum float64
	for _, v := range win {
		d := float64(v) - mean
		varSum += d * d
	}
	stdv := math.Sqrt(varSum / float64(len(win)))
	if math.Abs(mean) > 1e-4 {
		t.Fatalf("normalized mean = %v, want ~0", mean)
	}
	if math.Abs(stdv-1) > 1e-4 {
		t.Fatalf("normalized stdv = %v, want ~1", stdv)
	}
}

func TestNormalizeClampsShortTable(t *testing.T) {
	means := make([]float32, 200)
	for i := range means {
		means[i] = float32(i % 5)
	}
	tbl := makeTable(means)
	res, err := tbl.Normalize(50, 250)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if !res.Clamped || res.End != 200 {
		t.Fatalf("expected clamp to 200, got %+v", res)
	}
}

func TestNormalizeDegenerate(t *testing.T) {
	means := make([]float32, 300)
	for i := range means {
		means[i] = 42
	}
	tbl := makeTable(means)
	if _, err := tbl.Normalize(50, 250); err != event.ErrDegenerateWindow {
		t.Fatalf("expected ErrDegenerateWindow, got %v", err)
	}
}
