package diagnostics

import (
	"math"
	"testing"
)

func constFrame(n int, v float32) []float32 {
	f := make([]float32, n)
	for i := range f {
		f[i] = v
	}
	return f
}

func TestObserveOnlyLogsEvery100Frames(t *testing.T) {
	a := New(false)
	var last Snapshot
	for i := 0; i < 99; i++ {
		last = a.Observe(constFrame(10, 0.1), constFrame(10, 0.01), constFrame(10, 0.2), 20, 50, 0, 0, 0, 0)
	}
	if last != (Snapshot{}) {
		t.Errorf("expected zero-value snapshot before frame 100, got %+v", last)
	}
	last = a.Observe(constFrame(10, 0.1), constFrame(10, 0.01), constFrame(10, 0.2), 20, 50, 0, 0, 0, 0)
	if last == (Snapshot{}) {
		t.Error("expected derived snapshot at frame 100")
	}
}

func TestERLEImprovesWithBetterCancellation(t *testing.T) {
	a := New(false)
	// near_processed much smaller than near_raw => good cancellation => high ERLE
	for i := 0; i < 100; i++ {
		a.Observe(constFrame(100, 0.5), constFrame(100, 0.01), constFrame(100, 0.5), 20, 50, 0, 0, 0, 0)
	}
	snap := a.Snapshot(20, 50, 0, 0, 0, 0)
	if snap.ERLEDB < 20 {
		t.Errorf("ERLE = %v dB, expected >= 20 for strong cancellation", snap.ERLEDB)
	}
}

func TestLeakCorrClampedToUnitRange(t *testing.T) {
	a := New(false)
	for i := 0; i < 100; i++ {
		a.Observe(constFrame(100, 0.5), constFrame(100, 0.5), constFrame(100, 0.5), 20, 50, 0, 0, 0, 0)
	}
	snap := a.Snapshot(20, 50, 0, 0, 0, 0)
	if snap.LeakCorr > 1 || snap.LeakCorr < -1 {
		t.Errorf("leak_corr = %v, out of [-1,1]", snap.LeakCorr)
	}
}

func TestVerdictPassesOnGoodCancellation(t *testing.T) {
	a := New(false)
	snap := Snapshot{ERLEDB: 25, LeakCorrDB: -40, StreamDelayMs: 30}
	v := a.Verdict(snap, 40)
	if !v.Pass {
		t.Errorf("expected PASS, got FAIL: %s", v.Diagnosis)
	}
}

func TestVerdictFailsWithDiagnosis(t *testing.T) {
	a := New(false)
	snap := Snapshot{ERLEDB: 5, LeakCorrDB: -10, StreamDelayMs: 180}
	v := a.Verdict(snap, 10)
	if v.Pass {
		t.Fatal("expected FAIL")
	}
	if v.Diagnosis == "" {
		t.Error("expected a non-empty diagnosis string")
	}
}

func TestDbOfAbsZeroIsVeryNegative(t *testing.T) {
	if d := dbOfAbs(0); d != -1000 {
		t.Errorf("dbOfAbs(0) = %v, want -1000", d)
	}
}

func TestSnapshotCarriesClipAndReverseCounters(t *testing.T) {
	a := New(false)
	for i := 0; i < 100; i++ {
		a.Observe(constFrame(10, 0.5), constFrame(10, 0.1), constFrame(10, 0.5), 20, 50, 3, 7, 2, 1)
	}
	snap := a.Snapshot(20, 50, 3, 7, 2, 1)
	if snap.ClipHitsNear != 3 || snap.ClipHitsFar != 7 {
		t.Errorf("clip hits = (%d,%d), want (3,7)", snap.ClipHitsNear, snap.ClipHitsFar)
	}
	if snap.ReverseDrops != 2 || snap.ReverseUnderruns != 1 {
		t.Errorf("reverse drops/underruns = (%d,%d), want (2,1)", snap.ReverseDrops, snap.ReverseUnderruns)
	}
	if snap.FramesProcessed != 100 {
		t.Errorf("frames_processed = %d, want 100", snap.FramesProcessed)
	}
}

func TestSnapshotMatchesManualERLEFormula(t *testing.T) {
	a := New(false)
	for i := 0; i < 100; i++ {
		a.Observe(constFrame(10, 1.0), constFrame(10, 0.1), constFrame(10, 0.5), 0, 0, 0, 0, 0, 0)
	}
	snap := a.Snapshot(0, 0, 0, 0, 0, 0)
	sumRaw := 1000 * 1.0 * 1.0
	sumProc := 1000 * 0.1 * 0.1
	want := 10 * math.Log10((sumRaw+epsilon)/(sumProc+epsilon))
	if math.Abs(snap.ERLEDB-want) > 0.01 {
		t.Errorf("ERLE = %v, want %v", snap.ERLEDB, want)
	}
}
