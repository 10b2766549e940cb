package fhop

import "testing"

func Test_SameNetIDProducesSameSequence(t *testing.T) {
	a := NewPlan(42, 10)
	b := NewPlan(42, 10)
	for i := 0; i < 30; i++ {
		if a.TransmitChannel() != b.TransmitChannel() {
			t.Fatalf("step %d: channels diverged: %d vs %d", i, a.TransmitChannel(), b.TransmitChannel())
		}
		a.WindowChange()
		b.WindowChange()
	}
}

func Test_DifferentNetIDsUsuallyDiverge(t *testing.T) {
	a := NewPlan(1, 10)
	b := NewPlan(2, 10)
	same := 0
	for i := 0; i < 10; i++ {
		if a.TransmitChannel() == b.TransmitChannel() {
			same++
		}
		a.WindowChange()
		b.WindowChange()
	}
	if same == 10 {
		t.Fatalf("different network IDs produced identical sequences across all 10 steps")
	}
}

func Test_WindowChangeCyclesThroughAllChannels(t *testing.T) {
	p := NewPlan(7, 5)
	seen := map[uint8]bool{}
	for i := 0; i < 5; i++ {
		seen[p.TransmitChannel()] = true
		p.WindowChange()
	}
	if len(seen) != 5 {
		t.Fatalf("expected to visit all 5 channels in one cycle, saw %d", len(seen))
	}
}

func Test_UnlockRescanThreshold(t *testing.T) {
	p := NewPlan(1, 4)
	p.SetLocked(false)
	for i := 0; i < UnlockedCountRescan; i++ {
		if p.NoteLinkUpdate() {
			t.Fatalf("rescan should not trigger before %d periods, triggered at %d", UnlockedCountRescan, i)
		}
	}
	if !p.NoteLinkUpdate() {
		t.Fatalf("expected rescan to trigger once the unlock count exceeds the threshold")
	}
}

func Test_RelockResetsUnlockCounter(t *testing.T) {
	p := NewPlan(1, 4)
	p.SetLocked(false)
	for i := 0; i < UnlockedCountRescan; i++ {
		p.NoteLinkUpdate()
	}
	p.SetLocked(true)
	p.SetLocked(false)
	if p.NoteLinkUpdate() {
		t.Fatalf("unlock counter should have reset on relock")
	}
}
