package msiext

import (
	"testing"

	"riscv-irqc/sysiface"
)

func TestFileClaimClearsAndPicksLowestID(t *testing.T) {
	f := NewFile(0, sysiface.NewShadowCSR())
	f.Init()
	if err := f.SetEnabled(5, true); err != nil {
		t.Fatal(err)
	}
	if err := f.SetEnabled(9, true); err != nil {
		t.Fatal(err)
	}
	if err := f.InjectPending(9); err != nil {
		t.Fatal(err)
	}
	if err := f.InjectPending(5); err != nil {
		t.Fatal(err)
	}

	id := f.Claim()
	if id != 5 {
		t.Fatalf("Claim() = %d, want 5 (lowest enabled id wins)", id)
	}
	if f.Pending(5) {
		t.Error("claimed id should no longer be pending")
	}
	if !f.Pending(9) {
		t.Error("unclaimed id should remain pending")
	}
}

func TestFileClaimSpuriousWhenNothingEnabled(t *testing.T) {
	f := NewFile(0, sysiface.NewShadowCSR())
	if err := f.InjectPending(3); err != nil {
		t.Fatal(err)
	}
	if got := f.Claim(); got != 0 {
		t.Errorf("Claim() with nothing enabled = %d, want 0", got)
	}
}

func TestFabricSendMSIRequiresRegisteredFile(t *testing.T) {
	fb := NewFabric()
	if err := fb.SendMSI(0, 1); err == nil {
		t.Fatal("expected error sending to an unregistered hart")
	}
	f := NewFile(0, sysiface.NewShadowCSR())
	fb.AddFile(0, f)
	if err := fb.SendMSI(0, 1); err != nil {
		t.Fatalf("SendMSI: %v", err)
	}
	if !f.Pending(1) {
		t.Error("SendMSI should mark the event id pending on the target file")
	}
}

func TestFabricReserveMSIAllocatesDistinctIDs(t *testing.T) {
	fb := NewFabric()
	a, err := fb.ReserveMSI()
	if err != nil {
		t.Fatal(err)
	}
	b, err := fb.ReserveMSI()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("ReserveMSI returned the same id twice: %d", a)
	}
	fb.ReleaseMSI(a)
	c, err := fb.ReserveMSI()
	if err != nil {
		t.Fatal(err)
	}
	if c != a {
		t.Errorf("ReserveMSI after release = %d, want reused id %d", c, a)
	}
}

func TestFabricBindResolve(t *testing.T) {
	fb := NewFabric()
	fb.Bind(1, 2, 3, 42)
	got, ok := fb.Resolve(1, 2, 3)
	if !ok || got != 42 {
		t.Fatalf("Resolve(1,2,3) = %d,%v want 42,true", got, ok)
	}
	if _, ok := fb.Resolve(1, 2, 4); ok {
		t.Error("Resolve should miss for an unbound key")
	}
}
