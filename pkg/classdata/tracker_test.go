package classdata

import (
	"fmt"
	"testing"
	"time"

	"github.com/daimatz/bytecodebuilder/pkg/constant"
	"github.com/daimatz/bytecodebuilder/pkg/descriptor"
	"github.com/daimatz/bytecodebuilder/pkg/errors"
)

func TestRegisterIndices(t *testing.T) {
	tr := New()
	if !tr.Empty() {
		t.Fatalf("new tracker should be empty")
	}
	a := tr.Register(descriptor.String, "a")
	b := tr.RegisterDeferred(descriptor.Int, func() (any, error) { return int32(2), nil })
	c := tr.Register(descriptor.Object, nil)

	for i, d := range []constant.Dynamic{a, b, c} {
		if d.Bootstrap.Name != "classDataAt" {
			t.Errorf("slot %d bootstrap = %q", i, d.Bootstrap.Name)
		}
		if idx, ok := d.Args[0].(constant.Int); !ok || int(idx) != i {
			t.Errorf("slot %d index = %v", i, d.Args[0])
		}
	}
	if b.Type != descriptor.Int {
		t.Errorf("deferred slot type = %v", b.Type)
	}
	if tr.Len() != 3 {
		t.Errorf("Len() = %d, want 3", tr.Len())
	}
}

func TestFinalizeOrderAndOnce(t *testing.T) {
	tr := New()
	var calls []int
	tr.Register(descriptor.String, "eager")
	tr.RegisterDeferred(descriptor.Object, func() (any, error) {
		calls = append(calls, 1)
		return "first", nil
	})
	tr.RegisterDeferred(descriptor.Object, func() (any, error) {
		calls = append(calls, 2)
		return "second", nil
	})

	for round := 0; round < 2; round++ {
		got, err := tr.Finalize()
		if err != nil {
			t.Fatal(err)
		}
		want := []any{"eager", "first", "second"}
		if fmt.Sprint(got) != fmt.Sprint(want) {
			t.Errorf("round %d: got %v, want %v", round, got, want)
		}
	}
	if fmt.Sprint(calls) != "[1 2]" {
		t.Errorf("supplier calls = %v, want [1 2]", calls)
	}
}

func TestFinalizeError(t *testing.T) {
	tr := New()
	boom := fmt.Errorf("boom")
	tr.RegisterDeferred(descriptor.Object, func() (any, error) { return nil, boom })
	_, err := tr.Finalize()
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want cause boom", err)
	}
	var e *errors.Error
	if !errors.As(err, &e) || e.Kind != errors.KindClassData {
		t.Errorf("got %v, want class_data kind", err)
	}
}

func TestFinalizeSupplierCallsBack(t *testing.T) {
	tr := New()
	tr.Register(descriptor.String, "first")
	tr.RegisterDeferred(descriptor.Int, func() (any, error) { return int32(tr.Len()), nil })
	tr.RegisterDeferred(descriptor.Object, func() (any, error) {
		tr.Register(descriptor.String, "late")
		return tr.Empty(), nil
	})

	type result struct {
		values []any
		err    error
	}
	done := make(chan result, 1)
	go func() {
		values, err := tr.Finalize()
		done <- result{values, err}
	}()
	var r result
	select {
	case r = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Finalize blocked while a supplier used the tracker")
	}
	if r.err != nil {
		t.Fatalf("Finalize: %v", r.err)
	}
	want := []any{"first", int32(3), false, "late"}
	if len(r.values) != len(want) {
		t.Fatalf("got %v, want %v", r.values, want)
	}
	for i := range want {
		if r.values[i] != want[i] {
			t.Errorf("slot %d: got %v, want %v", i, r.values[i], want[i])
		}
	}
}
