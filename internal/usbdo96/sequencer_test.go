package usbdo96

import (
	"errors"
	"testing"
)

func mustSequence(t *testing.T, current State, delta Delta) Plan {
	t.Helper()

	plan, err := Sequence(current, delta)
	if err != nil {
		t.Fatalf("Sequence: %v", err)
	}
	return plan
}

func stateWith(t *testing.T, on ...Channel) State {
	t.Helper()

	delta, err := DeltaOf(on, nil)
	if err != nil {
		t.Fatal(err)
	}
	return mustSequence(t, State{}, delta).Next
}

func TestSequenceSingleGroup(t *testing.T) {
	// DO03, DO10 and DO12: group 1, C2, D1 and D3.
	plan := mustSequence(t, State{}, Delta{3: true, 10: true, 12: true})

	assertFrames(t, plan.Frames, []CommandFrame{
		w(PortC, 0x04),
		w(PortD, 0x0A),
		w(PortB, 0x01),
		w(PortB, 0x03),
	})

	if plan.Next.LastC() != 0x04 || plan.Next.LastD() != 0x0A {
		t.Errorf("last C/D = 0x%02X/0x%02X", plan.Next.LastC(), plan.Next.LastD())
	}
}

func TestSequenceIdempotent(t *testing.T) {
	current := stateWith(t, 7)

	plan := mustSequence(t, current, Delta{7: true})
	if !plan.Empty() || len(plan.Clusters) != 0 {
		t.Errorf("expected no frames, got %v", plan.Frames)
	}
	if plan.Next != current {
		t.Error("state changed on idempotent request")
	}
	if len(plan.Changed) != 0 {
		t.Errorf("changed = %v", plan.Changed)
	}
}

func TestSequencePartialDeltaKeepsGroupWord(t *testing.T) {
	current := stateWith(t, 1, 2, 9)

	plan := mustSequence(t, current, Delta{3: true})

	// Channels 1, 2 and 9 must be re-latched together with 3.
	assertFrames(t, plan.Frames, []CommandFrame{
		w(PortC, 0x07),
		w(PortD, 0x01),
		w(PortB, 0x01),
		w(PortB, 0x03),
	})
}

func TestSequenceClusterSharedBytes(t *testing.T) {
	// DO03 (group 1, C2) and DO19 (group 2, C2) give identical group words.
	plan := mustSequence(t, State{}, Delta{3: true, 19: true})

	if len(plan.Clusters) != 1 {
		t.Fatalf("got %d clusters, want 1", len(plan.Clusters))
	}
	assertFrames(t, plan.Frames, []CommandFrame{
		w(PortC, 0x04),
		w(PortD, 0x00),
		w(PortB, 0x01),
		w(PortB, 0x07),
	})
}

func TestSequenceClusterDifferentBytes(t *testing.T) {
	// DO03 (group 1, C2) and DO23 (group 2, C6).
	plan := mustSequence(t, State{}, Delta{3: true, 23: true})

	if len(plan.Clusters) != 2 {
		t.Fatalf("got %d clusters, want 2", len(plan.Clusters))
	}
	assertFrames(t, plan.Frames, []CommandFrame{
		w(PortC, 0x04),
		w(PortD, 0x00),
		w(PortB, 0x01),
		w(PortB, 0x03),
		w(PortC, 0x40),
		w(PortD, 0x00),
		w(PortB, 0x01),
		w(PortB, 0x05),
	})
	if plan.Next.LastC() != 0x40 || plan.Next.LastD() != 0x00 {
		t.Errorf("last C/D should be the final cluster's pair")
	}
}

func TestSequenceCleanGroupsUntouched(t *testing.T) {
	current := stateWith(t, 5, 90)

	plan := mustSequence(t, current, Delta{40: true})

	for _, c := range plan.Clusters {
		for _, g := range c.Groups {
			if g != 3 {
				t.Errorf("group %d latched, only group 3 is dirty", g)
			}
		}
	}
	for _, f := range plan.Frames {
		if f.Code == CmdWriteB && f.Value&^0x09 != 0 {
			t.Errorf("control byte 0x%02X selects a clean group", f.Value)
		}
	}
}

func TestSequenceEnableBitAlwaysSet(t *testing.T) {
	plan := mustSequence(t, State{}, Delta{1: true, 20: true, 40: true, 60: true, 80: true, 96: true})

	for _, f := range plan.Frames {
		if f.Code == CmdWriteB && f.Value&0x01 == 0 {
			t.Errorf("control write 0x%02X clears the enable bit", f.Value)
		}
	}
}

func TestSequenceOutOfRange(t *testing.T) {
	current := stateWith(t, 3)

	_, err := Sequence(current, Delta{3: false, 97: true})
	if !errors.Is(err, ErrOutOfRange) {
		t.Fatalf("got %v, want ErrOutOfRange", err)
	}
}

func TestSequenceForcedReset(t *testing.T) {
	for _, current := range []State{{}, stateWith(t, 3), stateWith(t, 1, 40, 96)} {
		plan, err := SequenceForced(current, AllChannels(false))
		if err != nil {
			t.Fatal(err)
		}

		if len(plan.Clusters) != 1 {
			t.Fatalf("got %d clusters, want 1", len(plan.Clusters))
		}
		assertFrames(t, plan.Frames, []CommandFrame{
			w(PortC, 0x00),
			w(PortD, 0x00),
			w(PortB, 0x01),
			w(PortB, 0x7F),
		})
		if len(plan.Next.OnChannels()) != 0 {
			t.Errorf("channels still on after reset: %v", plan.Next.OnChannels())
		}
	}
}

func TestSequenceChanged(t *testing.T) {
	current := stateWith(t, 3, 4)

	plan := mustSequence(t, current, Delta{3: true, 4: false, 60: true})

	want := []Change{{Channel: 4, On: false}, {Channel: 60, On: true}}
	if len(plan.Changed) != len(want) {
		t.Fatalf("changed = %v, want %v", plan.Changed, want)
	}
	for i := range want {
		if plan.Changed[i] != want[i] {
			t.Errorf("changed[%d] = %v, want %v", i, plan.Changed[i], want[i])
		}
	}
}

func TestDeltaOfConflict(t *testing.T) {
	if _, err := DeltaOf([]Channel{1, 2}, []Channel{2}); !errors.Is(err, ErrConflictingRequest) {
		t.Errorf("got %v, want ErrConflictingRequest", err)
	}
	if _, err := DeltaOf([]Channel{0}, nil); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("got %v, want ErrOutOfRange", err)
	}
}
