package tap

import "testing"

func TestNextStateTable(t *testing.T) {
	type transition struct {
		start State
		tms   bool
		end   State
	}

	cases := []transition{
		{StateTestLogicReset, false, StateRunTestIdle},
		{StateTestLogicReset, true, StateTestLogicReset},
		{StateRunTestIdle, false, StateRunTestIdle},
		{StateRunTestIdle, true, StateSelectDRScan},
		{StateSelectDRScan, false, StateCaptureDR},
		{StateSelectDRScan, true, StateSelectIRScan},
		{StateCaptureDR, false, StateShiftDR},
		{StateCaptureDR, true, StateExit1DR},
		{StateShiftDR, false, StateShiftDR},
		{StateShiftDR, true, StateExit1DR},
		{StateExit1DR, false, StatePauseDR},
		{StateExit1DR, true, StateUpdateDR},
		{StatePauseDR, false, StatePauseDR},
		{StatePauseDR, true, StateExit2DR},
		{StateExit2DR, false, StateShiftDR},
		{StateExit2DR, true, StateUpdateDR},
		{StateUpdateDR, false, StateRunTestIdle},
		{StateUpdateDR, true, StateSelectDRScan},
		{StateSelectIRScan, false, StateCaptureIR},
		{StateSelectIRScan, true, StateTestLogicReset},
		{StateCaptureIR, false, StateShiftIR},
		{StateCaptureIR, true, StateExit1IR},
		{StateShiftIR, false, StateShiftIR},
		{StateShiftIR, true, StateExit1IR},
		{StateExit1IR, false, StatePauseIR},
		{StateExit1IR, true, StateUpdateIR},
		{StatePauseIR, false, StatePauseIR},
		{StatePauseIR, true, StateExit2IR},
		{StateExit2IR, false, StateShiftIR},
		{StateExit2IR, true, StateUpdateIR},
		{StateUpdateIR, false, StateRunTestIdle},
		{StateUpdateIR, true, StateSelectDRScan},
	}

	if len(cases) != int(numStates)*2 {
		t.Fatalf("table covers %d pairs, want %d", len(cases), numStates*2)
	}
	for _, tc := range cases {
		got := NextState(tc.start, tc.tms)
		if got != tc.end {
			t.Fatalf("NextState(%s, %v) = %s, want %s", tc.start, tc.tms, got, tc.end)
		}
	}
}

func TestNextStatePanicsOnInvalidState(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for invalid state")
		}
	}()
	NextState(State(42), false)
}

func TestStateString(t *testing.T) {
	if got := StateExit1IR.String(); got != "Exit1IR" {
		t.Fatalf("String() = %q, want Exit1IR", got)
	}
	if got := State(99).String(); got != "State(99)" {
		t.Fatalf("String() = %q, want State(99)", got)
	}
	st, err := ParseState("runtestidle")
	if err != nil || st != StateRunTestIdle {
		t.Fatalf("ParseState = %s, %v", st, err)
	}
	if _, err := ParseState("nowhere"); err == nil {
		t.Fatalf("expected error for unknown name")
	}
}

func TestAdvanceFollowsPackedStream(t *testing.T) {
	// 1,1,1,1,1 -> reset; 0 -> idle; 1,0,0 -> ShiftDR
	tms := PackBits([]bool{true, true, true, true, true, false, true, false, false})
	if got := Advance(StateShiftIR, tms, 9); got != StateShiftDR {
		t.Fatalf("Advance = %s, want %s", got, StateShiftDR)
	}
	if got := Advance(StateShiftIR, tms, 6); got != StateRunTestIdle {
		t.Fatalf("Advance(6) = %s, want %s", got, StateRunTestIdle)
	}
	if got := Advance(StatePauseDR, nil, 0); got != StatePauseDR {
		t.Fatalf("Advance(0) = %s, want %s", got, StatePauseDR)
	}
}

func TestStateMachineReset(t *testing.T) {
	m := NewStateMachine()
	// Move out of reset to ensure Reset() actually travels back.
	m.Clock(false) // -> Run-Test/Idle
	if m.State() != StateRunTestIdle {
		t.Fatalf("State() = %s, want %s", m.State(), StateRunTestIdle)
	}

	seq := m.Reset()

	if len(seq.TMS) != 5 {
		t.Fatalf("Reset sequence length = %d, want 5", len(seq.TMS))
	}
	if want := StateTestLogicReset; m.State() != want {
		t.Fatalf("State after reset = %s, want %s", m.State(), want)
	}
	if seq.States[len(seq.States)-1] != StateTestLogicReset {
		t.Fatalf("Final sequence state = %s, want %s", seq.States[len(seq.States)-1], StateTestLogicReset)
	}
}

func TestGoToProducesExpectedPattern(t *testing.T) {
	m := NewStateMachine()
	m.Clock(false)

	path, err := m.GoTo(StateShiftIR)
	if err != nil {
		t.Fatalf("GoTo returned error: %v", err)
	}

	wantBits := []bool{true, true, false, false}
	if len(path.TMS) != len(wantBits) {
		t.Fatalf("GoTo length = %d, want %d", len(path.TMS), len(wantBits))
	}
	for i, want := range wantBits {
		if path.TMS[i] != want {
			t.Fatalf("path bit %d = %v, want %v", i, path.TMS[i], want)
		}
	}
	if m.State() != StateShiftIR {
		t.Fatalf("State() = %s, want %s", m.State(), StateShiftIR)
	}

	if _, err := m.GoTo(StateRunTestIdle); err != nil {
		t.Fatalf("GoTo RunTestIdle returned error: %v", err)
	}
	if m.State() != StateRunTestIdle {
		t.Fatalf("State() = %s, want %s", m.State(), StateRunTestIdle)
	}

	if _, err := m.GoTo(State(77)); err == nil {
		t.Fatalf("expected error for invalid target")
	}
}

func TestGoToEveryStateFromEveryState(t *testing.T) {
	for from := State(0); from < numStates; from++ {
		for to := State(0); to < numStates; to++ {
			m := &StateMachine{state: from}
			seq, err := m.GoTo(to)
			if err != nil {
				t.Fatalf("GoTo(%s -> %s): %v", from, to, err)
			}
			if m.State() != to {
				t.Fatalf("GoTo(%s -> %s) ended in %s", from, to, m.State())
			}
			// Any state is reachable within the reset depth plus the longest
			// path out of Test-Logic-Reset.
			if len(seq.TMS) > 9 {
				t.Fatalf("GoTo(%s -> %s) took %d clocks", from, to, len(seq.TMS))
			}
		}
	}
}
