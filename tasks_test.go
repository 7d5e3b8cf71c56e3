package wrcgw

import (
	"errors"
	"testing"
)

func validTaskRequestMsg() taskRequestMsg {
	return taskRequestMsg{
		TaskID:              "T1",
		TaskDetailID:        "T1-1",
		WrenchSerial:        "AABBCCDD",
		ControlMode:         "0",
		WorkMode:            "0",
		BoltNum:             "1",
		RepeatCount:         "1",
		Torque:              "10.000",
		TorqueDeviationUp:   "0.500",
		TorqueDeviationDown: "0.500",
		TorqueAngleStart:    "0",
		Angle:               "0",
		AngleDeviationUp:    "0",
		AngleDeviationDown:  "0",
		Unit:                "0",
	}
}

func TestParseTaskRequestAccepts(t *testing.T) {
	task, err := ParseTaskRequest("m1", validTaskRequestMsg())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if task.Params.Torque != 10000 {
		t.Errorf("torque = %d, want 10000", task.Params.Torque)
	}
	if task.Params.TorqueUpperTol != 500 || task.Params.TorqueLowerTol != 500 {
		t.Errorf("tolerances = %d/%d, want 500/500", task.Params.TorqueUpperTol, task.Params.TorqueLowerTol)
	}
	if task.Params.BoltNum != 1 {
		t.Errorf("boltNum = %d, want 1", task.Params.BoltNum)
	}
	if task.RedisTaskID != "T1" || task.RedisTaskDetail != "T1-1" || task.MsgID != "m1" {
		t.Errorf("unexpected task identity: %+v", task)
	}
}

func TestParseTaskRequestRejectsBadDecimal(t *testing.T) {
	m := validTaskRequestMsg()
	m.Torque = "not-a-number"

	_, err := ParseTaskRequest("m1", m)
	if err == nil {
		t.Fatal("expected an error for a malformed torque field")
	}
	if !errors.Is(err, ErrBadTaskParam) {
		t.Errorf("expected errors.Is(err, ErrBadTaskParam), got %v", err)
	}
}

func TestParseTaskRequestRejectsBadInteger(t *testing.T) {
	m := validTaskRequestMsg()
	m.BoltNum = "one"

	_, err := ParseTaskRequest("m1", m)
	if !errors.Is(err, ErrBadTaskParam) {
		t.Errorf("expected errors.Is(err, ErrBadTaskParam), got %v", err)
	}
}

func TestScaleDecimalAndUnscaleRoundTrip(t *testing.T) {
	cases := []struct {
		s string
		n int
	}{
		{"10.000", 3},
		{"0.500", 3},
		{"-0.500", 3},
		{"90.0", 1},
	}
	for _, c := range cases {
		scaled, err := ScaleDecimal(c.s, c.n)
		if err != nil {
			t.Fatalf("ScaleDecimal(%q, %d): %v", c.s, c.n, err)
		}
		back := unscale(int64(scaled), c.n)
		rescaled, err := ScaleDecimal(back, c.n)
		if err != nil {
			t.Fatalf("ScaleDecimal(unscale(...)): %v", err)
		}
		if rescaled != scaled {
			t.Errorf("round trip mismatch for %q: scaled=%d unscaled=%q rescaled=%d", c.s, scaled, back, rescaled)
		}
	}
}

func TestUnscaleZeroN(t *testing.T) {
	if got := unscale(42, 0); got != "42" {
		t.Errorf("unscale(42, 0) = %q, want \"42\"", got)
	}
}
