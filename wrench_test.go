package wrcgw

import (
	"testing"
	"time"
)

func testConfig() *Config {
	return applyConfig(nil)
}

func serialOf(n uint64) Serial {
	var s Serial
	for i := 15; i >= 8 && n > 0; i-- {
		s[i] = byte(n)
		n >>= 8
	}
	return s
}

// S2: serial-learning flow is exercised at the Registry level; OnSerial
// alone must create a context and populate both registry maps.
func TestRegistrySerialLearning(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	r.NoteProbe(0x01020304, now)
	if _, ok := r.LookupByMAC(0x01020304); ok {
		t.Fatalf("context should not exist before InfoSerial arrives")
	}

	serial := serialOf(0xDEADBEEF)
	wc, migrated, created := r.OnSerial(0x01020304, serial, now)
	if !created || migrated {
		t.Fatalf("expected created=true migrated=false, got created=%v migrated=%v", created, migrated)
	}
	if wc.Serial() != serial {
		t.Fatalf("serial = %x, want %x", wc.Serial(), serial)
	}
	if got, ok := r.LookupByMAC(0x01020304); !ok || got != wc {
		t.Fatalf("mac->serial not populated")
	}
	if got, ok := r.LookupBySerial(serial); !ok || got != wc {
		t.Fatalf("serial->ctx not populated")
	}
}

func buildS3Task() *WrenchTask {
	torque, _ := ScaleDecimal("10.000", 3)
	upper, _ := ScaleDecimal("0.500", 3)
	lower, _ := ScaleDecimal("0.500", 3)
	return &WrenchTask{
		RedisTaskID: "R1",
		MsgID:       "m1",
		Params: TaskParams{
			Torque:         torque,
			TorqueUpperTol: upper,
			TorqueLowerTol: lower,
			BoltNum:        1,
			ControlMode:    0,
			WorkMode:       0,
			Unit:           0,
		},
	}
}

// S3: task accept -> single bolt pass.
func TestTaskAcceptAndSingleBoltPass(t *testing.T) {
	cfg := testConfig()
	wc := NewWrenchContext(serialOf(0xDEADBEEF), 0x01020304)
	wc.AcceptBatch([]*WrenchTask{buildS3Task()})

	out := make(chan WRCPacket, 4)
	reports := make(chan Report, 4)
	now := time.Now()

	wc.lastSend = now.Add(-cfg.pollInterval - time.Second)
	wc.lastReport = now
	wc.Tick(now, cfg, out, reports)

	var setJoint *SetJointPayload
	drain := func(ch chan WRCPacket) []WRCPacket {
		pkts := make([]WRCPacket, 0, len(ch))
		for {
			select {
			case p := <-ch:
				pkts = append(pkts, p)
			default:
				return pkts
			}
		}
	}
	for _, p := range drain(out) {
		if sj, ok := p.Payload.(SetJointPayload); ok {
			v := sj
			setJoint = &v
		}
	}
	if setJoint == nil {
		t.Fatalf("expected a SetJoint packet after task acceptance")
	}
	if setJoint.TorqueSetpoint != 10000 || setJoint.TorqueUpperTol != 500 || setJoint.TorqueLowerTol != 500 {
		t.Fatalf("unexpected SetJoint torque fields: %+v", setJoint)
	}
	if setJoint.TaskRepeatTimes != 1 || setJoint.TaskID != 1 {
		t.Fatalf("unexpected SetJoint task fields: %+v", setJoint)
	}
	if setJoint.FDT != -1 || setJoint.FDA != -1 {
		t.Fatalf("expected fdt=-1 fda=-1 sentinels, got fdt=%d fda=%d", setJoint.FDT, setJoint.FDA)
	}
	if wc.Status() != Working {
		t.Fatalf("status = %v, want Working", wc.Status())
	}

	wc.ProcessInlineJointData([]InlineJointDataPayload{
		{TaskID: 1, JointID: 0, Torque: 10100, Angle: 900, Flag: InlineJointDataFlag(0x3)},
	}, reports, time.Now())

	var finished *ReportTaskFinished
	for {
		select {
		case r := <-reports:
			if tf, ok := r.(ReportTaskFinished); ok {
				finished = &tf
			}
		default:
			goto doneDrain
		}
	}
doneDrain:
	if finished == nil {
		t.Fatalf("expected a TaskFinished report")
	}
	if !finished.Status {
		t.Fatalf("expected status=true (in tolerance), got false")
	}

	wc.Tick(time.Now(), cfg, out, reports)
	if wc.Status() != Connected {
		t.Fatalf("status after single-bolt completion = %v, want Connected", wc.Status())
	}
}

// S4: out-of-tolerance joint does not close the task.
func TestTaskOutOfTolerance(t *testing.T) {
	wc := NewWrenchContext(serialOf(0xDEADBEEF), 0x01020304)
	wc.AcceptBatch([]*WrenchTask{buildS3Task()})
	wc.mu.Lock()
	wc.currentTask = wc.pendingTask[0]
	wc.pendingTask = nil
	wc.status = Working
	wc.mu.Unlock()

	reports := make(chan Report, 4)
	wc.ProcessInlineJointData([]InlineJointDataPayload{
		{TaskID: 1, JointID: 0, Torque: 12000, Angle: 900, Flag: InlineJointDataFlag(0x3)},
	}, reports, time.Now())

	var finished *ReportTaskFinished
	select {
	case r := <-reports:
		if tf, ok := r.(ReportTaskFinished); ok {
			finished = &tf
		}
	default:
	}
	if finished == nil {
		t.Fatalf("expected a TaskFinished report")
	}
	if finished.Status {
		t.Fatalf("expected status=false (out of tolerance)")
	}
	if wc.currentTask.passedCount() != 0 {
		t.Fatalf("passed_count = %d, want 0", wc.currentTask.passedCount())
	}
}

// S5: MAC migration while Working recovers the in-flight task.
func TestMACMigrationRecovery(t *testing.T) {
	r := NewRegistry()
	now := time.Now()

	wrenchSerial := serialOf(0x53)
	wc, _, _ := r.OnSerial(0x01, wrenchSerial, now)
	wc.AcceptBatch([]*WrenchTask{buildS3Task()})
	wc.mu.Lock()
	wc.currentTask = wc.pendingTask[0]
	wc.currentTask.WrenchTaskID = 7
	wc.pendingTask = nil
	wc.status = Working
	wc.lastSendID = 3
	wc.mu.Unlock()

	gotWC, migrated, created := r.OnSerial(0x02, wrenchSerial, now)
	if created || !migrated {
		t.Fatalf("expected migrated=true created=false, got created=%v migrated=%v", created, migrated)
	}
	if gotWC != wc {
		t.Fatalf("expected same context to be returned across migration")
	}

	if _, ok := r.LookupByMAC(0x01); ok {
		t.Fatalf("stale mac binding should have been dropped")
	}
	if got, ok := r.LookupByMAC(0x02); !ok || got != wc {
		t.Fatalf("new mac binding missing")
	}

	out := make(chan WRCPacket, 4)
	reports := make(chan Report, 4)
	wc.Reconnect(0x02, out, reports, now)

	if wc.Status() != Working {
		t.Fatalf("status after reconnect = %v, want Working", wc.Status())
	}

	var sawClear, sawSetJoint bool
	for i := 0; i < 2; i++ {
		select {
		case p := <-out:
			if p.Flag.Type() == TypeClearJointData {
				sawClear = true
			}
			if sj, ok := p.Payload.(SetJointPayload); ok {
				sawSetJoint = true
				if sj.TaskID != 7 {
					t.Fatalf("SetJoint.TaskID = %d, want 7", sj.TaskID)
				}
			}
		default:
		}
	}
	if !sawClear || !sawSetJoint {
		t.Fatalf("expected ClearJointData then SetJoint, got clear=%v setjoint=%v", sawClear, sawSetJoint)
	}

	var sawConnectStatus bool
	select {
	case r := <-reports:
		if cs, ok := r.(ReportConnectStatus); ok && cs.Status {
			sawConnectStatus = true
		}
	default:
	}
	if !sawConnectStatus {
		t.Fatalf("expected ConnectStatus{status=true}")
	}
}

// S6: cancelling the in-flight task clears it and purges matching pending tasks.
func TestCancelInFlight(t *testing.T) {
	wc := NewWrenchContext(serialOf(0xDEADBEEF), 0x01020304)
	task := buildS3Task()
	task.RedisTaskID = "R42"
	other := buildS3Task()
	other.RedisTaskID = "R43"

	wc.mu.Lock()
	wc.currentTask = task
	wc.status = Working
	wc.pendingTask = []*WrenchTask{
		{RedisTaskID: "R42"},
		other,
	}
	wc.mu.Unlock()

	out := make(chan WRCPacket, 4)
	wc.CancelTask("R42", out)

	if wc.Status() != Connected {
		t.Fatalf("status after cancel = %v, want Connected", wc.Status())
	}
	wc.mu.Lock()
	if wc.currentTask != nil {
		t.Fatalf("current_task should be nil after cancel")
	}
	if len(wc.pendingTask) != 1 || wc.pendingTask[0].RedisTaskID != "R43" {
		t.Fatalf("pending_task should only retain R43, got %+v", wc.pendingTask)
	}
	wc.mu.Unlock()

	select {
	case p := <-out:
		if p.Flag.Type() != TypeClearJointData {
			t.Fatalf("expected ClearJointData, got type %v", p.Flag.Type())
		}
	default:
		t.Fatalf("expected a ClearJointData packet")
	}
}

func TestAssertOKControlModes(t *testing.T) {
	torqueOnly := TaskParams{Torque: 1000, TorqueUpperTol: 100, TorqueLowerTol: 100, ControlMode: 0}
	if !AssertOK(torqueOnly, JointData{Torque: 1050, Angle: 30000}) {
		t.Fatalf("control_mode=0 should ignore angle")
	}
	if AssertOK(torqueOnly, JointData{Torque: 1200, Angle: 0}) {
		t.Fatalf("control_mode=0 should reject out-of-tolerance torque")
	}

	angleOnly := TaskParams{Angle: 900, AngleUpperTol: 50, AngleLowerTol: 50, ControlMode: 1}
	if !AssertOK(angleOnly, JointData{Torque: 999999, Angle: 920}) {
		t.Fatalf("control_mode=1 should ignore torque")
	}

	both := TaskParams{Torque: 1000, TorqueUpperTol: 100, TorqueLowerTol: 100, Angle: 900, AngleUpperTol: 50, AngleLowerTol: 50, ControlMode: 2}
	if !AssertOK(both, JointData{Torque: 1050, Angle: 920}) {
		t.Fatalf("control_mode=2 should pass when both are in tolerance")
	}
	if AssertOK(both, JointData{Torque: 1050, Angle: 1000}) {
		t.Fatalf("control_mode=2 should fail when angle is out of tolerance")
	}
}

func TestScaleDecimal(t *testing.T) {
	cases := []struct {
		in   string
		n    int
		want int32
	}{
		{"10.000", 3, 10000},
		{"0.500", 3, 500},
		{"-0.500", 3, -500},
		{"1", 3, 1000},
		{"", 3, 0},
		{"90.0", 1, 900},
		{"12", 1, 120},
	}
	for _, c := range cases {
		got, err := ScaleDecimal(c.in, c.n)
		if err != nil {
			t.Fatalf("ScaleDecimal(%q, %d) error: %v", c.in, c.n, err)
		}
		if got != c.want {
			t.Fatalf("ScaleDecimal(%q, %d) = %d, want %d", c.in, c.n, got, c.want)
		}
	}
}

func TestDisconnectAndReconnectGrace(t *testing.T) {
	cfg := testConfig()
	wc := NewWrenchContext(serialOf(1), 1)
	out := make(chan WRCPacket, 4)
	reports := make(chan Report, 4)

	past := time.Now().Add(-cfg.disconnectTimeout - time.Second)
	wc.mu.Lock()
	wc.lastRecv = past
	wc.mu.Unlock()

	wc.Tick(time.Now(), cfg, out, reports)
	if wc.Status() != Disconnected {
		t.Fatalf("status = %v, want Disconnected", wc.Status())
	}

	select {
	case r := <-reports:
		if _, ok := r.(ReportConnectionTimeout); !ok {
			t.Fatalf("expected ReportConnectionTimeout, got %T", r)
		}
	default:
		t.Fatalf("expected a ConnectionTimeout report")
	}

	wc.mu.Lock()
	wc.lastRecv = time.Now()
	wc.mu.Unlock()
	wc.Tick(time.Now(), cfg, out, reports)
	if wc.Status() != Connected {
		t.Fatalf("status after reconnect tick = %v, want Connected", wc.Status())
	}
}
