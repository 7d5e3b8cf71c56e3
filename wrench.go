package wrcgw

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// WrenchStatus is the tagged state of a WrenchContext (spec.md §4.4).
type WrenchStatus int

const (
	Disconnected WrenchStatus = iota
	Connected
	Working
)

func (s WrenchStatus) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connected:
		return "connected"
	case Working:
		return "working"
	default:
		return "unknown"
	}
}

// JointData is one bolt-tightening cycle reported by a wrench. JointID is
// i32, not u16, so that cancellation can write the -1 sentinel (spec.md
// §9's "sentinel joint_id") into history without losing the record.
type JointData struct {
	JointID  int32
	UnixTime uint32
	Flag     InlineJointDataFlag
	Torque   int32
	Angle    int16
}

// TaskParams holds one work-order's scaled-integer targets and tolerances.
// Decimal strings are converted via ScaleDecimal before a TaskParams is built.
type TaskParams struct {
	Torque           int32
	TorqueUpperTol   int32
	TorqueLowerTol   int32
	TorqueAngleStart int32
	Angle            int32
	AngleUpperTol    int32
	AngleLowerTol    int32
	RepeatCount      uint8
	BoltNum          uint32
	WorkMode         uint8
	ControlMode      uint8
	Unit             uint8
}

// WrenchTask is one work-order and its accumulated results.
type WrenchTask struct {
	WrenchTaskID    uint16
	RedisTaskID     string
	RedisTaskDetail string
	MsgID           string
	Params          TaskParams
	JointsRecv      []JointData
	LastReport      time.Time
}

// passedCount returns how many joints in t.JointsRecv satisfy the pass
// predicate under t.Params.
func (t *WrenchTask) passedCount() int {
	n := 0
	for _, jd := range t.JointsRecv {
		if AssertOK(t.Params, jd) {
			n++
		}
	}
	return n
}

func (t *WrenchTask) hasJoint(jointID int32) bool {
	for _, jd := range t.JointsRecv {
		if jd.JointID == jointID {
			return true
		}
	}
	return false
}

// Report is the sum type of everything a WrenchContext can emit toward the
// broker writer. Concrete values are one of the Report* structs below.
type Report any

type ReportConnectStatus struct {
	MsgID  string
	Serial Serial
	Status bool
}

type ReportConnectionTimeout struct {
	Serial Serial
}

type ReportBasicStatus struct {
	Serial     Serial
	Voltage    uint16
	StorageNum uint16
	UseTime    time.Duration
}

type ReportTaskFinished struct {
	Serial     Serial
	MsgID      string
	TaskID     string
	TaskDetail string
	TaskSubID  int
	Torque     int32
	Angle      int32
	Status     bool
	StartDate  time.Time
	EndDate    time.Time
}

type ReportTaskResponse struct {
	MsgID        string
	WrenchSerial Serial
	Status       bool
}

type ReportBindResponse struct {
	MsgID        string
	ConnectID    string
	WrenchSerial Serial
}

// WrenchContext is the per-wrench connection manager and task execution
// state machine (spec.md §4.4), the core of this gateway.
type WrenchContext struct {
	mu sync.Mutex

	serial    Serial
	mac       uint32
	connectID string

	status WrenchStatus

	lastRecv   time.Time
	lastSend   time.Time
	lastReport time.Time

	onlineTime time.Duration
	voltage    uint16

	totalJoints uint16
	lastSendID  uint16

	currentTask  *WrenchTask
	pendingTask  []*WrenchTask
	finishedTask []*WrenchTask
}

// NewWrenchContext creates a context in the Connected state with
// last_recv, last_send and last_report set to now, since the context is
// only created in response to an InfoSerial receipt.
func NewWrenchContext(serial Serial, mac uint32) *WrenchContext {
	now := time.Now()
	return &WrenchContext{
		serial:     serial,
		mac:        mac,
		status:     Connected,
		lastRecv:   now,
		lastSend:   now,
		lastReport: now,
	}
}

func (wc *WrenchContext) Serial() Serial { return wc.serial }

func (wc *WrenchContext) MAC() uint32 {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.mac
}

func (wc *WrenchContext) Status() WrenchStatus {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.status
}

func (wc *WrenchContext) ConnectID() string {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	return wc.connectID
}

func (wc *WrenchContext) SetConnectID(id string) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.connectID = id
}

// OnPacketReceived updates last_recv; called by the port worker's dispatch
// loop for every packet attributed to this wrench, regardless of type.
func (wc *WrenchContext) OnPacketReceived(now time.Time) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.lastRecv = now
}

// OnEnergy updates the last known battery reading from an InfoEnergy packet.
func (wc *WrenchContext) OnEnergy(p InfoEnergyPayload) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.voltage = p.BatteryVoltageMV
}

// EnqueueTask appends a work-order to pending_task. The actual parameter
// validation and scaling happens before this call (see ParseTaskRequest);
// a task only reaches here once fully validated.
func (wc *WrenchContext) EnqueueTask(t *WrenchTask) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	wc.pendingTask = append(wc.pendingTask, t)
}

// nextTaskID returns a wrench_task_id one greater than the highest id seen
// across finished/current/pending, the gateway-assigned monotonic id
// distinct from the backend's own task id (spec.md §3).
func (wc *WrenchContext) nextTaskID() uint16 {
	var max uint16
	for _, t := range wc.finishedTask {
		if t.WrenchTaskID > max {
			max = t.WrenchTaskID
		}
	}
	if wc.currentTask != nil && wc.currentTask.WrenchTaskID > max {
		max = wc.currentTask.WrenchTaskID
	}
	for _, t := range wc.pendingTask {
		if t.WrenchTaskID > max {
			max = t.WrenchTaskID
		}
	}
	return max + 1
}

// CancelTask implements spec.md §4.4's cancellation: if the cancel targets
// current_task, clear it on the wire, drop it, mark received joints
// non-returnable, and always purge matching pending tasks.
func (wc *WrenchContext) CancelTask(redisTaskID string, out chan<- WRCPacket) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.currentTask != nil && wc.currentTask.RedisTaskID == redisTaskID {
		wc.clearTaskLocked(out)
		for i := range wc.currentTask.JointsRecv {
			wc.currentTask.JointsRecv[i].JointID = -1
		}
		wc.currentTask = nil
		wc.status = Connected
	}

	kept := wc.pendingTask[:0]
	for _, t := range wc.pendingTask {
		if t.RedisTaskID != redisTaskID {
			kept = append(kept, t)
		}
	}
	wc.pendingTask = kept
}

// clearTaskLocked emits ClearJointData with sequence_id=0 and resets the
// send-side counters (spec.md §4.4's clear_task). Caller holds wc.mu.
func (wc *WrenchContext) clearTaskLocked(out chan<- WRCPacket) {
	wc.lastSendID = 0
	wc.totalJoints = 0
	pkt := WRCPacket{
		SequenceID: 0,
		MAC:        wc.mac,
		Flag:       NewPacketFlag(true, false, TypeClearJointData),
		Payload:    nil,
	}
	sendPacket(out, pkt)
}

// sendTaskLocked emits SetJoint for current_task (spec.md §4.4's
// send_task). Caller holds wc.mu and must have set wc.currentTask already.
func (wc *WrenchContext) sendTaskLocked(out chan<- WRCPacket) {
	t := wc.currentTask
	wc.lastSendID++
	p := t.Params
	pkt := WRCPacket{
		SequenceID: wc.lastSendID,
		MAC:        wc.mac,
		Flag:       NewPacketFlag(true, false, TypeSetJoint),
		Payload: SetJointPayload{
			TorqueSetpoint:   p.Torque,
			TorqueAngleStart: p.TorqueAngleStart,
			TorqueUpperTol:   p.TorqueUpperTol,
			TorqueLowerTol:   p.TorqueLowerTol,
			Angle:            int16(p.Angle),
			AngleUpperTol:    int16(p.AngleUpperTol),
			AngleLowerTol:    int16(p.AngleLowerTol),
			FDT:              -1,
			FDA:              -1,
			TaskRepeatTimes:  uint16(p.BoltNum),
			TaskID:           t.WrenchTaskID,
			Flag:             NewJointDataFlag(JointDataMode(p.ControlMode), MethodClick, JointDataUnit(p.Unit)),
		},
	}
	sendPacket(out, pkt)
}

func sendPacket(out chan<- WRCPacket, pkt WRCPacket) {
	if out == nil {
		return
	}
	select {
	case out <- pkt:
	default:
		// Outbound queue is full; the next periodic tick will retry
		// whatever this packet was trying to accomplish (clear/set/poll
		// are all idempotent retries from the gateway's point of view).
	}
}

func sendReport(reports chan<- Report, r Report) {
	if reports == nil {
		return
	}
	select {
	case reports <- r:
	default:
	}
}

// Reconnect implements spec.md §4.4's MAC-migration recovery: the registry
// has already rebound mac->serial before calling this, so here the context
// only needs to reissue ClearJointData+SetJoint for any in-flight task and
// reset its send-side counters.
func (wc *WrenchContext) Reconnect(mac uint32, out chan<- WRCPacket, reports chan<- Report, now time.Time) {
	wc.mu.Lock()
	wc.mac = mac
	wc.lastRecv = now
	wc.lastSendID = 0
	wc.totalJoints = 0

	if wc.currentTask != nil {
		wc.status = Working
		wc.clearTaskLocked(out)
		wc.sendTaskLocked(out)
	} else {
		wc.status = Connected
	}
	serial := wc.serial
	wc.mu.Unlock()

	sendReport(reports, ReportConnectStatus{Serial: serial, Status: true})
}

// ProcessInlineJointData implements spec.md §4.4's InlineJointData batch
// handling: sort by joint_id, attribute each record to current_task or
// finished_task, de-duplicate, and emit one TaskFinished per newly-accepted
// record.
func (wc *WrenchContext) ProcessInlineJointData(batch []InlineJointDataPayload, reports chan<- Report, now time.Time) {
	wc.mu.Lock()
	defer wc.mu.Unlock()

	if wc.status != Working || wc.currentTask == nil {
		return
	}

	sorted := append([]InlineJointDataPayload(nil), batch...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].JointID < sorted[j].JointID })

	t := wc.currentTask
	for _, rec := range sorted {
		jointID := int32(rec.JointID)

		if rec.TaskID != t.WrenchTaskID {
			if !wc.inAnyFinished(jointID) {
				wc.totalJoints++
			}
			continue
		}
		if t.hasJoint(jointID) {
			continue
		}

		jd := JointData{
			JointID:  jointID,
			UnixTime: rec.UnixTime,
			Flag:     rec.Flag,
			Torque:   rec.Torque,
			Angle:    rec.Angle,
		}

		taskSubID := t.passedCount()
		status := AssertOK(t.Params, jd)
		start := t.LastReport
		end := now

		t.JointsRecv = append(t.JointsRecv, jd)
		wc.totalJoints++
		t.LastReport = now

		sendReport(reports, ReportTaskFinished{
			Serial:     wc.serial,
			MsgID:      t.MsgID,
			TaskID:     t.RedisTaskID,
			TaskDetail: t.RedisTaskDetail,
			TaskSubID:  taskSubID,
			Torque:     jd.Torque,
			Angle:      int32(jd.Angle),
			Status:     status,
			StartDate:  start,
			EndDate:    end,
		})
	}
}

func (wc *WrenchContext) inAnyFinished(jointID int32) bool {
	for _, t := range wc.finishedTask {
		if t.hasJoint(jointID) {
			return true
		}
	}
	return false
}

// Tick runs the periodic per-wrench state machine (spec.md §4.4), invoked
// at least once per second by the owning supervisor.
func (wc *WrenchContext) Tick(now time.Time, cfg *Config, out chan<- WRCPacket, reports chan<- Report) {
	wc.mu.Lock()

	if wc.status == Disconnected {
		if now.Sub(wc.lastRecv) < cfg.reconnectGrace {
			if wc.currentTask != nil {
				wc.status = Working
			} else {
				wc.status = Connected
			}
			serial := wc.serial
			wc.mu.Unlock()
			sendReport(reports, ReportConnectStatus{Serial: serial, Status: true})
			return
		}
		wc.mu.Unlock()
		return
	}

	if now.Sub(wc.lastRecv) > cfg.disconnectTimeout {
		wc.status = Disconnected
		serial := wc.serial
		wc.mu.Unlock()
		sendReport(reports, ReportConnectionTimeout{Serial: serial})
		return
	}

	if now.Sub(wc.lastReport) > cfg.reportInterval {
		wc.lastReport = now
		sendPacket(out, WRCPacket{
			MAC:  wc.mac,
			Flag: NewPacketFlag(true, false, TypeGetInfo),
			Payload: GetInfoPayload{
				Flag: NewGetInfoFlag(false, false, true, false, false),
			},
		})
		serial, voltage, storage := wc.serial, wc.voltage, wc.totalJoints
		online := wc.onlineTime
		wc.mu.Unlock()
		sendReport(reports, ReportBasicStatus{Serial: serial, Voltage: voltage, StorageNum: storage, UseTime: online})
		wc.mu.Lock()
	}

	if now.Sub(wc.lastSend) > cfg.pollInterval {
		wc.lastSend = now
		wc.lastSendID++
		sendPacket(out, WRCPacket{
			SequenceID: wc.lastSendID,
			MAC:        wc.mac,
			Flag:       NewPacketFlag(true, false, TypeGetJointData),
			Payload: GetJointDataPayload{
				JointIDStart: wc.totalJoints,
				JointCount:   1,
			},
		})
	}

	if wc.currentTask != nil {
		if wc.currentTask.passedCount() == int(wc.currentTask.Params.BoltNum) {
			wc.finishedTask = append(wc.finishedTask, wc.currentTask)
			wc.currentTask = nil
			wc.status = Connected
		}
	}

	if wc.status == Connected && len(wc.pendingTask) > 0 {
		wc.currentTask = wc.pendingTask[0]
		wc.pendingTask = wc.pendingTask[1:]
		wc.status = Working
		wc.sendTaskLocked(out)
	}

	wc.mu.Unlock()
}

// AcceptBatch assigns gateway task ids to every task in a validated batch
// and enqueues them. All-or-nothing: callers only invoke this once every
// task in the batch parsed successfully (spec.md §4.4/§7).
func (wc *WrenchContext) AcceptBatch(tasks []*WrenchTask) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	for _, t := range tasks {
		t.WrenchTaskID = wc.nextTaskID()
		t.LastReport = time.Now()
		wc.pendingTask = append(wc.pendingTask, t)
	}
}

// AssertOK implements spec.md §4.4's pass predicate with saturating bound
// arithmetic, matching the original `saturating_sub`/`saturating_add` on
// the tolerance window.
func AssertOK(p TaskParams, jd JointData) bool {
	torqueOK := func() bool {
		lo := saturatingSub32(p.Torque, p.TorqueLowerTol)
		hi := saturatingAdd32(p.Torque, p.TorqueUpperTol)
		return jd.Torque >= lo && jd.Torque <= hi
	}
	angleOK := func() bool {
		lo := saturatingSub32(p.Angle, p.AngleLowerTol)
		hi := saturatingAdd32(p.Angle, p.AngleUpperTol)
		a := int32(jd.Angle)
		return a >= lo && a <= hi
	}

	switch p.ControlMode {
	case 0:
		return torqueOK()
	case 1:
		return angleOK()
	default:
		return torqueOK() && angleOK()
	}
}

func saturatingAdd32(a, b int32) int32 {
	r := int64(a) + int64(b)
	if r > math.MaxInt32 {
		return math.MaxInt32
	}
	if r < math.MinInt32 {
		return math.MinInt32
	}
	return int32(r)
}

func saturatingSub32(a, b int32) int32 {
	r := int64(a) - int64(b)
	if r > math.MaxInt32 {
		return math.MaxInt32
	}
	if r < math.MinInt32 {
		return math.MinInt32
	}
	return int32(r)
}

// ScaleDecimal converts a decimal string to a scaled integer by taking the
// first n fractional digits and truncating the rest; an empty string
// scales to 0 (spec.md §4.4/§8 invariant 6).
func ScaleDecimal(s string, n int) (int32, error) {
	if s == "" {
		return 0, nil
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	intPart, fracPart, _ := strings.Cut(s, ".")
	whole, err := strconv.ParseInt(intPart, 10, 64)
	if err != nil && intPart != "" {
		return 0, err
	}

	result := whole
	for i := 0; i < n; i++ {
		result *= 10
		if i < len(fracPart) {
			d := int64(fracPart[i] - '0')
			if d < 0 || d > 9 {
				return 0, strconv.ErrSyntax
			}
			result += d
		}
	}

	if result > math.MaxInt32 || result < math.MinInt32 {
		return 0, strconv.ErrRange
	}
	if neg {
		result = -result
	}
	return int32(result), nil
}
