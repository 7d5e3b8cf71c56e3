package wrcgw

import (
	"errors"
	"strconv"
	"strings"
)

// ErrBadTaskParam is returned by ParseTaskRequest when a numeric field of a
// taskRequestMsg fails to parse (an empty decimal field scales to 0 and is
// accepted; an empty integer field is rejected); the whole batch is rejected
// per spec.md §7 ("reject entire task batch").
var ErrBadTaskParam = errors.New("wrcgw: malformed task parameter")

// ParseTaskRequest converts one broker-side task request into a WrenchTask
// with scaled-integer parameters, per spec.md §4.4's decimal-to-integer
// rule (torque-like fields use N=3, angle fields use N=1).
func ParseTaskRequest(msgID string, m taskRequestMsg) (*WrenchTask, error) {
	torque, err := ScaleDecimal(m.Torque, 3)
	if err != nil {
		return nil, errBadParam("torque", err)
	}
	torqueAngleStart, err := ScaleDecimal(m.TorqueAngleStart, 3)
	if err != nil {
		return nil, errBadParam("torqueAngleStart", err)
	}
	torqueUp, err := ScaleDecimal(m.TorqueDeviationUp, 3)
	if err != nil {
		return nil, errBadParam("torqueDeviationUp", err)
	}
	torqueDown, err := ScaleDecimal(m.TorqueDeviationDown, 3)
	if err != nil {
		return nil, errBadParam("torqueDeviationDown", err)
	}
	angle, err := ScaleDecimal(m.Angle, 1)
	if err != nil {
		return nil, errBadParam("angle", err)
	}
	angleUp, err := ScaleDecimal(m.AngleDeviationUp, 1)
	if err != nil {
		return nil, errBadParam("angleDeviationUp", err)
	}
	angleDown, err := ScaleDecimal(m.AngleDeviationDown, 1)
	if err != nil {
		return nil, errBadParam("angleDeviationDown", err)
	}

	boltNum, err := strconv.ParseUint(m.BoltNum, 10, 32)
	if err != nil {
		return nil, errBadParam("boltNum", err)
	}
	repeatCount, err := strconv.ParseUint(m.RepeatCount, 10, 8)
	if err != nil {
		return nil, errBadParam("repeatCount", err)
	}
	controlMode, err := strconv.ParseUint(m.ControlMode, 10, 8)
	if err != nil {
		return nil, errBadParam("controlMode", err)
	}
	workMode, err := strconv.ParseUint(m.WorkMode, 10, 8)
	if err != nil {
		return nil, errBadParam("workMode", err)
	}
	unit, err := strconv.ParseUint(m.Unit, 10, 8)
	if err != nil {
		return nil, errBadParam("unit", err)
	}

	return &WrenchTask{
		RedisTaskID:     m.TaskID,
		RedisTaskDetail: m.TaskDetailID,
		MsgID:           msgID,
		Params: TaskParams{
			Torque:           torque,
			TorqueAngleStart: torqueAngleStart,
			TorqueUpperTol:   torqueUp,
			TorqueLowerTol:   torqueDown,
			Angle:            angle,
			AngleUpperTol:    angleUp,
			AngleLowerTol:    angleDown,
			BoltNum:          uint32(boltNum),
			RepeatCount:      uint8(repeatCount),
			ControlMode:      uint8(controlMode),
			WorkMode:         uint8(workMode),
			Unit:             uint8(unit),
		},
	}, nil
}

func errBadParam(field string, cause error) error {
	return &taskParamError{field: field, cause: cause}
}

type taskParamError struct {
	field string
	cause error
}

func (e *taskParamError) Error() string {
	return "wrcgw: malformed task parameter " + e.field + ": " + e.cause.Error()
}

func (e *taskParamError) Unwrap() error { return ErrBadTaskParam }

// unscale is the inverse of ScaleDecimal: it renders a scaled integer back
// into the decimal-string form the broker expects (spec.md §4.6). n=0
// passes the value through unchanged.
func unscale(v int64, n int) string {
	if n == 0 {
		return strconv.FormatInt(v, 10)
	}

	neg := v < 0
	if neg {
		v = -v
	}

	digits := strconv.FormatInt(v, 10)
	for len(digits) <= n {
		digits = "0" + digits
	}

	whole := digits[:len(digits)-n]
	frac := digits[len(digits)-n:]

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	b.WriteString(whole)
	b.WriteByte('.')
	b.WriteString(frac)
	return b.String()
}
