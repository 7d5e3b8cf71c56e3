package wrcgw

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// BrokerWriter drains reports emitted by every wrench manager and
// publishes them to the writer channel as JSON, reconnecting with backoff
// on any connection error (spec.md §4.6/§7).
type BrokerWriter struct {
	uri   string
	queue string
	in    <-chan Report
	cfg   *Config
}

// NewBrokerWriter builds a writer against uri/queue, draining reports from in.
func NewBrokerWriter(uri, queue string, in <-chan Report, cfg *Config) *BrokerWriter {
	return &BrokerWriter{uri: uri, queue: queue, in: in, cfg: cfg}
}

// Run loops until ctx is cancelled.
func (w *BrokerWriter) Run(ctx context.Context) {
	poll := NewAdaptivePoll(w.cfg.brokerReconnect, w.cfg.brokerReconnect)
	for ctx.Err() == nil {
		driver, err := DialBroker(w.uri, w.queue)
		if err != nil {
			logf(logrus.Fields{"uri": w.uri, "err": err.Error()}).Warn("broker writer connect failed, retrying")
			poll.Sleep()
			continue
		}
		poll.Reset()
		w.loop(ctx, newMetricsDriver(driver, w.cfg.metrics))
		driver.Close()
	}
}

func (w *BrokerWriter) loop(ctx context.Context, driver Driver) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-w.in:
			if !ok {
				return
			}
			payload, err := encodeReport(r)
			if err != nil || payload == nil {
				continue
			}
			if err := driver.Publish(payload); err != nil {
				logf(logrus.Fields{"uri": w.uri, "err": err.Error()}).Warn("broker publish failed, reconnecting")
				return
			}
		}
	}
}

func nowStamp() string {
	return time.Now().Format("2006-01-02 15:04:05")
}

func newMsgID() string {
	return uuid.New().String()
}

func baseEnvelope(handlerName string) envelope {
	return envelope{
		MsgID:       newMsgID(),
		HandlerName: handlerName,
		CurrentTime: nowStamp(),
	}
}

// encodeReport serializes one Report into its broker JSON wire shape.
// Returns (nil, nil) for report types that have no broker-facing encoding
// (there are none currently, but the switch is exhaustive for clarity).
func encodeReport(r Report) ([]byte, error) {
	switch v := r.(type) {
	case ReportBindResponse:
		msg := bindResponse{
			envelope: baseEnvelope(TopicWrenchSerialInitAsk),
			MsgTxt: bindResponseMsg{
				ProductSerialNo: v.ConnectID,
				WrenchSerial:    v.WrenchSerial.String(),
				MsgID:           v.MsgID,
			},
		}
		return json.Marshal(msg)

	case ReportConnectStatus:
		msg := connectResponse{
			envelope: baseEnvelope(TopicWrenchConnectionAsk),
			MsgTxt: connectResponseMsg{
				WrenchSerial: v.Serial.String(),
				Status:       statusString(v.Status),
				Desc:         connectDesc(v.Status),
				MsgID:        v.MsgID,
			},
		}
		return json.Marshal(msg)

	case ReportTaskResponse:
		msg := taskResponse{
			envelope: baseEnvelope(TopicWrenchTaskUpAsk),
			MsgTxt: taskResponseMsg{
				WrenchSerial: v.WrenchSerial.String(),
				Status:       statusString(v.Status),
				Desc:         taskResponseDesc(v.Status),
				MsgID:        v.MsgID,
			},
		}
		return json.Marshal(msg)

	case ReportTaskFinished:
		msg := taskStatus{
			envelope: baseEnvelope(TopicWrenchWorkCollection),
			MsgTxt: taskStatusMsg{
				MsgID:        v.MsgID,
				TaskID:       v.TaskID,
				TaskDetailID: v.TaskDetail,
				WrenchSerial: v.Serial.String(),
				Torque:       unscale(int64(v.Torque), 3),
				Angle:        unscale(int64(v.Angle), 1),
				Status:       statusString(v.Status),
				StartDate:    v.StartDate.Format("2006-01-02 15:04:05"),
				EndDate:      v.EndDate.Format("2006-01-02 15:04:05"),
				WorkTime:     v.EndDate.Sub(v.StartDate).String(),
			},
		}
		return json.Marshal(msg)

	case ReportConnectionTimeout:
		msg := miscInfo{
			envelope: baseEnvelope(TopicWrenchOtherCollection),
			MsgTxt: miscInfoMsg{
				WrenchSerial: v.Serial.String(),
				MsgType:      "3",
				Status:       "2",
			},
		}
		return json.Marshal(msg)

	case ReportBasicStatus:
		msg := miscInfo{
			envelope: baseEnvelope(TopicWrenchOtherCollection),
			MsgTxt: miscInfoMsg{
				WrenchSerial: v.Serial.String(),
				MsgType:      "0",
				Voltage:      unscale(int64(v.Voltage), 0),
				StorageNum:   unscale(int64(v.StorageNum), 0),
				UseTime:      v.UseTime.String(),
			},
		}
		return json.Marshal(msg)

	default:
		return nil, nil
	}
}

func connectDesc(ok bool) string {
	if ok {
		return "connected"
	}
	return "connect failed"
}

func taskResponseDesc(ok bool) string {
	if ok {
		return "accepted"
	}
	return "rejected"
}
