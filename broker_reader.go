package wrcgw

import (
	"context"
	"encoding/json"

	"github.com/sirupsen/logrus"
)

// BrokerReader subscribes to the reader channel and decodes inbound JSON
// into Actions, broadcasting each to out. It reconnects with AdaptivePoll
// backoff on any connection error (spec.md §4.6/§7).
type BrokerReader struct {
	uri   string
	queue string
	out   *ActionBroadcaster
	cfg   *Config
}

// NewBrokerReader builds a reader against uri/queue, broadcasting decoded
// actions to out.
func NewBrokerReader(uri, queue string, out *ActionBroadcaster, cfg *Config) *BrokerReader {
	return &BrokerReader{uri: uri, queue: queue, out: out, cfg: cfg}
}

// Run loops until ctx is cancelled.
func (r *BrokerReader) Run(ctx context.Context) {
	poll := NewAdaptivePoll(r.cfg.brokerReconnect, r.cfg.brokerReconnect)
	for ctx.Err() == nil {
		driver, err := DialBroker(r.uri, r.queue)
		if err != nil {
			logf(logrus.Fields{"uri": r.uri, "err": err.Error()}).Warn("broker reader connect failed, retrying")
			poll.Sleep()
			continue
		}
		poll.Reset()
		r.loop(ctx, newMetricsDriver(driver, r.cfg.metrics))
		driver.Close()
	}
}

func (r *BrokerReader) loop(ctx context.Context, driver Driver) {
	for ctx.Err() == nil {
		payload, err := driver.Receive()
		if err != nil {
			if err == errBrokerTimeout {
				continue
			}
			logf(logrus.Fields{"uri": r.uri, "err": err.Error()}).Warn("broker receive failed, reconnecting")
			return
		}
		action, ok := decodeAction(payload)
		if !ok {
			continue
		}
		if action != nil {
			r.out.Publish(action)
		}
	}
}

// decodeAction dispatches a raw broker payload on its handlerName. ok is
// false only on malformed JSON (logged and dropped); a recognized
// ack/receive handler name or an unknown one yields (nil, true) — both are
// silently ignored per spec.md §4.6.
func decodeAction(payload []byte) (action Action, ok bool) {
	var probe envelope
	if err := json.Unmarshal(payload, &probe); err != nil {
		logf(logrus.Fields{"err": err.Error()}).Warn("malformed broker JSON, dropping")
		return nil, false
	}

	switch probe.HandlerName {
	case TopicWrenchSerialInit:
		var m bindRequest
		if err := json.Unmarshal(payload, &m); err != nil {
			logf(logrus.Fields{"err": err.Error()}).Warn("malformed BindRequest, dropping")
			return nil, false
		}
		return ActionBindWrench{MsgID: m.MsgID, ConnectID: m.MsgTxt.ProductSerialNo}, true

	case TopicWrenchConnection:
		var m connectRequest
		if err := json.Unmarshal(payload, &m); err != nil {
			logf(logrus.Fields{"err": err.Error()}).Warn("malformed ConnectRequest, dropping")
			return nil, false
		}
		serial, err := ParseSerialHex(m.MsgTxt.WrenchSerial)
		if err != nil {
			// A response is always expected for this topic, so a bad hex
			// serial still becomes an action: the zero serial never
			// resolves to a real wrench, so it flows through the normal
			// ActionCheckConnect path as a negative ConnectResponse
			// instead of being silently swallowed (spec.md §7).
			logf(logrus.Fields{"wrench_serial": m.MsgTxt.WrenchSerial}).Warn("malformed hex serial in ConnectRequest, reporting not-connected")
			return ActionCheckConnect{MsgID: m.MsgID, WrenchSerial: Serial{}}, true
		}
		return ActionCheckConnect{MsgID: m.MsgID, WrenchSerial: serial}, true

	case TopicWrenchTaskUpSend:
		var m taskRequest
		if err := json.Unmarshal(payload, &m); err != nil {
			logf(logrus.Fields{"err": err.Error()}).Warn("malformed TaskRequest, dropping")
			return nil, false
		}
		return ActionSendTask{MsgID: m.MsgID, Tasks: m.MsgTxt}, true

	case TopicWrenchTaskCancel:
		var m taskCancel
		if err := json.Unmarshal(payload, &m); err != nil {
			logf(logrus.Fields{"err": err.Error()}).Warn("malformed TaskCancel, dropping")
			return nil, false
		}
		serial, err := ParseSerialHex(m.MsgTxt.WrenchSerial)
		if err != nil {
			logf(logrus.Fields{"wrench_serial": m.MsgTxt.WrenchSerial}).Warn("malformed hex serial in TaskCancel, dropping")
			return nil, true
		}
		return ActionTaskCancel{WrenchSerial: serial, TaskID: m.MsgTxt.TaskID}, true

	case TopicWrenchSerialInitAsk, TopicWrenchConnectionAsk, TopicWrenchTaskUpAsk,
		TopicWrenchWorkCollection, TopicWrenchOtherCollection:
		return nil, true

	default:
		logf(logrus.Fields{"handler_name": probe.HandlerName}).Warn("unknown broker handler name, dropping")
		return nil, true
	}
}
