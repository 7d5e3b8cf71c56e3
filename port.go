package wrcgw

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/tarm/serial"
)

// PortWorker owns one serial device: it reads framed WRC packets off the
// wire and writes encoded ones back, reconnecting the underlying device on
// any I/O failure (spec.md §4.2).
type PortWorker struct {
	name string
	cfg  *Config

	In  chan WRCPacket // decoded packets read from the wire
	Out chan WRCPacket // packets to encode and write

	metrics Metrics
}

// NewPortWorker builds a worker for the named device. The caller owns
// starting it via Run and is responsible for draining In / feeding Out.
func NewPortWorker(name string, cfg *Config) *PortWorker {
	return &PortWorker{
		name:    name,
		cfg:     cfg,
		In:      make(chan WRCPacket, 64),
		Out:     make(chan WRCPacket, 64),
		metrics: cfg.metrics,
	}
}

// openPort retries serial.OpenPort at cfg.portOpenRetry until it succeeds or
// ctx is cancelled.
func (w *PortWorker) openPort(ctx context.Context) (*serial.Port, error) {
	poll := NewAdaptivePoll(w.cfg.portOpenRetry, w.cfg.portOpenRetry)
	cfg := &serial.Config{
		Name:        w.name,
		Baud:        w.cfg.serialBaud,
		ReadTimeout: w.cfg.serialReadTimeout,
	}
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		p, err := serial.OpenPort(cfg)
		if err == nil {
			return p, nil
		}
		logf(logrus.Fields{"port": w.name, "err": err.Error()}).Warn("opening serial port failed, retrying")
		poll.Sleep()
	}
}

// Run opens the device and loops until ctx is cancelled, reconnecting on
// any read/write error. It never returns until the context is done.
func (w *PortWorker) Run(ctx context.Context) {
	for ctx.Err() == nil {
		port, err := w.openPort(ctx)
		if err != nil {
			return
		}
		logf(logrus.Fields{"port": w.name}).Info("serial port opened")
		w.readWriteLoop(ctx, port)
		port.Close()
	}
}

// readWriteLoop runs until the device errors out or ctx is cancelled, then
// returns so Run can reopen the device.
func (w *PortWorker) readWriteLoop(ctx context.Context, port io.ReadWriter) {
	readErr := make(chan error, 1)
	frames := make(chan []byte, 8)

	go w.readFrames(ctx, port, frames, readErr)

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if err != nil {
				logf(logrus.Fields{"port": w.name, "err": err.Error()}).Warn("serial read failed, reopening port")
			}
			return
		case frame := <-frames:
			w.handleFrame(frame)
		case pkt := <-w.Out:
			data := EncodeWRCPacket(pkt)
			encoded := EncodeFrame(data, ControlWRC)
			if _, err := port.Write(encoded); err != nil {
				logf(logrus.Fields{"port": w.name, "err": err.Error()}).Warn("serial write failed, reopening port")
				return
			}
			if w.metrics != nil {
				w.metrics.IncrementPacketsWritten()
			}
		}
	}
}

// readFrames reads the device one byte at a time, dropping leading bytes
// that aren't a recognized SM7 control prefix and accumulating until the
// 0x80 end marker, exactly as spec.md §4.2 prescribes. Each full frame is
// pushed to frames; a read error or EOF ends the goroutine via readErr.
func (w *PortWorker) readFrames(ctx context.Context, port io.Reader, frames chan<- []byte, readErr chan<- error) {
	var buf []byte
	one := make([]byte, 1)

	for {
		if ctx.Err() != nil {
			readErr <- nil
			return
		}

		n, err := port.Read(one)
		if err != nil {
			readErr <- err
			return
		}
		if n == 0 {
			continue
		}

		b := one[0]
		if len(buf) == 0 && b != ControlUSBLocal && b != ControlWRC {
			continue
		}

		buf = append(buf, b)
		if b == frameEnd {
			select {
			case frames <- buf:
			case <-ctx.Done():
				readErr <- nil
				return
			}
			buf = nil
		}
	}
}

func (w *PortWorker) handleFrame(frame []byte) {
	control, data, err := DecodeFrame(frame)
	if err != nil {
		logf(logrus.Fields{"port": w.name, "err": err.Error()}).Debug("dropping unparsable frame")
		if w.metrics != nil {
			w.metrics.IncrementFramesDropped()
		}
		return
	}
	if control != ControlWRC {
		return
	}

	pkt, err := DecodeWRCPacket(data)
	if err != nil {
		logf(logrus.Fields{"port": w.name, "err": err.Error()}).Debug("dropping unparsable packet")
		if w.metrics != nil {
			w.metrics.IncrementFramesDropped()
		}
		return
	}
	if w.metrics != nil {
		w.metrics.IncrementPacketsRead()
	}

	select {
	case w.In <- pkt:
	default:
		// Manager fell behind; drop rather than block the read loop, the
		// next poll cycle will re-request whatever this packet reported.
		if w.metrics != nil {
			w.metrics.IncrementFramesDropped()
		}
	}
}
