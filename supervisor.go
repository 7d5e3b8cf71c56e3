package wrcgw

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// WrenchManager owns one serial port: its PortWorker, its Registry of
// wrenches seen on that port, and the goroutine that attributes every
// inbound WRCPacket to the right context (spec.md §4.5: "each port owns
// its own wrench registry; no global wrench map exists").
type WrenchManager struct {
	name     string
	cfg      *Config
	port     *PortWorker
	registry *Registry
}

func newWrenchManager(name string, cfg *Config) *WrenchManager {
	return &WrenchManager{
		name:     name,
		cfg:      cfg,
		port:     NewPortWorker(name, cfg),
		registry: NewRegistry(),
	}
}

// run starts the port worker and the inbound-packet dispatch loop. It
// blocks until ctx is cancelled.
func (m *WrenchManager) run(ctx context.Context, reports chan<- Report) {
	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		m.port.Run(ctx)
	}()

	go func() {
		defer wg.Done()
		m.dispatchInbound(ctx, reports)
	}()

	wg.Wait()
}

// dispatchInbound attributes every decoded packet off the port's In channel
// to the matching WrenchContext, creating one on InfoSerial and recovering a
// MAC migration when the registry reports one (spec.md §4.3/§4.4).
func (m *WrenchManager) dispatchInbound(ctx context.Context, reports chan<- Report) {
	for {
		select {
		case <-ctx.Done():
			return
		case pkt, ok := <-m.port.In:
			if !ok {
				return
			}
			m.handlePacket(pkt, reports)
		}
	}
}

func (m *WrenchManager) handlePacket(pkt WRCPacket, reports chan<- Report) {
	now := time.Now()

	if info, ok := pkt.Payload.(InfoSerialPayload); ok {
		serial := SerialFromWire(info.Serial)
		wc, migrated, created := m.registry.OnSerial(pkt.MAC, serial, now)
		if wc == nil {
			return
		}
		if created {
			logf(logrus.Fields{"port": m.name, "serial": serial.String(), "mac": pkt.MAC}).Info("new wrench bound")
			return
		}
		if migrated {
			logf(logrus.Fields{"port": m.name, "serial": serial.String(), "mac": pkt.MAC}).Info("wrench reconnected under new MAC")
			wc.Reconnect(pkt.MAC, m.port.Out, reports, now)
		}
		return
	}

	wc, ok := m.registry.LookupByMAC(pkt.MAC)
	if !ok {
		// Unknown MAC: probe for its serial and drop the payload until the
		// registry learns it (spec.md §7: "unknown MAC | received packet |
		// send GetInfo(serial) probe; drop payload until learned").
		m.registry.NoteProbe(pkt.MAC, now)
		sendPacket(m.port.Out, WRCPacket{
			MAC:  pkt.MAC,
			Flag: NewPacketFlag(true, false, TypeGetInfo),
			Payload: GetInfoPayload{
				Flag: NewGetInfoFlag(true, false, false, false, false),
			},
		})
		return
	}
	wc.OnPacketReceived(now)

	switch p := pkt.Payload.(type) {
	case InfoEnergyPayload:
		wc.OnEnergy(p)
	case InlineJointDataPayload:
		wc.ProcessInlineJointData([]InlineJointDataPayload{p}, reports, now)
	}
}

// tick runs every wrench's periodic state machine once.
func (m *WrenchManager) tick(now time.Time, reports chan<- Report) {
	for _, wc := range m.registry.All() {
		wc.Tick(now, m.cfg, m.port.Out, reports)
	}
	m.registry.ReapHeartbeats(now, m.cfg.heartbeatExpiry)
}

// Gateway is the top-level process object: it owns every port's
// WrenchManager, the single reports stream feeding the broker writer, and
// the dispatch of decoded broker Actions onto the right wrench (spec.md
// §4.5/§4.6).
type Gateway struct {
	cfg         *Config
	broadcaster *ActionBroadcaster
	reports     chan Report

	mu       sync.Mutex
	managers map[string]*WrenchManager

	bindMu  sync.Mutex
	pending []ActionBindWrench
}

// NewGateway builds a Gateway with no ports yet attached.
func NewGateway(cfg *Config, broadcaster *ActionBroadcaster) *Gateway {
	return &Gateway{
		cfg:         cfg,
		broadcaster: broadcaster,
		reports:     make(chan Report, 256),
		managers:    make(map[string]*WrenchManager),
	}
}

// Reports is the stream every accepted Report is published to; a
// BrokerWriter reads from it.
func (g *Gateway) Reports() <-chan Report { return g.reports }

// Run spawns one WrenchManager per configured port, plus the central tick
// loop and the broker-action consumer, and blocks until ctx is cancelled.
//
// Every configured port is started immediately rather than re-enumerated
// from the OS at 1s intervals: spec.md §4.5 names an explicit port
// allow-list, so there is no unknown device to discover, only a possibly
// not-yet-attached one — and PortWorker.Run already retries opening
// indefinitely with backoff, which gives the same "comes up once plugged
// in" behavior without a second polling loop or a port-enumeration
// dependency.
func (g *Gateway) Run(ctx context.Context, fc *FileConfig) {
	var wg sync.WaitGroup

	for _, name := range fc.Port {
		m := newWrenchManager(name, g.cfg)
		g.mu.Lock()
		g.managers[name] = m
		g.mu.Unlock()

		wg.Add(1)
		go func(m *WrenchManager) {
			defer wg.Done()
			m.run(ctx, g.reports)
		}(m)
	}

	wg.Add(2)
	go func() {
		defer wg.Done()
		g.tickLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		g.actionLoop(ctx)
	}()

	wg.Wait()
}

func (g *Gateway) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(g.cfg.tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			g.mu.Lock()
			managers := make([]*WrenchManager, 0, len(g.managers))
			for _, m := range g.managers {
				managers = append(managers, m)
			}
			g.mu.Unlock()

			for _, m := range managers {
				m.tick(now, g.reports)
			}
			g.resolvePendingBinds(managers)
		}
	}
}

// resolvePendingBinds implements spec.md §4.6's BindWrench semantics: each
// queued bind, oldest first, claims any wrench across every port whose
// connect_id is empty and whose status is not Disconnected.
func (g *Gateway) resolvePendingBinds(managers []*WrenchManager) {
	g.bindMu.Lock()
	pending := g.pending
	g.bindMu.Unlock()
	if len(pending) == 0 {
		return
	}

	sort.Slice(managers, func(i, j int) bool { return managers[i].name < managers[j].name })

	remaining := pending[:0:0]
	for _, bind := range pending {
		wc := findFreeWrench(managers)
		if wc == nil {
			remaining = append(remaining, bind)
			continue
		}
		wc.SetConnectID(bind.ConnectID)
		sendReport(g.reports, ReportBindResponse{
			MsgID:        bind.MsgID,
			ConnectID:    bind.ConnectID,
			WrenchSerial: wc.Serial(),
		})
	}

	g.bindMu.Lock()
	g.pending = remaining
	g.bindMu.Unlock()
}

func findFreeWrench(managers []*WrenchManager) *WrenchContext {
	for _, m := range managers {
		for _, wc := range m.registry.All() {
			if wc.ConnectID() == "" && wc.Status() != Disconnected {
				return wc
			}
		}
	}
	return nil
}

func (g *Gateway) actionLoop(ctx context.Context) {
	actions := g.broadcaster.Subscribe()
	defer g.broadcaster.Unsubscribe(actions)

	for {
		select {
		case <-ctx.Done():
			return
		case a, ok := <-actions:
			if !ok {
				return
			}
			g.handleAction(a)
		}
	}
}

func (g *Gateway) handleAction(a Action) {
	switch act := a.(type) {
	case ActionBindWrench:
		g.bindMu.Lock()
		g.pending = append(g.pending, act)
		g.bindMu.Unlock()

	case ActionCheckConnect:
		wc := g.findBySerial(act.WrenchSerial)
		connected := wc != nil && wc.Status() != Disconnected
		sendReport(g.reports, ReportConnectStatus{MsgID: act.MsgID, Serial: act.WrenchSerial, Status: connected})

	case ActionSendTask:
		g.handleSendTask(act)

	case ActionTaskCancel:
		wc := g.findBySerial(act.WrenchSerial)
		if wc == nil {
			return
		}
		m := g.managerFor(wc)
		if m == nil {
			return
		}
		wc.CancelTask(act.TaskID, m.port.Out)
	}
}

// handleSendTask implements spec.md §7's all-or-nothing batch acceptance: a
// TaskRequest's msgTxt array targets one wrench (its items share a
// wrench_serial in practice), so the whole list is parsed before anything
// is enqueued, and a single TaskResponse reports accept or reject.
func (g *Gateway) handleSendTask(act ActionSendTask) {
	if len(act.Tasks) == 0 {
		sendReport(g.reports, ReportTaskResponse{MsgID: act.MsgID, Status: false})
		return
	}

	serial, err := ParseSerialHex(act.Tasks[0].WrenchSerial)
	if err != nil {
		sendReport(g.reports, ReportTaskResponse{MsgID: act.MsgID, Status: false})
		return
	}
	wc := g.findBySerial(serial)
	if wc == nil {
		sendReport(g.reports, ReportTaskResponse{MsgID: act.MsgID, WrenchSerial: serial, Status: false})
		return
	}

	parsed := make([]*WrenchTask, 0, len(act.Tasks))
	for _, m := range act.Tasks {
		t, err := ParseTaskRequest(act.MsgID, m)
		if err != nil {
			if g.cfg.metrics != nil {
				g.cfg.metrics.IncrementTasksRejected()
			}
			sendReport(g.reports, ReportTaskResponse{MsgID: act.MsgID, WrenchSerial: serial, Status: false})
			return
		}
		parsed = append(parsed, t)
	}

	wc.AcceptBatch(parsed)
	if g.cfg.metrics != nil {
		g.cfg.metrics.IncrementTasksAccepted()
	}
	sendReport(g.reports, ReportTaskResponse{MsgID: act.MsgID, WrenchSerial: serial, Status: true})
}

func (g *Gateway) findBySerial(serial Serial) *WrenchContext {
	g.mu.Lock()
	managers := make([]*WrenchManager, 0, len(g.managers))
	for _, m := range g.managers {
		managers = append(managers, m)
	}
	g.mu.Unlock()

	for _, m := range managers {
		if wc, ok := m.registry.LookupBySerial(serial); ok {
			return wc
		}
	}
	return nil
}

func (g *Gateway) managerFor(wc *WrenchContext) *WrenchManager {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, m := range g.managers {
		if _, ok := m.registry.LookupBySerial(wc.Serial()); ok {
			return m
		}
	}
	return nil
}
