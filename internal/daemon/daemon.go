//go:build linux

package daemon

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	sdaemon "github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"
	"golang.org/x/time/rate"

	"github.com/smazurov/devnoded/internal/coldplug"
	"github.com/smazurov/devnoded/internal/daemonerr"
	"github.com/smazurov/devnoded/internal/daemonevents"
	"github.com/smazurov/devnoded/internal/daemonmetrics"
	"github.com/smazurov/devnoded/internal/eventqueue"
	"github.com/smazurov/devnoded/internal/execqueue"
	"github.com/smazurov/devnoded/internal/helper"
	"github.com/smazurov/devnoded/internal/logging"
	"github.com/smazurov/devnoded/internal/netlink"
	"github.com/smazurov/devnoded/internal/uevent"
)

// pendingSignals holds a bitmask of signal numbers seen since the last
// drain, set by the self-pipe writer goroutine and cleared by the main loop
// (spec §4.J: "A self-pipe receives signal notifications").
type pendingSignals struct {
	mask int32
}

const (
	sigBitINT = 1 << iota
	sigBitTERM
	sigBitALRM
	sigBitCHLD
	sigBitHUP
)

func (p *pendingSignals) set(bit int32)     { atomicOr(&p.mask, bit) }
func (p *pendingSignals) takeAll() int32    { return atomic.SwapInt32(&p.mask, 0) }
func atomicOr(addr *int32, bit int32) {
	for {
		old := atomic.LoadInt32(addr)
		if atomic.CompareAndSwapInt32(addr, old, old|bit) {
			return
		}
	}
}

// Daemon is the long-running event loop of spec §4.J.
type Daemon struct {
	cfg Config

	logger    *slog.Logger
	execLog   *slog.Logger
	netlinkLog *slog.Logger
	helperLog *slog.Logger

	eventQueue *eventqueue.Queue
	execQueue  *execqueue.Queue
	metrics    *daemonmetrics.Metrics
	bus        *daemonevents.Bus

	netlinkSock *netlink.Socket
	helperSock  *helper.Socket

	netlinkSeen bool
	logPriority string

	pipeR, pipeW *os.File
	sig          pendingSignals

	shuttingDown bool
}

// New builds a Daemon from cfg. It does not open sockets yet; call Run.
func New(cfg Config) *Daemon {
	cfg.applyDefaults()

	forker := &execqueue.ProcessForker{
		BinPath:     cfg.UdevBin,
		Niceness:    5,
		ConfigPath:  cfg.Config,
		Logger:      logging.GetLogger("exec"),
		LogPriority: func() string { return "6" },
	}

	loadGate, err := execqueue.NewLoadGate(cfg.SystemLoadCap)
	if err != nil {
		logging.GetLogger("exec").Warn("load gate disabled", "error", err)
		loadGate = nil
	}

	d := &Daemon{
		cfg:        cfg,
		logger:     logging.GetLogger("daemon"),
		execLog:    logging.GetLogger("exec"),
		netlinkLog: logging.GetLogger("netlink"),
		helperLog:  logging.GetLogger("helper"),
		bus:        daemonevents.New(),
		metrics:    daemonmetrics.New(prometheus.NewRegistry()),
		logPriority: "6",
	}
	forker.LogPriority = func() string { return d.logPriority }

	d.eventQueue = eventqueue.New(eventqueue.Options{
		ExpectedSeqnum:   cfg.ExpectedSeqnum,
		EventTimeout:     time.Duration(cfg.EventTimeoutSeconds) * time.Second,
		InitPhaseTimeout: time.Duration(cfg.InitPhaseTimeoutSeconds) * time.Second,
		InitPhaseWindow:  time.Duration(cfg.InitPhaseWindowSeconds) * time.Second,
	})
	var gate execqueue.Gate
	if loadGate != nil {
		gate = loadGate
	}
	d.execQueue = execqueue.New(execqueue.Options{
		MaxChildsRunning: cfg.MaxChildsRunning,
		LoadGate:         gate,
		Limiter:          rate.NewLimiter(rate.Limit(cfg.ForkRateLimitPerSecond), cfg.ForkRateLimitPerSecond),
		Forker:           forker,
	})
	return d
}

// Metrics exposes the registry for the introspection HTTP server.
func (d *Daemon) Metrics() *daemonmetrics.Metrics { return d.metrics }

// Bus exposes the internal pub/sub for the introspection API.
func (d *Daemon) Bus() *daemonevents.Bus { return d.bus }

// Snapshot reports current queue depths for the introspection API.
type Snapshot struct {
	OrderingQueueDepth int
	ExecQueueDepth     int
	WorkersRunning     int
	ExecQueueStopped   bool
	ExpectedSeqnum     uint64
}

func (d *Daemon) Snapshot() Snapshot {
	return Snapshot{
		OrderingQueueDepth: d.eventQueue.Len(),
		ExecQueueDepth:     d.execQueue.Len(),
		WorkersRunning:     d.execQueue.Running(),
		ExecQueueStopped:   d.execQueue.Stopped(),
		ExpectedSeqnum:     d.eventQueue.ExpectedSeqnum(),
	}
}

// Run opens the sockets and blocks until a terminating signal arrives or
// ctx-equivalent shutdown is requested via SIGINT/SIGTERM.
func (d *Daemon) Run() error {
	var err error
	d.netlinkSock, err = netlink.Open()
	if err != nil {
		return fmt.Errorf("daemon: open netlink socket: %w: %w", daemonerr.ErrFatalSetup, err)
	}
	defer d.netlinkSock.Close()

	d.helperSock, err = helper.Open(d.cfg.HelperSocketName)
	if err != nil {
		return fmt.Errorf("daemon: open helper socket: %w: %w", daemonerr.ErrFatalSetup, err)
	}
	defer d.helperSock.Close()

	d.pipeR, d.pipeW, err = os.Pipe()
	if err != nil {
		return fmt.Errorf("daemon: open self-pipe: %w: %w", daemonerr.ErrFatalSetup, err)
	}
	defer d.pipeR.Close()
	defer d.pipeW.Close()

	sigCh := make(chan os.Signal, 8)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGALRM, syscall.SIGCHLD, syscall.SIGHUP)
	defer signal.Stop(sigCh)
	go d.relaySignals(sigCh)

	if d.cfg.ColdplugSubsystems != nil {
		d.runColdplug()
	}

	if sent, notifyErr := sdaemon.SdNotify(false, sdaemon.SdNotifyReady); notifyErr != nil {
		d.logger.Debug("sd_notify READY failed", "error", notifyErr)
	} else if !sent {
		d.logger.Debug("sd_notify not supported on this platform")
	}

	d.logger.Info("daemon started", "helper_socket", d.cfg.HelperSocketName, "max_childs_running", d.cfg.MaxChildsRunning)

	wake := 5 * time.Second
	for !d.shuttingDown {
		if err := d.poll(wake); err != nil {
			return err
		}
		d.drainReady()
		d.handleSignals()
		wake = d.runOrderingPass()
		d.runExecPass()
		d.publishMetrics()
	}

	sdaemon.SdNotify(false, sdaemon.SdNotifyStopping)
	d.logger.Info("daemon shutting down, waiting for running workers")
	d.waitForWorkers(10 * time.Second)
	return nil
}

// Shutdown requests a graceful stop from outside the daemon's own signal
// handling, e.g. when main.go's process-lifecycle hooks (humacli) run
// before the daemon's self-pipe has a chance to see the signal directly.
// It re-raises SIGTERM against this process so the existing signal path
// does the rest.
func (d *Daemon) Shutdown() {
	syscall.Kill(os.Getpid(), syscall.SIGTERM)
}

func (d *Daemon) relaySignals(ch <-chan os.Signal) {
	for s := range ch {
		switch s {
		case syscall.SIGINT:
			d.sig.set(sigBitINT)
		case syscall.SIGTERM:
			d.sig.set(sigBitTERM)
		case syscall.SIGALRM:
			d.sig.set(sigBitALRM)
		case syscall.SIGCHLD:
			d.sig.set(sigBitCHLD)
		case syscall.SIGHUP:
			d.sig.set(sigBitHUP)
		}
		d.pipeW.Write([]byte{1})
	}
}

// poll blocks until a socket is readable, the self-pipe is signaled, or
// timeout elapses. The timeout doubles as the ordering pass's timer (spec
// §4.H: "a one-shot timer is armed to the smallest remaining-time-to-timeout"),
// fed by runOrderingPass's return value each iteration.
func (d *Daemon) poll(timeout time.Duration) error {
	fds := []unix.PollFd{
		{Fd: int32(d.pipeR.Fd()), Events: unix.POLLIN},
		{Fd: int32(d.netlinkSock.Fd()), Events: unix.POLLIN},
		{Fd: int32(d.helperSock.Fd()), Events: unix.POLLIN},
	}
	ms := int(timeout / time.Millisecond)
	_, err := unix.Poll(fds, ms)
	if err != nil && err != unix.EINTR {
		return fmt.Errorf("daemon: poll: %w", err)
	}
	return nil
}

func (d *Daemon) drainReady() {
	var buf [64]byte
	for {
		n, err := d.pipeR.Read(buf[:])
		if n == 0 || err != nil {
			break
		}
	}

	for {
		payload, err := d.netlinkSock.ReadPayload()
		if err != nil {
			d.netlinkLog.Warn("netlink read error", "error", err)
			break
		}
		if payload == nil {
			break
		}
		ev, parseErr := uevent.ParseNetlinkPayload(payload)
		if parseErr != nil {
			d.netlinkLog.Warn("dropping malformed netlink event", "error", parseErr)
			continue
		}
		d.netlinkSeen = true
		d.handleIncomingEvent(ev)
	}

	for {
		received, err := d.helperSock.Receive()
		if err != nil {
			d.helperLog.Warn("rejecting helper datagram", "error", err)
			continue
		}
		if received == nil {
			break
		}
		d.handleHelperMessage(received)
	}
}

func (d *Daemon) handleIncomingEvent(ev uevent.Event) {
	if ev.Source == uevent.SourceHelper && ev.Seqnum != 0 && d.netlinkSeen {
		d.helperLog.Debug("discarding helper event superseded by netlink", "devpath", ev.Devpath, "seqnum", ev.Seqnum)
		return
	}

	switch d.eventQueue.Insert(ev) {
	case eventqueue.InsertedBypass:
		d.execQueue.Enqueue(ev)
	case eventqueue.InsertedDuplicate:
		d.logger.Debug("dropping duplicate sequence number", "seqnum", ev.Seqnum, "devpath", ev.Devpath)
	case eventqueue.InsertedOrdering:
		// released later by runOrderingPass
	}
}

func (d *Daemon) handleHelperMessage(r *helper.Received) {
	switch r.Message.Type {
	case helper.TypeUeventHelper, helper.TypeUeventInitSend:
		ev, err := uevent.ParseHelperEnvBlock(r.Message.EnvBuf)
		if err != nil {
			d.helperLog.Warn("dropping malformed helper event", "error", err)
			return
		}
		d.handleIncomingEvent(ev)
	case helper.TypeStopExecQueue:
		d.execQueue.Stop()
		d.logger.Info("execution queue stopped by control message")
	case helper.TypeStartExecQueue:
		d.execQueue.Start()
		d.logger.Info("execution queue started by control message")
		d.runExecPass()
	case helper.TypeSetLogLevel:
		d.applyLogLevel(r.Message.EnvBuf)
	case helper.TypeSetMaxChilds:
		d.applyMaxChilds(r.Message.EnvBuf)
	}
}

func (d *Daemon) applyLogLevel(envbuf []byte) {
	if len(envbuf) < 4 {
		return
	}
	priority := int32(binary.LittleEndian.Uint32(envbuf[:4]))
	d.logPriority = strconv.Itoa(int(priority))
	level := syslogPriorityToSlog(priority)
	for _, module := range []string{"daemon", "queue", "exec", "resolver", "store", "applier", "netlink", "helper", "control"} {
		logging.SetModuleLevel(module, level)
	}
	d.logger.Info("log level changed by control message", "priority", priority)
}

func syslogPriorityToSlog(priority int32) slog.Level {
	switch {
	case priority <= 3:
		return slog.LevelError
	case priority == 4:
		return slog.LevelWarn
	case priority <= 6:
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}

func (d *Daemon) applyMaxChilds(envbuf []byte) {
	if len(envbuf) < 4 {
		return
	}
	n := int32(binary.LittleEndian.Uint32(envbuf[:4]))
	d.execQueue.SetMaxChildsRunning(int(n))
	d.logger.Info("max_childs_running changed by control message", "value", n)
}

// ReloadTunables applies a freshly re-read Config to the running daemon,
// for main.go's config.Watcher-driven hot reload on TOML file changes. It
// only touches fields that are safe to change without restarting: the
// worker concurrency cap, same as applyMaxChilds does for the ctl socket
// path. Fields that shape startup wiring (sockets, record dir, coldplug
// subsystems) are left alone; changing those requires a restart.
func (d *Daemon) ReloadTunables(cfg Config) {
	if cfg.MaxChildsRunning > 0 && cfg.MaxChildsRunning != d.cfg.MaxChildsRunning {
		d.execQueue.SetMaxChildsRunning(cfg.MaxChildsRunning)
		d.cfg.MaxChildsRunning = cfg.MaxChildsRunning
		d.logger.Info("max_childs_running changed by config reload", "value", cfg.MaxChildsRunning)
	}
}

func (d *Daemon) handleSignals() {
	mask := d.sig.takeAll()
	if mask&(sigBitINT|sigBitTERM) != 0 {
		d.logger.Info("received termination signal, shutting down")
		d.shuttingDown = true
	}
	if mask&sigBitCHLD != 0 {
		d.reapChildren()
	}
	// SIGALRM is handled implicitly: runOrderingPass's return value already
	// arms the ordering pass timer via the poll timeout, so no separate
	// action is needed here.
}

func (d *Daemon) reapChildren() {
	for {
		var status syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &status, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
		result, ok := d.execQueue.Reap(pid)
		if !ok {
			continue
		}
		d.execLog.Info("worker reaped", "pid", pid, "devpath", result.Devpath, "age", result.Age)
		d.bus.Publish(daemonevents.WorkerReaped{Devpath: result.Devpath, PID: pid, AgeMS: result.Age.Milliseconds()})
	}
}

// runOrderingPass drains any events the ordering queue can now release and
// returns how long the next poll should block for before the ordering queue
// has another deadline to act on.
func (d *Daemon) runOrderingPass() time.Duration {
	released, wake := d.eventQueue.ManagementPass()
	for _, ev := range released {
		d.execQueue.Enqueue(ev)
	}
	if wake <= 0 {
		return 5 * time.Second
	}
	return wake
}

func (d *Daemon) runExecPass() {
	results, err := d.execQueue.Pass()
	if err != nil {
		d.execLog.Warn("execution pass failed", "error", err)
		d.bus.Publish(daemonevents.QueueStalled{Reason: err.Error()})
		return
	}
	for _, r := range results {
		if r.Err != nil {
			d.execLog.Error("failed to fork worker", "devpath", r.Event.Devpath, "error", r.Err)
			d.metrics.ForkErrors.Inc()
			continue
		}
		d.execLog.Info("worker forked", "pid", r.PID, "devpath", r.Event.Devpath, "action", r.Event.Action, "correlation_id", r.Event.CorrelationID)
		d.metrics.EventsProcessed.WithLabelValues(r.Event.Action).Inc()
		d.bus.Publish(daemonevents.WorkerForked{Devpath: r.Event.Devpath, PID: r.PID, Action: r.Event.Action})
	}
}

func (d *Daemon) publishMetrics() {
	s := d.Snapshot()
	d.metrics.OrderingQueueDepth.Set(float64(s.OrderingQueueDepth))
	d.metrics.ExecQueueDepth.Set(float64(s.ExecQueueDepth))
	d.metrics.WorkersRunning.Set(float64(s.WorkersRunning))
}

func (d *Daemon) runColdplug() {
	events, err := coldplug.Enumerate(d.cfg.ColdplugSubsystems)
	if err != nil {
		d.logger.Warn("coldplug enumeration failed", "error", err)
		return
	}
	d.logger.Info("coldplug enumeration complete", "devices", len(events))
	for _, ev := range events {
		d.execQueue.Enqueue(ev)
	}
}

func (d *Daemon) waitForWorkers(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for d.execQueue.Running() > 0 && time.Now().Before(deadline) {
		d.reapChildren()
		time.Sleep(50 * time.Millisecond)
	}
}
