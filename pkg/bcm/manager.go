package bcm

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/canflow/canflow/pkg/can"
	"github.com/canflow/canflow/pkg/common/errors"
	"github.com/canflow/canflow/pkg/common/validation"
	"github.com/canflow/canflow/pkg/cyclic"
	"github.com/canflow/canflow/pkg/metrics"
)

const module = "bcm"

// TaskKind classifies the entries a Manager tracks.
type TaskKind string

const (
	KindPeriodic  TaskKind = "periodic"
	KindMultiRate TaskKind = "multirate"
	KindBurst     TaskKind = "burst"
)

// TaskInfo is a snapshot of one managed task.
type TaskInfo struct {
	ID            string
	Kind          TaskKind
	ArbitrationID uint32
	Channel       string
	Period        time.Duration
	Running       bool

	// Err is the transport failure that stopped the task, if any.
	Err error
}

// Manager is a broadcast manager: it owns the transmission lock for one bus
// and registers, tracks, and tears down the cyclic and cron-burst tasks
// transmitting on it.
type Manager interface {
	// SendPeriodic registers a software-timed cyclic task under id and starts
	// it. A zero duration runs until stopped.
	SendPeriodic(id string, msgs []can.Message, period, duration time.Duration) (cyclic.SendTask, error)

	// SendMultiRate registers a task that sends count complete sequence
	// passes at initial period, then continues at subsequent period.
	SendMultiRate(id string, msgs []can.Message, count int, initial, subsequent time.Duration) (cyclic.SendTask, error)

	// ScheduleBurst transmits the whole sequence back to back at every firing
	// of the cron expression. Expressions use the six-field form with a
	// leading seconds field; @every and the other descriptors also work.
	ScheduleBurst(id, cronExpr string, msgs []can.Message) error

	// Task returns the cyclic task registered under id, or false when id is
	// unknown or names a burst entry.
	Task(id string) (cyclic.SendTask, bool)

	// Modify replaces the payloads of the task or burst registered under id.
	// The replacement follows the usual rules: same length, arbitration id,
	// and channel as the current sequence.
	Modify(id string, msgs []can.Message) error

	// Stop stops and removes the task registered under id. It reports whether
	// the id was known.
	Stop(id string) bool

	// StopAll stops and removes every managed task. The bus stays open.
	StopAll()

	// List returns a snapshot of all managed tasks, ordered by id.
	List() []TaskInfo

	// Close stops every task and closes the underlying bus.
	Close() error
}

// Config holds configuration options for a broadcast manager.
type Config struct {
	// Bus is the transport all managed tasks share. Required. Close closes it.
	Bus can.Bus

	// Channel labels metrics; it is informational and defaults to "default".
	Channel string

	// Logger receives lifecycle events. The zero value is silent.
	Logger zerolog.Logger

	// Metrics enables Prometheus instrumentation for the manager and every
	// task it registers.
	Metrics metrics.Config

	// Location is the timezone for cron expression evaluation. Defaults to
	// time.Local.
	Location *time.Location
}

type entry struct {
	kind  TaskKind
	task  cyclic.SendTask // periodic and multirate entries
	burst *burstTask      // burst entries
}

type manager struct {
	bus      can.Bus
	channel  string
	log      zerolog.Logger
	mcfg     metrics.Config
	registry *metrics.Registry
	metered  bool
	loc      *time.Location
	parser   cron.Parser

	// txLock serializes every transmission on the bus, cyclic and burst alike.
	txLock sync.Mutex

	mu      sync.Mutex
	entries map[string]*entry
	closed  bool
}

// New creates a broadcast manager for the given bus.
func New(bus can.Bus) (Manager, error) {
	return NewWithConfig(Config{Bus: bus})
}

// NewWithConfig creates a broadcast manager with custom configuration.
func NewWithConfig(cfg Config) (Manager, error) {
	if err := validation.ValidateNotNil(module, "bus", cfg.Bus); err != nil {
		return nil, err
	}

	channel := cfg.Channel
	if channel == "" {
		channel = "default"
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}

	m := &manager{
		bus:     cfg.Bus,
		channel: channel,
		log:     cfg.Logger,
		mcfg:    cfg.Metrics,
		loc:     loc,
		parser:  cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		entries: make(map[string]*entry),
	}

	if cfg.Metrics.Enabled {
		m.registry = metrics.DefaultRegistry
		if cfg.Metrics.Registry != nil {
			m.registry = metrics.NewRegistry(cfg.Metrics.Registry)
		}
		m.metered = true
	}

	return m, nil
}

// reserve claims id in the registry while holding no other locks. The caller
// fills in the entry on success and releases it with release on failure.
func (m *manager) reserve(id string) error {
	if err := validation.ValidateNotEmpty(module, "id", id); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return errors.ErrClosed
	}
	if _, exists := m.entries[id]; exists {
		return fmt.Errorf("%w: %q", errors.ErrDuplicateTask, id)
	}
	m.entries[id] = &entry{}
	return nil
}

func (m *manager) release(id string) {
	m.mu.Lock()
	delete(m.entries, id)
	m.mu.Unlock()
}

func (m *manager) commit(id string, e *entry) {
	m.mu.Lock()
	m.entries[id] = e
	m.mu.Unlock()

	if m.metered {
		m.registry.TasksManaged.WithLabelValues(m.channel).Inc()
	}
}

// SendPeriodic implements Manager.
func (m *manager) SendPeriodic(id string, msgs []can.Message, period, duration time.Duration) (cyclic.SendTask, error) {
	if err := m.reserve(id); err != nil {
		return nil, err
	}

	task, err := cyclic.NewWithConfig(cyclic.Config{
		Bus:      m.bus,
		Messages: msgs,
		Period:   period,
		Duration: duration,
		TxLock:   &m.txLock,
		Name:     id,
		Logger:   m.log,
		Metrics:  m.mcfg,
	})
	if err != nil {
		m.release(id)
		return nil, err
	}

	m.commit(id, &entry{kind: KindPeriodic, task: task})
	m.log.Info().
		Str("id", id).
		Uint32("arbitration_id", task.ArbitrationID()).
		Dur("period", period).
		Msg("periodic task registered")
	return task, nil
}

// SendMultiRate implements Manager.
func (m *manager) SendMultiRate(id string, msgs []can.Message, count int, initial, subsequent time.Duration) (cyclic.SendTask, error) {
	if err := m.reserve(id); err != nil {
		return nil, err
	}

	task, err := cyclic.NewMultiRate(cyclic.MultiRateConfig{
		Bus:              m.bus,
		Messages:         msgs,
		Count:            count,
		InitialPeriod:    initial,
		SubsequentPeriod: subsequent,
		TxLock:           &m.txLock,
		Name:             id,
		Logger:           m.log,
	})
	if err != nil {
		m.release(id)
		return nil, err
	}

	m.commit(id, &entry{kind: KindMultiRate, task: task})
	m.log.Info().
		Str("id", id).
		Uint32("arbitration_id", task.ArbitrationID()).
		Int("count", count).
		Msg("multi-rate task registered")
	return task, nil
}

// ScheduleBurst implements Manager.
func (m *manager) ScheduleBurst(id, cronExpr string, msgs []can.Message) error {
	if err := validation.ValidateNotEmpty(module, "cron", cronExpr); err != nil {
		return err
	}
	schedule, err := m.parser.Parse(cronExpr)
	if err != nil {
		return errors.NewValidationError(module, "cron", cronExpr, err.Error()).
			WithHint("six-field expressions with a seconds field, or @every / @hourly descriptors")
	}

	if err := m.reserve(id); err != nil {
		return err
	}

	b, err := newBurstTask(burstConfig{
		id:       id,
		bus:      m.bus,
		txLock:   &m.txLock,
		schedule: schedule,
		msgs:     msgs,
		loc:      m.loc,
		log:      m.log,
		onBurst: func() {
			if m.metered {
				m.registry.BurstsTotal.WithLabelValues(id).Inc()
			}
		},
	})
	if err != nil {
		m.release(id)
		return err
	}

	m.commit(id, &entry{kind: KindBurst, burst: b})
	m.log.Info().
		Str("id", id).
		Str("cron", cronExpr).
		Msg("burst schedule registered")
	return nil
}

// Task implements Manager.
func (m *manager) Task(id string) (cyclic.SendTask, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.task == nil {
		return nil, false
	}
	return e.task, true
}

// Modify implements Manager.
func (m *manager) Modify(id string, msgs []can.Message) error {
	m.mu.Lock()
	e, ok := m.entries[id]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %q", errors.ErrUnknownTask, id)
	}

	switch {
	case e.task != nil:
		return e.task.ModifyData(msgs)
	case e.burst != nil:
		return e.burst.modifyData(msgs)
	}
	return fmt.Errorf("%w: %q", errors.ErrUnknownTask, id)
}

// Stop implements Manager.
func (m *manager) Stop(id string) bool {
	m.mu.Lock()
	e, ok := m.entries[id]
	// A reserved-but-uncommitted entry is not stoppable yet.
	if ok && e.task == nil && e.burst == nil {
		ok = false
	}
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}

	m.stopEntry(e)
	if m.metered {
		m.registry.TasksManaged.WithLabelValues(m.channel).Dec()
	}
	m.log.Info().Str("id", id).Msg("task stopped and removed")
	return true
}

// StopAll implements Manager.
func (m *manager) StopAll() {
	m.mu.Lock()
	stopped := make(map[string]*entry, len(m.entries))
	for id, e := range m.entries {
		if e.task == nil && e.burst == nil {
			continue
		}
		stopped[id] = e
		delete(m.entries, id)
	}
	m.mu.Unlock()

	for _, e := range stopped {
		m.stopEntry(e)
	}
	if m.metered {
		m.registry.TasksManaged.WithLabelValues(m.channel).Sub(float64(len(stopped)))
	}
	if len(stopped) > 0 {
		m.log.Info().Int("count", len(stopped)).Msg("all managed tasks stopped")
	}
}

func (m *manager) stopEntry(e *entry) {
	switch {
	case e.task != nil:
		e.task.Stop()
	case e.burst != nil:
		e.burst.stop()
	}
}

// List implements Manager.
func (m *manager) List() []TaskInfo {
	m.mu.Lock()
	infos := make([]TaskInfo, 0, len(m.entries))
	for id, e := range m.entries {
		if e.task == nil && e.burst == nil {
			continue
		}
		info := TaskInfo{ID: id, Kind: e.kind}
		switch {
		case e.task != nil:
			info.ArbitrationID = e.task.ArbitrationID()
			info.Channel = e.task.Channel()
			info.Period = e.task.Period()
			info.Running = e.task.Running()
			info.Err = e.task.Err()
		case e.burst != nil:
			info.ArbitrationID = e.burst.arbitrationID()
			info.Channel = e.burst.channel()
			info.Running = e.burst.running()
			info.Err = e.burst.lastErr()
		}
		infos = append(infos, info)
	}
	m.mu.Unlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// Close implements Manager.
func (m *manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.ErrClosed
	}
	m.closed = true
	m.mu.Unlock()

	m.StopAll()
	m.log.Info().Msg("broadcast manager closed")
	return m.bus.Close()
}
