package bcm

import (
	"errors"
	"testing"
	"time"

	"github.com/canflow/canflow/internal/testutil"
	"github.com/canflow/canflow/pkg/can"
	"github.com/canflow/canflow/pkg/can/virtual"
	cferrors "github.com/canflow/canflow/pkg/common/errors"
	"github.com/canflow/canflow/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
)

func msg(id uint32, channel string, data ...byte) can.Message {
	return can.Message{ArbitrationID: id, Channel: channel, Data: data}
}

func newTestManager(t *testing.T) (Manager, *virtual.Bus) {
	t.Helper()
	bus := virtual.New()
	mgr, err := New(bus)
	testutil.AssertNoError(t, err)
	t.Cleanup(func() { mgr.StopAll() })
	return mgr, bus
}

func TestNew_RequiresBus(t *testing.T) {
	_, err := New(nil)
	testutil.AssertError(t, err)
	if !errors.Is(err, cferrors.ErrInvalidArgument) {
		t.Errorf("error should wrap ErrInvalidArgument, got %v", err)
	}
}

func TestManager_SendPeriodic(t *testing.T) {
	mgr, bus := newTestManager(t)

	task, err := mgr.SendPeriodic("engine-status",
		[]can.Message{msg(0x401, "vcan0", 0x11)}, 5*time.Millisecond, 0)
	testutil.AssertNoError(t, err)

	testutil.Eventually(t, func() bool {
		return bus.SentCount() >= 3
	}, testutil.TestTimeout, time.Millisecond)

	if !task.Running() {
		t.Error("task should be running")
	}

	got, ok := mgr.Task("engine-status")
	if !ok || got != task {
		t.Error("Task should return the registered task")
	}
}

func TestManager_DuplicateID(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.SendPeriodic("dup", []can.Message{msg(0x401, "vcan0", 0x11)}, 5*time.Millisecond, 0)
	testutil.AssertNoError(t, err)

	_, err = mgr.SendPeriodic("dup", []can.Message{msg(0x402, "vcan0", 0x22)}, 5*time.Millisecond, 0)
	if !errors.Is(err, cferrors.ErrDuplicateTask) {
		t.Errorf("error should wrap ErrDuplicateTask, got %v", err)
	}

	// A burst registration under the same id must fail too.
	err = mgr.ScheduleBurst("dup", "* * * * * *", []can.Message{msg(0x403, "vcan0", 0x33)})
	if !errors.Is(err, cferrors.ErrDuplicateTask) {
		t.Errorf("error should wrap ErrDuplicateTask, got %v", err)
	}
}

func TestManager_FailedRegistrationFreesID(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.SendPeriodic("bad", nil, 5*time.Millisecond, 0)
	testutil.AssertError(t, err)

	// The id must be reusable after a rejected registration.
	_, err = mgr.SendPeriodic("bad", []can.Message{msg(0x401, "vcan0", 0x11)}, 5*time.Millisecond, 0)
	testutil.AssertNoError(t, err)
}

func TestManager_EmptyID(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.SendPeriodic("", []can.Message{msg(0x401, "vcan0", 0x11)}, 5*time.Millisecond, 0)
	testutil.AssertError(t, err)
	if !errors.Is(err, cferrors.ErrInvalidArgument) {
		t.Errorf("error should wrap ErrInvalidArgument, got %v", err)
	}
}

func TestManager_SendMultiRate(t *testing.T) {
	mgr, bus := newTestManager(t)

	task, err := mgr.SendMultiRate("wakeup",
		[]can.Message{msg(0x100, "vcan0", 0x01)}, 3, 5*time.Millisecond, 100*time.Millisecond)
	testutil.AssertNoError(t, err)

	testutil.Eventually(t, func() bool {
		return bus.SentCount() >= 3
	}, testutil.TestTimeout, time.Millisecond)
	testutil.AssertEqual(t, task.Period(), 100*time.Millisecond)
}

func TestManager_ScheduleBurst(t *testing.T) {
	mgr, bus := newTestManager(t)

	err := mgr.ScheduleBurst("diag", "* * * * * *", []can.Message{
		msg(0x7DF, "vcan0", 0x02, 0x01, 0x00),
		msg(0x7DF, "vcan0", 0x02, 0x01, 0x0C),
	})
	testutil.AssertNoError(t, err)

	// A "* * * * * *" expression fires every second; the whole two-message
	// sequence arrives in one burst.
	testutil.Eventually(t, func() bool {
		return bus.SentCount() >= 2
	}, 3*time.Second, 5*time.Millisecond)

	records := bus.Records()
	testutil.AssertEqual(t, records[0].Msg.Data[2], byte(0x00))
	testutil.AssertEqual(t, records[1].Msg.Data[2], byte(0x0C))
	if gap := records[1].At.Sub(records[0].At); gap > 100*time.Millisecond {
		t.Errorf("burst messages %v apart, expected back to back", gap)
	}
}

func TestManager_ScheduleBurst_NeverFires(t *testing.T) {
	mgr, bus := newTestManager(t)

	// February 30th never exists, so the schedule has no next firing. The
	// burst must wind itself down instead of looping.
	err := mgr.ScheduleBurst("never", "0 0 0 30 2 *", []can.Message{msg(0x401, "vcan0", 0x11)})
	testutil.AssertNoError(t, err)

	testutil.Eventually(t, func() bool {
		infos := mgr.List()
		return len(infos) == 1 && !infos[0].Running
	}, testutil.TestTimeout, time.Millisecond)
	testutil.AssertEqual(t, bus.SentCount(), 0)
}

func TestManager_ScheduleBurst_InvalidExpression(t *testing.T) {
	mgr, _ := newTestManager(t)

	err := mgr.ScheduleBurst("bad", "not a cron", []can.Message{msg(0x401, "vcan0", 0x11)})
	testutil.AssertError(t, err)
	if !errors.Is(err, cferrors.ErrInvalidArgument) {
		t.Errorf("error should wrap ErrInvalidArgument, got %v", err)
	}
}

func TestManager_StopRemovesTask(t *testing.T) {
	mgr, bus := newTestManager(t)

	_, err := mgr.SendPeriodic("t1", []can.Message{msg(0x401, "vcan0", 0x11)}, 5*time.Millisecond, 0)
	testutil.AssertNoError(t, err)

	if !mgr.Stop("t1") {
		t.Fatal("Stop should report the id as known")
	}
	if mgr.Stop("t1") {
		t.Error("second Stop should report the id as unknown")
	}
	if _, ok := mgr.Task("t1"); ok {
		t.Error("stopped task should be gone from the registry")
	}

	time.Sleep(20 * time.Millisecond)
	count := bus.SentCount()
	time.Sleep(30 * time.Millisecond)
	testutil.AssertEqual(t, bus.SentCount(), count)
}

func TestManager_StopAll(t *testing.T) {
	mgr, bus := newTestManager(t)

	for _, id := range []string{"a", "b", "c"} {
		_, err := mgr.SendPeriodic(id, []can.Message{msg(0x401, "vcan0", 0x11)}, 5*time.Millisecond, 0)
		testutil.AssertNoError(t, err)
	}

	mgr.StopAll()
	testutil.AssertEqual(t, len(mgr.List()), 0)

	time.Sleep(20 * time.Millisecond)
	count := bus.SentCount()
	time.Sleep(30 * time.Millisecond)
	testutil.AssertEqual(t, bus.SentCount(), count)
}

func TestManager_List(t *testing.T) {
	mgr, _ := newTestManager(t)

	_, err := mgr.SendPeriodic("beta", []can.Message{msg(0x402, "vcan0", 0x22)}, 10*time.Millisecond, 0)
	testutil.AssertNoError(t, err)
	_, err = mgr.SendPeriodic("alpha", []can.Message{msg(0x401, "vcan0", 0x11)}, 20*time.Millisecond, 0)
	testutil.AssertNoError(t, err)
	err = mgr.ScheduleBurst("gamma", "@hourly", []can.Message{msg(0x403, "vcan0", 0x33)})
	testutil.AssertNoError(t, err)

	infos := mgr.List()
	testutil.AssertEqual(t, len(infos), 3)

	// Sorted by id.
	testutil.AssertEqual(t, infos[0].ID, "alpha")
	testutil.AssertEqual(t, infos[1].ID, "beta")
	testutil.AssertEqual(t, infos[2].ID, "gamma")

	testutil.AssertEqual(t, infos[0].Kind, KindPeriodic)
	testutil.AssertEqual(t, infos[0].ArbitrationID, uint32(0x401))
	testutil.AssertEqual(t, infos[0].Period, 20*time.Millisecond)
	testutil.AssertEqual(t, infos[2].Kind, KindBurst)
	if !infos[2].Running {
		t.Error("burst entry should report running")
	}
}

func TestManager_Modify(t *testing.T) {
	mgr, bus := newTestManager(t)

	_, err := mgr.SendPeriodic("mod", []can.Message{msg(0x401, "vcan0", 0x11)}, 5*time.Millisecond, 0)
	testutil.AssertNoError(t, err)

	err = mgr.Modify("mod", []can.Message{msg(0x401, "vcan0", 0x99)})
	testutil.AssertNoError(t, err)

	before := bus.SentCount()
	testutil.Eventually(t, func() bool {
		for _, rec := range bus.Records()[before:] {
			if rec.Msg.Data[0] == 0x99 {
				return true
			}
		}
		return false
	}, testutil.TestTimeout, time.Millisecond)

	err = mgr.Modify("missing", []can.Message{msg(0x401, "vcan0", 0x11)})
	if !errors.Is(err, cferrors.ErrUnknownTask) {
		t.Errorf("error should wrap ErrUnknownTask, got %v", err)
	}
}

func TestManager_SharedLockAcrossTasks(t *testing.T) {
	bus := virtual.NewWithConfig(virtual.Config{SendDelay: 2 * time.Millisecond})
	mgr, err := New(bus)
	testutil.AssertNoError(t, err)
	defer mgr.StopAll()

	for i, id := range []string{"a", "b", "c"} {
		_, err := mgr.SendPeriodic(id,
			[]can.Message{msg(uint32(0x401+i), "vcan0", byte(i))}, 5*time.Millisecond, 0)
		testutil.AssertNoError(t, err)
	}

	testutil.Eventually(t, func() bool {
		return bus.SentCount() >= 20
	}, testutil.TestTimeout, time.Millisecond)
	mgr.StopAll()

	if v := bus.ConcurrencyViolations(); v != 0 {
		t.Errorf("observed %d concurrent Send entries through one manager", v)
	}
}

func TestManager_CloseClosesBus(t *testing.T) {
	bus := virtual.New()
	mgr, err := New(bus)
	testutil.AssertNoError(t, err)

	_, err = mgr.SendPeriodic("t1", []can.Message{msg(0x401, "vcan0", 0x11)}, 5*time.Millisecond, 0)
	testutil.AssertNoError(t, err)

	testutil.AssertNoError(t, mgr.Close())

	if err := bus.Send(msg(0x401, "vcan0", 0x11)); !errors.Is(err, can.ErrBusClosed) {
		t.Errorf("bus should be closed, Send returned %v", err)
	}

	// Registration after Close is rejected, and Close is not re-runnable.
	_, err = mgr.SendPeriodic("t2", []can.Message{msg(0x402, "vcan0", 0x22)}, 5*time.Millisecond, 0)
	if !errors.Is(err, cferrors.ErrClosed) {
		t.Errorf("error should wrap ErrClosed, got %v", err)
	}
	if err := mgr.Close(); !errors.Is(err, cferrors.ErrClosed) {
		t.Errorf("second Close should return ErrClosed, got %v", err)
	}
}

func TestManager_MetricsCountManagedTasks(t *testing.T) {
	bus := virtual.New()
	reg := prometheus.NewRegistry()
	mgr, err := NewWithConfig(Config{
		Bus:     bus,
		Channel: "vcan0",
		Metrics: metrics.Config{Enabled: true, Registry: reg},
	})
	testutil.AssertNoError(t, err)
	defer mgr.StopAll()

	_, err = mgr.SendPeriodic("t1", []can.Message{msg(0x401, "vcan0", 0x11)}, 5*time.Millisecond, 0)
	testutil.AssertNoError(t, err)
	_, err = mgr.SendPeriodic("t2", []can.Message{msg(0x402, "vcan0", 0x22)}, 5*time.Millisecond, 0)
	testutil.AssertNoError(t, err)

	gaugeValue := func() float64 {
		families, err := reg.Gather()
		testutil.AssertNoError(t, err)
		for _, mf := range families {
			if mf.GetName() == "canflow_bcm_tasks_managed" {
				return mf.GetMetric()[0].GetGauge().GetValue()
			}
		}
		return -1
	}

	testutil.AssertEqual(t, gaugeValue(), 2)
	mgr.Stop("t1")
	testutil.AssertEqual(t, gaugeValue(), 1)
	mgr.StopAll()
	testutil.AssertEqual(t, gaugeValue(), 0)
}
