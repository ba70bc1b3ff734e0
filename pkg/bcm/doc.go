// Package bcm provides a broadcast manager: one owner for all periodic traffic
// on a CAN bus.
//
// A Manager holds the transmission lock that serializes every send on its bus
// and keeps a registry of the tasks transmitting through it, so callers address
// traffic by id instead of juggling task handles and a shared mutex themselves:
//
// 	mgr, err := bcm.New(bus)
// 	if err != nil {
// 		log.Fatal(err)
// 	}
// 	defer mgr.Close()
//
// 	_, err = mgr.SendPeriodic("engine-status", msgs, 100*time.Millisecond, 0)
// 	_, err = mgr.SendMultiRate("wakeup", wakeMsgs, 5, 10*time.Millisecond, time.Second)
// 	err = mgr.ScheduleBurst("diagnostics", "0 */5 * * * *", diagMsgs)
//
// 	mgr.Stop("wakeup")
// 	fmt.Println(mgr.List())
//
// Ids are free-form and unique per manager; registering a taken id fails with
// errors.ErrDuplicateTask. Stop removes a single task, StopAll clears the
// registry, and Close additionally closes the bus.
//
// Burst schedules use github.com/robfig/cron/v3 expressions in the six-field
// form with a leading seconds field ("*/10 * * * * *" fires every ten seconds);
// descriptors such as @hourly and @every 30s are also accepted. At each firing
// the whole sequence is transmitted back to back under the shared lock, so a
// burst never interleaves with a cyclic task's send.
package bcm
