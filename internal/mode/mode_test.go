package mode

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"driftwatch/internal/threat"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestMachine(t *testing.T) (*Machine, *fakeClock, *[]State) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)}
	var seen []State
	m := New(Config{
		GracePeriod: 30 * time.Second,
		Cooldown:    time.Minute,
		SettleDelay: 5 * time.Second,
	}, clock.Now, func(from, to State) {
		seen = append(seen, to)
	})
	return m, clock, &seen
}

func TestCleanScanReturnsToIdle(t *testing.T) {
	m, _, _ := newTestMachine(t)

	m.StartScan()
	assert.Equal(t, Scanning, m.State())
	m.ScanComplete(true)
	assert.Equal(t, Idle, m.State())
}

func TestSingleMediumFindingIsCurious(t *testing.T) {
	m, _, _ := newTestMachine(t)

	m.StartScan()
	m.ReportFinding(threat.SeverityMedium)
	assert.Equal(t, Curious, m.State())
}

func TestSecondFindingWithinGraceEscalates(t *testing.T) {
	m, clock, _ := newTestMachine(t)

	m.StartScan()
	m.ReportFinding(threat.SeverityLow)
	clock.Advance(10 * time.Second)
	m.ReportFinding(threat.SeverityLow)
	assert.Equal(t, Elevated, m.State())
}

func TestHighFindingSkipsToElevated(t *testing.T) {
	m, _, _ := newTestMachine(t)

	m.ReportFinding(threat.SeverityHigh)
	assert.Equal(t, Elevated, m.State())
}

func TestCriticalFindingIsAlarm(t *testing.T) {
	m, _, _ := newTestMachine(t)

	m.ReportFinding(threat.SeverityCritical)
	assert.Equal(t, Alarm, m.State())
}

func TestThreeFindingsInWindowReachAlarm(t *testing.T) {
	m, clock, _ := newTestMachine(t)

	m.ReportFinding(threat.SeverityMedium)
	clock.Advance(time.Second)
	m.ReportFinding(threat.SeverityMedium)
	clock.Advance(time.Second)
	m.ReportFinding(threat.SeverityMedium)
	assert.Equal(t, Alarm, m.State())
}

func TestCuriousAutoReturnsToIdle(t *testing.T) {
	m, clock, _ := newTestMachine(t)

	m.ReportFinding(threat.SeverityMedium)
	assert.Equal(t, Curious, m.State())

	clock.Advance(10 * time.Second)
	m.Tick()
	assert.Equal(t, Curious, m.State(), "returned before grace period expired")

	clock.Advance(30 * time.Second)
	m.Tick()
	assert.Equal(t, Idle, m.State(), "should be idle after grace period")
}

func TestElevatedStepsDownThroughCurious(t *testing.T) {
	m, clock, _ := newTestMachine(t)

	m.ReportFinding(threat.SeverityHigh)
	clock.Advance(time.Minute)
	m.Tick()
	assert.Equal(t, Curious, m.State(), "should step down one state after cooldown")
	clock.Advance(time.Minute)
	m.Tick()
	assert.Equal(t, Idle, m.State())
}

func TestAlarmRequiresCleanBaselineToResolve(t *testing.T) {
	m, clock, _ := newTestMachine(t)

	m.ReportFinding(threat.SeverityCritical)
	clock.Advance(2 * time.Minute)
	m.Tick()
	assert.Equal(t, Alarm, m.State(), "alarm must not resolve without a clean baseline")

	m.BaselineVerified(true)
	m.Tick()
	assert.Equal(t, Resolved, m.State())

	clock.Advance(5 * time.Second)
	m.Tick()
	assert.Equal(t, Idle, m.State(), "should be idle after settle delay")
}

func TestAcknowledgeResolvesAlarm(t *testing.T) {
	m, _, _ := newTestMachine(t)

	m.ReportFinding(threat.SeverityCritical)
	m.Acknowledge()
	assert.Equal(t, Resolved, m.State())
}

func TestHighFindingReEscalatesResolved(t *testing.T) {
	m, _, _ := newTestMachine(t)

	m.ReportFinding(threat.SeverityCritical)
	m.Acknowledge()
	assert.Equal(t, Resolved, m.State())

	m.ReportFinding(threat.SeverityHigh)
	assert.Equal(t, Elevated, m.State(), "resolved must re-escalate on a high finding")
}

func TestTransitionCallbackSequence(t *testing.T) {
	m, clock, seen := newTestMachine(t)

	m.StartScan()
	m.ReportFinding(threat.SeverityMedium)
	clock.Advance(31 * time.Second)
	m.Tick()

	assert.Equal(t, []State{Scanning, Curious, Idle}, *seen)
}
