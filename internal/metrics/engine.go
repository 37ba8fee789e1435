package metrics

// EngineMetrics holds the metric set the driftwatch engine reports.
type EngineMetrics struct {
	Registry *Registry

	// Counters.
	EventsTotal      *Counter
	FindingsLow      *Counter
	FindingsMedium   *Counter
	FindingsHigh     *Counter
	FindingsCritical *Counter
	ReconcilesTotal  *Counter
	ReconcilesDefer  *Counter
	ConflictsTotal   *Counter
	SkipsTotal       *Counter
	RescansTotal     *Counter

	// Gauges.
	RegistryRecords *Gauge
	ModeState       *Gauge

	// Histograms.
	ReconcileDuration *Histogram
}

// NewEngineMetrics creates the engine metric set on a fresh registry.
func NewEngineMetrics() *EngineMetrics {
	r := NewRegistry("driftwatch")
	return &EngineMetrics{
		Registry: r,

		EventsTotal: r.Counter("events_total",
			"Filesystem events that passed the path filter.", nil),
		FindingsLow: r.Counter("findings_total",
			"Threat findings raised, by severity.", Labels{"severity": "low"}),
		FindingsMedium: r.Counter("findings_total",
			"Threat findings raised, by severity.", Labels{"severity": "medium"}),
		FindingsHigh: r.Counter("findings_total",
			"Threat findings raised, by severity.", Labels{"severity": "high"}),
		FindingsCritical: r.Counter("findings_total",
			"Threat findings raised, by severity.", Labels{"severity": "critical"}),
		ReconcilesTotal: r.Counter("reconciles_total",
			"Reconciliation cycles completed.", nil),
		ReconcilesDefer: r.Counter("reconciles_deferred_total",
			"Reconciliation cycles deferred because the registry lock was busy.", nil),
		ConflictsTotal: r.Counter("conflicts_total",
			"Registry conflicts resolved local-wins.", nil),
		SkipsTotal: r.Counter("skips_total",
			"Tracked files skipped during reconciliation.", nil),
		RescansTotal: r.Counter("rescans_total",
			"Full rescans requested by the observer or the schedule.", nil),

		RegistryRecords: r.Gauge("registry_records",
			"Records currently held in the registry.", nil),
		ModeState: r.Gauge("mode_state",
			"Current operating mode as an ordinal.", nil),

		ReconcileDuration: r.Histogram("reconcile_duration_seconds",
			"Wall time of a reconciliation cycle.", nil, nil),
	}
}

// FindingCounter returns the finding counter for a severity name as
// produced by the threat detector.
func (m *EngineMetrics) FindingCounter(severity string) *Counter {
	switch severity {
	case "low":
		return m.FindingsLow
	case "medium":
		return m.FindingsMedium
	case "high":
		return m.FindingsHigh
	case "critical":
		return m.FindingsCritical
	default:
		return m.FindingsLow
	}
}
