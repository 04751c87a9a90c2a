package metrics

// MultiSink fans records out to multiple sinks.
type MultiSink struct {
	Sinks []MetricsSink
}

// NewMultiSink creates a MultiSink with the provided sinks.
func NewMultiSink(sinks ...MetricsSink) *MultiSink {
	return &MultiSink{Sinks: sinks}
}

// RecordAssignment forwards the record to all sinks, returning the first error encountered.
func (m *MultiSink) RecordAssignment(rec AssignmentRecord) error {
	for _, s := range m.Sinks {
		if err := s.RecordAssignment(rec); err != nil {
			return err
		}
	}
	return nil
}

// RecordEscalation forwards escalations to the sinks supporting them.
func (m *MultiSink) RecordEscalation(ev EscalationEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(EscalationRecorder); ok {
			if err := rec.RecordEscalation(ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// RecordEvent forwards bus events to the sinks supporting them.
func (m *MultiSink) RecordEvent(ev BusEvent) error {
	for _, s := range m.Sinks {
		if rec, ok := s.(EventRecorder); ok {
			if err := rec.RecordEvent(ev); err != nil {
				return err
			}
		}
	}
	return nil
}
