package logger

import "github.com/harrison/crestprov/internal/models"

// Sink is the set of run hooks every logger in this package implements.
type Sink interface {
	LogEvent(event models.DeviceEvent)
	LogDeviceStart(target models.Target, index, total int)
	LogDeviceResult(result models.DeviceResult)
	LogSummary(r models.FleetReport)
}

type messageLogger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
}

// MultiLogger fans every call out to its sinks in order.
type MultiLogger struct {
	sinks []Sink
}

// NewMultiLogger creates a MultiLogger. Nil sinks are dropped.
func NewMultiLogger(sinks ...Sink) *MultiLogger {
	m := &MultiLogger{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

// Add appends a sink. It must not be called while a run is logging.
func (m *MultiLogger) Add(sink Sink) {
	if sink != nil {
		m.sinks = append(m.sinks, sink)
	}
}

// LogEvent forwards event to every sink.
func (m *MultiLogger) LogEvent(event models.DeviceEvent) {
	for _, s := range m.sinks {
		s.LogEvent(event)
	}
}

// LogDeviceStart forwards to every sink.
func (m *MultiLogger) LogDeviceStart(target models.Target, index, total int) {
	for _, s := range m.sinks {
		s.LogDeviceStart(target, index, total)
	}
}

// LogDeviceResult forwards to every sink.
func (m *MultiLogger) LogDeviceResult(result models.DeviceResult) {
	for _, s := range m.sinks {
		s.LogDeviceResult(result)
	}
}

// LogSummary forwards to every sink.
func (m *MultiLogger) LogSummary(r models.FleetReport) {
	for _, s := range m.sinks {
		s.LogSummary(r)
	}
}

// LogDebug forwards to the sinks that accept plain messages.
func (m *MultiLogger) LogDebug(message string) {
	m.each(func(l messageLogger) { l.LogDebug(message) })
}

// LogInfo forwards to the sinks that accept plain messages.
func (m *MultiLogger) LogInfo(message string) {
	m.each(func(l messageLogger) { l.LogInfo(message) })
}

// LogWarn forwards to the sinks that accept plain messages.
func (m *MultiLogger) LogWarn(message string) {
	m.each(func(l messageLogger) { l.LogWarn(message) })
}

// LogError forwards to the sinks that accept plain messages.
func (m *MultiLogger) LogError(message string) {
	m.each(func(l messageLogger) { l.LogError(message) })
}

func (m *MultiLogger) each(fn func(messageLogger)) {
	for _, s := range m.sinks {
		if l, ok := s.(messageLogger); ok {
			fn(l)
		}
	}
}
