package zcl

import (
	"fmt"
	"math"
	"time"
)

// reportEntry is the reporting state of one attribute. gen increments on
// every reconfiguration so callbacks of cancelled timers can tell they are
// stale.
type reportEntry struct {
	config       ReportConfig
	lastReported any
	minElapsed   bool // informational; change reports do not wait for it
	minTimer     Timer
	maxTimer     Timer
	gen          uint64
}

func (e *reportEntry) stop() {
	if e.minTimer != nil {
		e.minTimer.Stop()
		e.minTimer = nil
	}
	if e.maxTimer != nil {
		e.maxTimer.Stop()
		e.maxTimer = nil
	}
}

// ReportState is a snapshot of an attribute's reporting state.
type ReportState struct {
	Config       ReportConfig
	LastReported any
	MinElapsed   bool
}

// ReportState returns the reporting state of attribute id, if configured.
func (s *Server) ReportState(id uint16) (ReportState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.reports[id]
	if !ok {
		return ReportState{}, false
	}
	return ReportState{Config: e.config, LastReported: e.lastReported, MinElapsed: e.minElapsed}, true
}

// Close cancels every reporting timer. Later configurations are refused.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, e := range s.reports {
		e.stop()
		delete(s.reports, id)
	}
}

func (s *Server) configure(recs []ReportConfig) []ConfigReportStatus {
	out := make([]ConfigReportStatus, len(recs))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range recs {
		out[i] = ConfigReportStatus{Direction: rec.Direction, AttrID: rec.AttrID, Status: s.configureLocked(rec)}
	}
	return out
}

func (s *Server) configureLocked(rec ReportConfig) Status {
	attr := s.cluster.FindAttribute(rec.AttrID)
	if attr == nil || attr.Type.IsComposite() {
		return StatusUnsupportedAttribute
	}
	if rec.Direction == ReportReceive {
		s.timeouts[rec.AttrID] = rec.Timeout
		return StatusSuccess
	}
	if rec.Type != attr.Type {
		return StatusInvalidDataType
	}
	if s.closed {
		return StatusFailure
	}

	prev := s.reports[rec.AttrID]
	var gen uint64
	if prev != nil {
		prev.stop()
		gen = prev.gen + 1
	}
	if rec.MaxInterval == NeverReport {
		delete(s.reports, rec.AttrID)
		s.logger.Debug("reporting disabled", "attr", fmt.Sprintf("0x%04X", rec.AttrID))
		return StatusSuccess
	}

	e := &reportEntry{config: rec, lastReported: s.values[rec.AttrID], gen: gen}
	s.reports[rec.AttrID] = e
	s.armMinLocked(rec.AttrID, e)
	if rec.MaxInterval > 0 {
		s.armMaxLocked(rec.AttrID, e)
	}
	s.logger.Debug("reporting configured",
		"attr", fmt.Sprintf("0x%04X", rec.AttrID),
		"min", rec.MinInterval, "max", rec.MaxInterval, "change", rec.ReportableChange)
	return StatusSuccess
}

func seconds(n uint16) time.Duration { return time.Duration(n) * time.Second }

// armMinLocked (re)starts the one-shot minimum interval timer.
func (s *Server) armMinLocked(id uint16, e *reportEntry) {
	if e.minTimer != nil {
		e.minTimer.Stop()
		e.minTimer = nil
	}
	e.minElapsed = false
	if e.config.MinInterval == 0 {
		e.minElapsed = true
		return
	}
	gen := e.gen
	e.minTimer = s.clock.AfterFunc(seconds(e.config.MinInterval), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if cur := s.reports[id]; cur == e && e.gen == gen {
			e.minTimer = nil
			e.minElapsed = true
		}
	})
}

// armMaxLocked schedules the next periodic report. The callback re-arms
// itself, so there is exactly one pending max timer per entry.
func (s *Server) armMaxLocked(id uint16, e *reportEntry) {
	gen := e.gen
	e.maxTimer = s.clock.AfterFunc(seconds(e.config.MaxInterval), func() {
		s.mu.Lock()
		if cur := s.reports[id]; cur != e || e.gen != gen {
			s.mu.Unlock()
			return
		}
		attr := s.cluster.FindAttribute(id)
		v := s.values[id]
		if p := s.providers[id]; p != nil {
			if fresh, ok := s.normalize(attr, p()); ok {
				v = fresh
				s.values[id] = v
			}
		}
		e.lastReported = v
		s.armMinLocked(id, e)
		s.armMaxLocked(id, e)
		s.mu.Unlock()

		s.emit([]AttributeRecord{{AttrID: id, Type: attr.Type, Value: v}})
	})
}

// changedLocked decides whether a new attribute value triggers an
// immediate report. Analog values must move by more than the reportable
// change since the last report; discrete values report on any change.
// Change reports go out even while the minimum interval is running.
func (s *Server) changedLocked(attr *AttributeDef, v any) []AttributeRecord {
	e := s.reports[attr.ID]
	if e == nil {
		return nil
	}
	if IsAnalog(attr.Type) {
		cur, ok1 := Numeric(v)
		last, ok2 := Numeric(e.lastReported)
		if !ok1 || !ok2 {
			return nil
		}
		change, _ := Numeric(e.config.ReportableChange)
		if math.Abs(cur-last) <= change {
			return nil
		}
	} else if valuesEqual(v, e.lastReported) {
		return nil
	}
	e.lastReported = v
	return []AttributeRecord{{AttrID: attr.ID, Type: attr.Type, Value: v}}
}

func valuesEqual(a, b any) bool {
	ab, aok := a.([]byte)
	bb, bok := b.([]byte)
	if aok || bok {
		return aok && bok && string(ab) == string(bb)
	}
	return a == b
}

// readReportConfig answers a read reporting configuration request.
func (s *Server) readReportConfig(queries []ReportConfigQuery) []ReportConfigRecord {
	out := make([]ReportConfigRecord, len(queries))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, q := range queries {
		rec := ReportConfigRecord{ReportConfig: ReportConfig{Direction: q.Direction, AttrID: q.AttrID}}
		attr := s.cluster.FindAttribute(q.AttrID)
		switch {
		case attr == nil:
			rec.Status = StatusUnsupportedAttribute
		case q.Direction == ReportReceive:
			if t, ok := s.timeouts[q.AttrID]; ok {
				rec.Status = StatusSuccess
				rec.Timeout = t
			} else {
				rec.Status = StatusNotFound
			}
		default:
			if e, ok := s.reports[q.AttrID]; ok {
				rec.Status = StatusSuccess
				rec.ReportConfig = e.config
			} else {
				rec.Status = StatusNotFound
			}
		}
		out[i] = rec
	}
	return out
}
