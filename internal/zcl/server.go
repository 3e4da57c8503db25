package zcl

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// CommandHandler runs a cluster-specific command received by a Server.
// The returned status is sent back in a default response unless the
// sender disabled it.
type CommandHandler func(cmd *CommandDef, values map[string]any) Status

// ReportFunc receives attribute reports produced by a Server.
type ReportFunc func(cluster uint16, records []AttributeRecord)

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithClock sets the clock used for reporting timers.
func WithClock(c Clock) ServerOption {
	return func(s *Server) { s.clock = c }
}

// WithReportFunc sets the report sink.
func WithReportFunc(fn ReportFunc) ServerOption {
	return func(s *Server) { s.report = fn }
}

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// Server is the local attribute server for one cluster instance. It
// answers foundation commands against its attribute table and drives
// attribute reporting.
type Server struct {
	cluster *ClusterDef
	clock   Clock
	report  ReportFunc
	logger  *slog.Logger

	mu        sync.Mutex
	values    map[uint16]any
	providers map[uint16]func() any
	handlers  map[uint8]CommandHandler
	reports   map[uint16]*reportEntry
	timeouts  map[uint16]uint16
	closed    bool
}

// NewServer creates a server for cluster c with every attribute set to
// the zero value of its type.
func NewServer(c *ClusterDef, opts ...ServerOption) *Server {
	s := &Server{
		cluster:   c.DeepCopy(),
		clock:     SystemClock(),
		values:    make(map[uint16]any, len(c.Attributes)),
		providers: make(map[uint16]func() any),
		handlers:  make(map[uint8]CommandHandler),
		reports:   make(map[uint16]*reportEntry),
		timeouts:  make(map[uint16]uint16),
	}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	s.logger = s.logger.With("cluster", fmt.Sprintf("0x%04X", c.ID))
	for _, a := range s.cluster.Attributes {
		s.values[a.ID] = zeroValue(a.Type)
	}
	return s
}

// zeroValue decodes an all-zero buffer, which yields 0, false or an empty
// string depending on the type.
func zeroValue(t DataType) any {
	v, _, err := DecodeValue(t, make([]byte, 16))
	if err != nil {
		return nil
	}
	return v
}

// Cluster returns the cluster definition served.
func (s *Server) Cluster() *ClusterDef { return s.cluster }

// Value returns the current value of an attribute.
func (s *Server) Value(id uint16) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[id]
	return v, ok
}

// SetValue updates an attribute locally, bypassing access checks. A
// configured attribute whose value moved past its reportable change is
// reported immediately.
func (s *Server) SetValue(id uint16, v any) error {
	attr := s.cluster.FindAttribute(id)
	if attr == nil {
		return &StatusError{Status: StatusUnsupportedAttribute, AttrID: id}
	}
	// Normalize through the codec so stored values always have the
	// decoded Go type.
	b, err := EncodeValue(attr.Type, v)
	if err != nil {
		return fmt.Errorf("attribute 0x%04X: %w", id, err)
	}
	norm, _, err := DecodeValue(attr.Type, b)
	if err != nil {
		return fmt.Errorf("attribute 0x%04X: %w", id, err)
	}

	s.mu.Lock()
	s.values[id] = norm
	rec := s.changedLocked(attr, norm)
	s.mu.Unlock()

	s.emit(rec)
	return nil
}

// SetProvider makes reads of id call fn for a fresh value.
func (s *Server) SetProvider(id uint16, fn func() any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.providers[id] = fn
}

// OnCommand registers a handler for a client-to-server cluster command.
func (s *Server) OnCommand(id uint8, h CommandHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[id] = h
}

// Handle processes a frame addressed to this cluster and returns the
// response frame, or nil when none is due.
func (s *Server) Handle(f *Frame) (*Frame, error) {
	if !f.IsGlobal() {
		return s.handleCluster(f)
	}

	cmd := Command(f.CommandID)
	switch cmd {
	case CmdRead, CmdWrite, CmdWriteUndiv, CmdWriteNoRsp,
		CmdConfigReport, CmdReadReportConfig, CmdDiscover:
	case CmdReadRsp, CmdWriteRsp, CmdConfigReportRsp, CmdReadReportConfigRsp,
		CmdReport, CmdDefaultRsp, CmdDiscoverRsp:
		// Responses are for the client side.
		return nil, nil
	default:
		return s.defaultResponse(f, StatusUnsupGeneralCommand)
	}

	req, err := DecodeFoundation(cmd, f.Payload)
	if err != nil {
		s.logger.Warn("malformed foundation command", "cmd", cmd, "err", err)
		return s.defaultResponse(f, StatusMalformedCommand)
	}

	var (
		rspCmd  Command
		rsp     any
		reports []AttributeRecord
	)
	switch cmd {
	case CmdRead:
		rspCmd, rsp = CmdReadRsp, s.read(req.([]uint16))
	case CmdWrite, CmdWriteNoRsp:
		var st []WriteStatusRecord
		st, reports = s.write(req.([]AttributeRecord), false)
		rspCmd, rsp = CmdWriteRsp, st
	case CmdWriteUndiv:
		var st []WriteStatusRecord
		st, reports = s.write(req.([]AttributeRecord), true)
		rspCmd, rsp = CmdWriteRsp, st
	case CmdConfigReport:
		rspCmd, rsp = CmdConfigReportRsp, s.configure(req.([]ReportConfig))
	case CmdReadReportConfig:
		rspCmd, rsp = CmdReadReportConfigRsp, s.readReportConfig(req.([]ReportConfigQuery))
	case CmdDiscover:
		rspCmd, rsp = CmdDiscoverRsp, s.discover(req.(DiscoverRequest))
	}
	s.emit(reports)

	if cmd == CmdWriteNoRsp {
		return nil, nil
	}
	payload, err := EncodeFoundation(rspCmd, rsp)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", rspCmd, err)
	}
	return &Frame{Header: f.Reply(FrameGlobal, uint8(rspCmd)), Payload: payload}, nil
}

func (s *Server) handleCluster(f *Frame) (*Frame, error) {
	def := s.cluster.FindCommand(f.CommandID, f.Direction)
	s.mu.Lock()
	h := s.handlers[f.CommandID]
	s.mu.Unlock()
	if def == nil || h == nil || f.Direction != ClientToServer {
		return s.defaultResponse(f, StatusUnsupClusterCommand)
	}
	values, err := DecodeFunctional(def, f.Payload)
	if err != nil {
		s.logger.Warn("malformed cluster command", "cmd", def.Name, "err", err)
		return s.defaultResponse(f, StatusMalformedCommand)
	}
	st := h(def, values)
	if f.DisableDefaultResponse && st == StatusSuccess {
		return nil, nil
	}
	return s.defaultResponse(f, st)
}

func (s *Server) defaultResponse(f *Frame, st Status) (*Frame, error) {
	payload, err := EncodeFoundation(CmdDefaultRsp, DefaultResponse{CommandID: f.CommandID, Status: st})
	if err != nil {
		return nil, err
	}
	return &Frame{Header: f.Reply(FrameGlobal, uint8(CmdDefaultRsp)), Payload: payload}, nil
}

func (s *Server) read(ids []uint16) []ReadStatusRecord {
	recs := make([]ReadStatusRecord, 0, len(ids))
	var reports []AttributeRecord
	s.mu.Lock()
	for _, id := range ids {
		attr := s.cluster.FindAttribute(id)
		switch {
		case attr == nil:
			recs = append(recs, ReadStatusRecord{AttrID: id, Status: StatusUnsupportedAttribute})
		case !attr.IsReadable():
			recs = append(recs, ReadStatusRecord{AttrID: id, Status: StatusWriteOnly})
		default:
			v := s.values[id]
			if p := s.providers[id]; p != nil {
				if fresh, ok := s.normalize(attr, p()); ok {
					v = fresh
					s.values[id] = v
					reports = append(reports, s.changedLocked(attr, v)...)
				}
			}
			recs = append(recs, ReadStatusRecord{AttrID: id, Status: StatusSuccess, Type: attr.Type, Value: v})
		}
	}
	s.mu.Unlock()
	s.emit(reports)
	return recs
}

func (s *Server) normalize(attr *AttributeDef, v any) (any, bool) {
	b, err := EncodeValue(attr.Type, v)
	if err != nil {
		s.logger.Warn("provider returned invalid value", "attr", fmt.Sprintf("0x%04X", attr.ID), "err", err)
		return nil, false
	}
	out, _, err := DecodeValue(attr.Type, b)
	return out, err == nil
}

func (s *Server) checkWrite(rec AttributeRecord) Status {
	attr := s.cluster.FindAttribute(rec.AttrID)
	switch {
	case attr == nil:
		return StatusUnsupportedAttribute
	case !attr.IsWritable():
		return StatusReadOnly
	case attr.Type != rec.Type:
		return StatusInvalidDataType
	}
	return StatusSuccess
}

// write applies a batch of attribute writes. Undivided batches are applied
// only when every record is valid.
func (s *Server) write(recs []AttributeRecord, undivided bool) ([]WriteStatusRecord, []AttributeRecord) {
	out := make([]WriteStatusRecord, len(recs))
	failed := false
	for i, rec := range recs {
		out[i] = WriteStatusRecord{AttrID: rec.AttrID, Status: s.checkWrite(rec)}
		failed = failed || out[i].Status != StatusSuccess
	}
	if undivided && failed {
		return out, nil
	}

	var reports []AttributeRecord
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, rec := range recs {
		if out[i].Status != StatusSuccess {
			continue
		}
		s.values[rec.AttrID] = rec.Value
		reports = append(reports, s.changedLocked(s.cluster.FindAttribute(rec.AttrID), rec.Value)...)
	}
	return out, reports
}

func (s *Server) discover(req DiscoverRequest) DiscoverResponse {
	attrs := make([]DiscoveredAttribute, 0, len(s.cluster.Attributes))
	for _, a := range s.cluster.Attributes {
		if a.ID >= req.StartAttrID {
			attrs = append(attrs, DiscoveredAttribute{AttrID: a.ID, Type: a.Type})
		}
	}
	sort.Slice(attrs, func(i, j int) bool { return attrs[i].AttrID < attrs[j].AttrID })
	rsp := DiscoverResponse{Complete: len(attrs) <= int(req.MaxCount)}
	if !rsp.Complete {
		attrs = attrs[:req.MaxCount]
	}
	rsp.Attributes = attrs
	return rsp
}

func (s *Server) emit(recs []AttributeRecord) {
	if len(recs) == 0 || s.report == nil {
		return
	}
	s.report(s.cluster.ID, recs)
}
