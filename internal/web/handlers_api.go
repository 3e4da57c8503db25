package web

import (
	"errors"
	"net/http"
	"sort"
	"strings"
	"time"

	"znp-host/internal/areq"
	"znp-host/internal/coordinator"
	"znp-host/internal/store"
	"znp-host/internal/unpi"
	"znp-host/internal/znp"
)

const maxRequestTimeout = 2 * time.Minute

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"version":  s.version,
		"commands": s.commands.Len(),
		"network":  s.coord.NetworkInfo(r.Context()),
	})
}

// handleCommands lists the registry, optionally filtered by ?subsystem= and
// ?type=.
func (s *Server) handleCommands(w http.ResponseWriter, r *http.Request) {
	var (
		sub     unpi.Subsystem
		typ     string
		bySub   bool
		q       = r.URL.Query()
		matched = make([]znp.CommandDef, 0)
	)
	if name := q.Get("subsystem"); name != "" {
		var ok bool
		if sub, ok = unpi.ParseSubsystem(name); !ok {
			s.writeError(w, http.StatusBadRequest, "unknown subsystem "+name)
			return
		}
		bySub = true
	}
	typ = strings.ToUpper(q.Get("type"))

	for _, def := range s.commands.All() {
		if bySub && def.Subsystem != sub {
			continue
		}
		if typ != "" && def.Type.String() != typ {
			continue
		}
		matched = append(matched, def)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Subsystem != matched[j].Subsystem {
			return matched[i].Subsystem < matched[j].Subsystem
		}
		return matched[i].ID < matched[j].ID
	})
	s.writeJSON(w, http.StatusOK, matched)
}

// handleRequest runs one MT command. The body is the params object; an
// optional ?timeout= overrides the driver's response timeout.
func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	sub, ok := unpi.ParseSubsystem(r.PathValue("subsys"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown subsystem "+r.PathValue("subsys"))
		return
	}
	cmd := r.PathValue("cmd")
	if s.req == nil {
		s.writeError(w, http.StatusServiceUnavailable, "no driver attached")
		return
	}

	var opts []znp.RequestOption
	if t := r.URL.Query().Get("timeout"); t != "" {
		d, err := time.ParseDuration(t)
		if err != nil || d <= 0 || d > maxRequestTimeout {
			s.writeError(w, http.StatusBadRequest, "invalid timeout "+t)
			return
		}
		opts = append(opts, znp.Timeout(d))
	}

	params := znp.Params{}
	if err := decodeBody(w, r, &params); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	msg, err := s.req.Request(r.Context(), sub, cmd, params, opts...)
	if err != nil {
		s.writeRequestError(w, sub.String()+":"+cmd, err)
		return
	}
	if msg == nil {
		// AREQ commands have no response.
		s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
		return
	}
	s.writeJSON(w, http.StatusOK, msg)
}

func (s *Server) writeRequestError(w http.ResponseWriter, cmd string, err error) {
	var (
		se  *znp.StatusError
		ee  *znp.EncodeError
		out = map[string]any{"error": err.Error()}
	)
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, znp.ErrUnknownCommand):
		status = http.StatusNotFound
	case errors.As(err, &ee):
		status = http.StatusBadRequest
	case errors.As(err, &se):
		status = http.StatusBadGateway
		out["status"] = se.Status
	case errors.Is(err, areq.ErrTimeout):
		status = http.StatusGatewayTimeout
	case errors.Is(err, znp.ErrClosed), errors.Is(err, znp.ErrQueueFlushed):
		status = http.StatusServiceUnavailable
	}
	if status >= http.StatusInternalServerError {
		s.logger.Warn("api request failed", "cmd", cmd, "err", err)
	}
	s.writeJSON(w, status, out)
}

type permitJoinRequest struct {
	Duration *uint8 `json:"duration"`
}

func (s *Server) handlePermitJoin(w http.ResponseWriter, r *http.Request) {
	var req permitJoinRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	duration := uint8(254)
	if req.Duration != nil {
		duration = *req.Duration
	}

	if err := s.coord.PermitJoin(r.Context(), duration); err != nil {
		s.logger.Error("permit join", "err", err)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "duration": duration})
}

func (s *Server) handleListDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.coord.Devices().ListDevices()
	if err != nil {
		s.logger.Error("list devices", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if devices == nil {
		devices = []*store.Device{}
	}
	s.writeJSON(w, http.StatusOK, devices)
}

// lookupDevice resolves the {ieee} path value, writing the error response
// when it fails.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (*store.Device, bool) {
	ieee, err := coordinator.ParseIEEE(r.PathValue("ieee"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return nil, false
	}
	dev, err := s.coord.Devices().GetDevice(ieee)
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "device not found")
		return nil, false
	}
	if err != nil {
		s.logger.Error("get device", "err", err, "ieee", ieee)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return nil, false
	}
	return dev, true
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	if dev, ok := s.lookupDevice(w, r); ok {
		s.writeJSON(w, http.StatusOK, dev)
	}
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	if err := s.coord.Devices().RemoveDevice(r.Context(), dev.IEEEAddress); err != nil {
		s.logger.Error("delete device", "err", err, "ieee", dev.IEEEAddress)
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type readAttributesRequest struct {
	Endpoint  uint8    `json:"endpoint"`
	ClusterID uint16   `json:"cluster_id"`
	AttrIDs   []uint16 `json:"attr_ids"`
}

func (s *Server) handleReadAttributes(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	var req readAttributesRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	switch {
	case len(req.AttrIDs) == 0:
		s.writeError(w, http.StatusBadRequest, "attr_ids must not be empty")
		return
	case len(req.AttrIDs) > 50:
		s.writeError(w, http.StatusBadRequest, "attr_ids limited to 50")
		return
	}

	results, err := s.coord.ReadAttributes(r.Context(), dev.ShortAddress, s.endpoint(dev, req.Endpoint), req.ClusterID, req.AttrIDs)
	if err != nil {
		s.logger.Warn("read attributes", "err", err, "ieee", dev.IEEEAddress)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, results)
}

type sendCommandRequest struct {
	Endpoint uint8          `json:"endpoint"`
	Cluster  string         `json:"cluster"`
	Command  string         `json:"command"`
	Values   map[string]any `json:"values,omitempty"`
}

func (s *Server) handleSendCommand(w http.ResponseWriter, r *http.Request) {
	dev, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	var req sendCommandRequest
	if err := decodeBody(w, r, &req); err != nil || req.Cluster == "" || req.Command == "" {
		s.writeError(w, http.StatusBadRequest, "cluster and command are required")
		return
	}

	if err := s.coord.SendNamedCommand(r.Context(), dev.ShortAddress, s.endpoint(dev, req.Endpoint), req.Cluster, req.Command, req.Values); err != nil {
		s.logger.Warn("send command", "err", err, "ieee", dev.IEEEAddress)
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// endpoint defaults to the device's first endpoint, or 1.
func (s *Server) endpoint(dev *store.Device, ep uint8) uint8 {
	if ep != 0 {
		return ep
	}
	if len(dev.Endpoints) > 0 {
		return dev.Endpoints[0].ID
	}
	return 1
}
