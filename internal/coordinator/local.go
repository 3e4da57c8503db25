package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"znp-host/internal/ncp"
	"znp-host/internal/zcl"
)

const localSendTimeout = 10 * time.Second

// localEndpoints holds the attribute servers behind the coordinator's own
// endpoints, keyed by endpoint then cluster.
type localEndpoints struct {
	coord  *Coordinator
	logger *slog.Logger
	seq    atomic.Uint32

	mu      sync.RWMutex
	servers map[uint8]map[uint16]*zcl.Server
}

func newLocalEndpoints(c *Coordinator) *localEndpoints {
	l := &localEndpoints{
		coord:   c,
		logger:  c.logger.With("component", "local_zcl"),
		servers: make(map[uint8]map[uint16]*zcl.Server),
	}
	for _, ep := range c.config.Endpoints {
		for _, id := range ep.InClusters {
			def := c.registry.Get(id)
			if def == nil {
				l.logger.Debug("no definition for local cluster", "ep", ep.Endpoint, "cluster", fmt.Sprintf("0x%04X", id))
				continue
			}
			l.add(ep.Endpoint, zcl.NewServer(def,
				zcl.WithServerLogger(l.logger),
				zcl.WithReportFunc(l.reporter(ep.Endpoint))))
		}
	}
	return l
}

func (l *localEndpoints) add(ep uint8, srv *zcl.Server) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.servers[ep] == nil {
		l.servers[ep] = make(map[uint16]*zcl.Server)
	}
	l.servers[ep][srv.Cluster().ID] = srv
}

func (l *localEndpoints) server(ep uint8, cluster uint16) *zcl.Server {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.servers[ep][cluster]
}

func (l *localEndpoints) close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, byCluster := range l.servers {
		for _, srv := range byCluster {
			srv.Close()
		}
	}
}

// handleRequest answers a frame addressed to a local endpoint. It runs off
// the reader goroutine since the answer is an AF request.
func (l *localEndpoints) handleRequest(in ncp.IncomingFrame) {
	go l.respond(in)
}

func (l *localEndpoints) respond(in ncp.IncomingFrame) {
	var (
		rsp *zcl.Frame
		err error
	)
	if srv := l.server(in.DstEP, in.ClusterID); srv != nil {
		rsp, err = srv.Handle(in.Frame)
		if err != nil {
			l.logger.Error("local request", "cluster", fmt.Sprintf("0x%04X", in.ClusterID), "err", err)
			return
		}
	} else {
		l.logger.Debug("request for unserved cluster",
			"short", fmt.Sprintf("0x%04X", in.SrcAddr),
			"ep", in.DstEP,
			"cluster", fmt.Sprintf("0x%04X", in.ClusterID))
		if rsp, err = unsupportedCluster(in.Frame); err != nil {
			return
		}
	}
	if rsp == nil {
		return
	}

	ctx, cancel := context.WithTimeout(l.coord.Context(), localSendTimeout)
	defer cancel()
	dst := ncp.Address{Nwk: in.SrcAddr, Endpoint: in.SrcEP}
	if err := l.coord.ncp.SendFrame(ctx, dst, in.DstEP, in.ClusterID, rsp); err != nil {
		l.logger.Warn("local response", "short", fmt.Sprintf("0x%04X", in.SrcAddr), "err", err)
	}
}

func unsupportedCluster(f *zcl.Frame) (*zcl.Frame, error) {
	if f.IsGlobal() && zcl.Command(f.CommandID) == zcl.CmdDefaultRsp {
		return nil, nil
	}
	payload, err := zcl.EncodeFoundation(zcl.CmdDefaultRsp, zcl.DefaultResponse{
		CommandID: f.CommandID,
		Status:    zcl.StatusUnsupportedCluster,
	})
	if err != nil {
		return nil, err
	}
	return &zcl.Frame{Header: f.Reply(zcl.FrameGlobal, uint8(zcl.CmdDefaultRsp)), Payload: payload}, nil
}

// reporter sends the records a local server reports to the configured
// target and raises them as events.
func (l *localEndpoints) reporter(ep uint8) zcl.ReportFunc {
	return func(cluster uint16, records []zcl.AttributeRecord) {
		l.coord.events.Emit(Event{Type: EventLocalReport, Data: map[string]interface{}{
			"endpoint":   ep,
			"cluster_id": cluster,
			"records":    records,
		}})
		target := l.coord.config.ReportTarget
		if target.Endpoint == 0 {
			return
		}
		payload, err := zcl.EncodeFoundation(zcl.CmdReport, records)
		if err != nil {
			l.logger.Error("encode report", "cluster", fmt.Sprintf("0x%04X", cluster), "err", err)
			return
		}
		f := &zcl.Frame{
			Header: zcl.Header{
				FrameType:              zcl.FrameGlobal,
				Direction:              zcl.ServerToClient,
				DisableDefaultResponse: true,
				Sequence:               uint8(l.seq.Add(1)),
				CommandID:              uint8(zcl.CmdReport),
			},
			Payload: payload,
		}
		go func() {
			ctx, cancel := context.WithTimeout(l.coord.Context(), localSendTimeout)
			defer cancel()
			if err := l.coord.ncp.SendFrame(ctx, target, ep, cluster, f); err != nil {
				l.logger.Warn("send report",
					"cluster", fmt.Sprintf("0x%04X", cluster),
					"target", fmt.Sprintf("0x%04X/%d", target.Nwk, target.Endpoint),
					"err", err)
			}
		}()
	}
}

// Server returns the local attribute server for a cluster on one of the
// coordinator's endpoints, or nil.
func (c *Coordinator) Server(endpoint uint8, cluster uint16) *zcl.Server {
	return c.local.server(endpoint, cluster)
}

// SetAttribute updates a local attribute. Configured reports fire as usual.
func (c *Coordinator) SetAttribute(endpoint uint8, cluster, attr uint16, value any) error {
	srv := c.local.server(endpoint, cluster)
	if srv == nil {
		return fmt.Errorf("no local server for cluster 0x%04X on endpoint %d", cluster, endpoint)
	}
	return srv.SetValue(attr, value)
}
