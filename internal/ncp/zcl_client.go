package ncp

import (
	"context"
	"errors"
	"fmt"
	"time"

	"znp-host/internal/areq"
	"znp-host/internal/unpi"
	"znp-host/internal/zcl"
	"znp-host/internal/znp"
)

// AF transmit options: none. Route discovery is left to the stack.
const afOptions uint8 = 0x00

// ErrUnexpectedResponse is returned when a device answers a ZCL request with
// a different command than expected.
var ErrUnexpectedResponse = errors.New("ncp: unexpected zcl response")

func zclKey(nwk uint16, ep uint8, cluster uint16, seq uint8) string {
	return fmt.Sprintf("%04X/%d/%04X/%d", nwk, ep, cluster, seq)
}

func (n *ZNP) nextZCLSeq() uint8 {
	return uint8(n.zclSeq.Add(1))
}

func (n *ZNP) nextTransID() uint8 {
	return uint8(n.transID.Add(1))
}

// dataRequest sends payload through AF and waits for the delivery confirm.
func (n *ZNP) dataRequest(ctx context.Context, dst Address, srcEP uint8, cluster uint16, payload []byte) error {
	tid := n.nextTransID()
	msg, err := n.drv.RequestAndWait(ctx, unpi.AF, "dataRequest", znp.Params{
		"dstaddr":      dst.Nwk,
		"destendpoint": dst.Endpoint,
		"srcendpoint":  srcEP,
		"clusterid":    cluster,
		"transid":      tid,
		"options":      afOptions,
		"radius":       n.cfg.Radius,
		"data":         payload,
	}, znp.Expect{Subsystem: unpi.AF, Name: "dataConfirm", Match: znp.Params{"transid": tid}})
	if err != nil {
		return fmt.Errorf("af data request to 0x%04X: %w", dst.Nwk, err)
	}
	if st := u8(msg.Params, "status"); st != 0 {
		return &DeliveryError{DstAddr: dst.Nwk, Status: st}
	}
	return nil
}

// SendFrame transmits a ZCL frame as is. The caller owns the sequence number.
func (n *ZNP) SendFrame(ctx context.Context, dst Address, srcEP uint8, cluster uint16, f *zcl.Frame) error {
	raw, err := f.MarshalBinary()
	if err != nil {
		return err
	}
	n.logger.Debug("ZCL TX",
		"short", fmt.Sprintf("0x%04X", dst.Nwk),
		"ep", dst.Endpoint,
		"cluster", fmt.Sprintf("0x%04X", cluster),
		"seq", f.Sequence,
		"cmd", fmt.Sprintf("0x%02X", f.CommandID),
		"payload", fmt.Sprintf("%X", f.Payload))
	return n.dataRequest(ctx, dst, srcEP, cluster, raw)
}

// request sends a frame with a fresh sequence number. With wait set it
// blocks for the frame the device answers with.
func (n *ZNP) request(ctx context.Context, dst Address, cluster uint16, hdr zcl.Header, payload []byte, wait bool) (*zcl.Frame, error) {
	hdr.Sequence = n.nextZCLSeq()
	f := &zcl.Frame{Header: hdr, Payload: payload}

	// Registered before sending so an early reply is kept. The response
	// window opens once the AF confirm is in.
	var w *areq.Waiter[*zcl.Frame]
	key := zclKey(dst.Nwk, dst.Endpoint, cluster, hdr.Sequence)
	if wait {
		var err error
		if w, err = n.zclPending.Register(key, 0, nil); err != nil {
			return nil, err
		}
		defer n.zclPending.Deregister(key)
	}

	if err := n.SendFrame(ctx, dst, n.cfg.SrcEndpoint, cluster, f); err != nil {
		return nil, err
	}
	if w == nil {
		return nil, nil
	}
	if timeout := n.cfg.ZCLTimeout; timeout > 0 {
		timer := time.AfterFunc(timeout, func() {
			n.zclPending.Reject(key, &areq.TimeoutError{Key: key, After: timeout})
		})
		defer timer.Stop()
	}
	rsp, err := w.Wait(ctx)
	if err != nil {
		n.logger.Warn("ZCL response timeout",
			"short", fmt.Sprintf("0x%04X", dst.Nwk),
			"cluster", fmt.Sprintf("0x%04X", cluster),
			"seq", hdr.Sequence,
			"err", err)
		return nil, fmt.Errorf("zcl 0x%04X/%d cluster 0x%04X: %w", dst.Nwk, dst.Endpoint, cluster, err)
	}
	return rsp, nil
}

func globalHeader(cmd zcl.Command, mfr uint16) zcl.Header {
	return zcl.Header{
		FrameType:            zcl.FrameGlobal,
		Direction:            zcl.ClientToServer,
		ManufacturerSpecific: mfr != 0,
		ManufacturerCode:     mfr,
		CommandID:            uint8(cmd),
	}
}

// global runs a foundation request/response exchange and returns the
// decoded response records.
func (n *ZNP) global(ctx context.Context, dst Address, cluster, mfr uint16, cmd zcl.Command, v any, want zcl.Command) (any, error) {
	payload, err := zcl.EncodeFoundation(cmd, v)
	if err != nil {
		return nil, err
	}
	rsp, err := n.request(ctx, dst, cluster, globalHeader(cmd, mfr), payload, true)
	if err != nil {
		return nil, err
	}
	if !rsp.IsGlobal() {
		return nil, fmt.Errorf("%w: cluster command 0x%02X", ErrUnexpectedResponse, rsp.CommandID)
	}
	got := zcl.Command(rsp.CommandID)
	if got == zcl.CmdDefaultRsp && want != zcl.CmdDefaultRsp {
		dr, err := zcl.DecodeFoundation(zcl.CmdDefaultRsp, rsp.Payload)
		if err != nil {
			return nil, err
		}
		st := dr.(zcl.DefaultResponse).Status
		return nil, &CommandStatusError{ClusterID: cluster, CommandID: uint8(cmd), Status: st}
	}
	if got != want {
		return nil, fmt.Errorf("%w: %s instead of %s", ErrUnexpectedResponse, got, want)
	}
	return zcl.DecodeFoundation(got, rsp.Payload)
}

func (n *ZNP) ReadAttributes(ctx context.Context, req ReadAttributesRequest) ([]zcl.ReadStatusRecord, error) {
	n.logger.Info("ZCL read attrs TX",
		"short", fmt.Sprintf("0x%04X", req.DstAddr),
		"ep", req.DstEP,
		"cluster", fmt.Sprintf("0x%04X", req.ClusterID),
		"attrs", fmt.Sprintf("%v", req.AttrIDs))

	out, err := n.global(ctx, Address{req.DstAddr, req.DstEP}, req.ClusterID, req.ManufacturerCode,
		zcl.CmdRead, req.AttrIDs, zcl.CmdReadRsp)
	if err != nil {
		return nil, err
	}
	recs := out.([]zcl.ReadStatusRecord)
	for _, r := range recs {
		n.logger.Debug("ZCL read attrs RX",
			"short", fmt.Sprintf("0x%04X", req.DstAddr),
			"attr", fmt.Sprintf("0x%04X", r.AttrID),
			"status", r.Status,
			"value", r.Value)
	}
	return recs, nil
}

func (n *ZNP) WriteAttributes(ctx context.Context, req WriteAttributesRequest) ([]zcl.WriteStatusRecord, error) {
	cmd := zcl.CmdWrite
	if req.Undivided {
		cmd = zcl.CmdWriteUndiv
	}
	out, err := n.global(ctx, Address{req.DstAddr, req.DstEP}, req.ClusterID, req.ManufacturerCode,
		cmd, req.Records, zcl.CmdWriteRsp)
	if err != nil {
		return nil, err
	}
	return out.([]zcl.WriteStatusRecord), nil
}

func (n *ZNP) ConfigureReporting(ctx context.Context, req ConfigureReportingRequest) ([]zcl.ConfigReportStatus, error) {
	out, err := n.global(ctx, Address{req.DstAddr, req.DstEP}, req.ClusterID, req.ManufacturerCode,
		zcl.CmdConfigReport, req.Configs, zcl.CmdConfigReportRsp)
	if err != nil {
		return nil, err
	}
	return out.([]zcl.ConfigReportStatus), nil
}

// SendCommand sends a cluster-specific command. Unless the default response
// is disabled, a non-success default response becomes *CommandStatusError.
func (n *ZNP) SendCommand(ctx context.Context, req ClusterCommandRequest) error {
	hdr := zcl.Header{
		FrameType:              zcl.FrameCluster,
		Direction:              zcl.ClientToServer,
		ManufacturerSpecific:   req.ManufacturerCode != 0,
		ManufacturerCode:       req.ManufacturerCode,
		DisableDefaultResponse: req.DisableDefaultResponse,
		CommandID:              req.CommandID,
	}
	dst := Address{req.DstAddr, req.DstEP}
	rsp, err := n.request(ctx, dst, req.ClusterID, hdr, req.Payload, !req.DisableDefaultResponse)
	if err != nil || rsp == nil {
		return err
	}
	if !rsp.IsGlobal() || zcl.Command(rsp.CommandID) != zcl.CmdDefaultRsp {
		// A cluster-specific response answers the command.
		return nil
	}
	dr, err := zcl.DecodeFoundation(zcl.CmdDefaultRsp, rsp.Payload)
	if err != nil {
		return err
	}
	if st := dr.(zcl.DefaultResponse).Status; st != zcl.StatusSuccess {
		return &CommandStatusError{ClusterID: req.ClusterID, CommandID: req.CommandID, Status: st}
	}
	return nil
}

// isResponse reports whether a foundation command answers a request.
func isResponse(cmd zcl.Command) bool {
	switch cmd {
	case zcl.CmdReadRsp, zcl.CmdWriteRsp, zcl.CmdConfigReportRsp, zcl.CmdReadReportConfigRsp,
		zcl.CmdDefaultRsp, zcl.CmdDiscoverRsp:
		return true
	}
	return false
}

// handleIncoming dispatches AF incomingMsg: responses to pending requests,
// attribute reports, foundation requests and cluster commands.
func (n *ZNP) handleIncoming(m *znp.Message) {
	data, _ := m.Params.Bytes("data")
	in := IncomingFrame{
		SrcAddr:   u16(m.Params, "srcaddr"),
		SrcEP:     u8(m.Params, "srcendpoint"),
		DstEP:     u8(m.Params, "dstendpoint"),
		ClusterID: u16(m.Params, "clusterid"),
		GroupID:   u16(m.Params, "groupid"),
		LQI:       u8(m.Params, "linkquality"),
	}
	f, err := zcl.ParseFrame(data)
	if err != nil {
		n.logger.Warn("ZCL frame dropped", "short", fmt.Sprintf("0x%04X", in.SrcAddr), "err", err)
		return
	}
	f.Payload = append([]byte(nil), f.Payload...)
	in.Frame = f

	key := zclKey(in.SrcAddr, in.SrcEP, in.ClusterID, f.Sequence)
	if f.Direction == zcl.ServerToClient || (f.IsGlobal() && isResponse(zcl.Command(f.CommandID))) {
		if n.zclPending.Resolve(key, f) {
			return
		}
	}

	n.handlerMu.RLock()
	onReport, onCmd, onReq := n.onReport, n.onClusterCmd, n.onGlobalRequest
	n.handlerMu.RUnlock()

	if !f.IsGlobal() {
		if onCmd != nil {
			onCmd(in)
		}
		return
	}

	switch cmd := zcl.Command(f.CommandID); {
	case cmd == zcl.CmdReport:
		out, err := zcl.DecodeFoundation(cmd, f.Payload)
		if err != nil {
			n.logger.Warn("ZCL report dropped", "short", fmt.Sprintf("0x%04X", in.SrcAddr), "err", err)
			return
		}
		if onReport == nil {
			return
		}
		for _, rec := range out.([]zcl.AttributeRecord) {
			onReport(AttributeReportEvent{
				SrcAddr:   in.SrcAddr,
				SrcEP:     in.SrcEP,
				ClusterID: in.ClusterID,
				AttrID:    rec.AttrID,
				DataType:  rec.Type,
				Value:     rec.Value,
				LQI:       in.LQI,
			})
		}
	case isResponse(cmd):
		n.logger.Debug("ZCL orphaned response",
			"short", fmt.Sprintf("0x%04X", in.SrcAddr),
			"cluster", fmt.Sprintf("0x%04X", in.ClusterID),
			"seq", f.Sequence,
			"cmd", cmd)
	default:
		if onReq != nil {
			onReq(in)
		}
	}
}
