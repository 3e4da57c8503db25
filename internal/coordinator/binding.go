package coordinator

import (
	"context"
	"errors"
	"fmt"

	"znp-host/internal/ncp"
)

// ErrNotStarted is returned by operations that need the coordinator's own
// address before Start has run.
var ErrNotStarted = errors.New("coordinator not started")

// Bind creates a binding on the target device.
func (c *Coordinator) Bind(ctx context.Context, targetShortAddr uint16, srcIEEE string, srcEP uint8, clusterID uint16, dstIEEE string, dstEP uint8) error {
	req, err := bindRequest(targetShortAddr, srcIEEE, srcEP, clusterID, dstIEEE, dstEP)
	if err != nil {
		return err
	}
	return c.ncp.Bind(ctx, req)
}

// Unbind removes a binding from the target device.
func (c *Coordinator) Unbind(ctx context.Context, targetShortAddr uint16, srcIEEE string, srcEP uint8, clusterID uint16, dstIEEE string, dstEP uint8) error {
	req, err := bindRequest(targetShortAddr, srcIEEE, srcEP, clusterID, dstIEEE, dstEP)
	if err != nil {
		return err
	}
	return c.ncp.Unbind(ctx, req)
}

// BindToCoordinator binds a device cluster to the first local endpoint, so
// its reports reach the coordinator.
func (c *Coordinator) BindToCoordinator(ctx context.Context, ieee string, srcEP uint8, clusterID uint16) error {
	local := c.LocalIEEE()
	if local == "" {
		return ErrNotStarted
	}
	if len(c.config.Endpoints) == 0 {
		return fmt.Errorf("bind 0x%04X: no local endpoint configured", clusterID)
	}
	dev, err := c.devices.GetDevice(ieee)
	if err != nil {
		return fmt.Errorf("bind %s: %w", ieee, err)
	}
	return c.Bind(ctx, dev.ShortAddress, dev.IEEEAddress, srcEP, clusterID, local, c.config.Endpoints[0].Endpoint)
}

func bindRequest(target uint16, srcIEEE string, srcEP uint8, clusterID uint16, dstIEEE string, dstEP uint8) (ncp.BindRequest, error) {
	src, err := ParseIEEE(srcIEEE)
	if err != nil {
		return ncp.BindRequest{}, fmt.Errorf("parse src ieee: %w", err)
	}
	dst, err := ParseIEEE(dstIEEE)
	if err != nil {
		return ncp.BindRequest{}, fmt.Errorf("parse dst ieee: %w", err)
	}
	return ncp.BindRequest{
		TargetNwk: target,
		SrcIEEE:   src,
		SrcEP:     srcEP,
		ClusterID: clusterID,
		DstIEEE:   dst,
		DstEP:     dstEP,
	}, nil
}
