package coordinator

import (
	"context"
	"fmt"

	"znp-host/internal/ncp"
	"znp-host/internal/zcl"
)

// AttributeResult holds a decoded attribute read result.
type AttributeResult struct {
	AttrID   uint16      `json:"attr_id"`
	AttrName string      `json:"attr_name"`
	TypeID   uint8       `json:"type_id"`
	TypeName string      `json:"type_name"`
	Value    interface{} `json:"value"`
	Status   uint8       `json:"status"`
	Error    string      `json:"error,omitempty"`
}

// ReadAttributes reads attributes from a device endpoint/cluster.
func (c *Coordinator) ReadAttributes(ctx context.Context, shortAddr uint16, endpoint uint8, clusterID uint16, attrIDs []uint16) ([]AttributeResult, error) {
	responses, err := c.ncp.ReadAttributes(ctx, ncp.ReadAttributesRequest{
		DstAddr:   shortAddr,
		DstEP:     endpoint,
		ClusterID: clusterID,
		AttrIDs:   attrIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("read attributes: %w", err)
	}

	cluster := c.registry.Get(clusterID)
	results := make([]AttributeResult, 0, len(responses))
	for _, r := range responses {
		result := AttributeResult{
			AttrID:   r.AttrID,
			AttrName: fmt.Sprintf("0x%04X", r.AttrID),
			Status:   uint8(r.Status),
		}
		if cluster != nil {
			if attr := cluster.FindAttribute(r.AttrID); attr != nil {
				result.AttrName = attr.Name
			}
		}
		if r.Status != zcl.StatusSuccess {
			result.Error = r.Status.String()
		} else {
			result.TypeID = uint8(r.Type)
			result.TypeName = r.Type.String()
			result.Value = r.Value
		}
		results = append(results, result)
	}
	return results, nil
}

// WriteAttribute writes a single attribute. The type comes from the
// registry when dataType is zero.
func (c *Coordinator) WriteAttribute(ctx context.Context, shortAddr uint16, endpoint uint8, clusterID uint16, attrID uint16, dataType zcl.DataType, value interface{}) error {
	if dataType == 0 {
		cluster := c.registry.Get(clusterID)
		if cluster == nil {
			return fmt.Errorf("write 0x%04X/0x%04X: unknown cluster, type required", clusterID, attrID)
		}
		attr := cluster.FindAttribute(attrID)
		if attr == nil {
			return fmt.Errorf("write 0x%04X/0x%04X: unknown attribute, type required", clusterID, attrID)
		}
		dataType = attr.Type
	}
	st, err := c.ncp.WriteAttributes(ctx, ncp.WriteAttributesRequest{
		DstAddr:   shortAddr,
		DstEP:     endpoint,
		ClusterID: clusterID,
		Records:   []zcl.AttributeRecord{{AttrID: attrID, Type: dataType, Value: value}},
	})
	if err != nil {
		return err
	}
	for _, s := range st {
		if s.Status != zcl.StatusSuccess {
			return &zcl.StatusError{Status: s.Status, AttrID: attrID}
		}
	}
	return nil
}

// SendClusterCommand sends a cluster-specific command.
func (c *Coordinator) SendClusterCommand(ctx context.Context, shortAddr uint16, endpoint uint8, clusterID uint16, commandID uint8, payload []byte) error {
	return c.ncp.SendCommand(ctx, ncp.ClusterCommandRequest{
		DstAddr:   shortAddr,
		DstEP:     endpoint,
		ClusterID: clusterID,
		CommandID: commandID,
		Payload:   payload,
	})
}

// SendNamedCommand encodes a command by cluster and command name from the
// registry and sends it.
func (c *Coordinator) SendNamedCommand(ctx context.Context, shortAddr uint16, endpoint uint8, clusterName, command string, values map[string]any) error {
	cluster := c.registry.ByName(clusterName)
	if cluster == nil {
		return fmt.Errorf("unknown cluster %q", clusterName)
	}
	def := cluster.CommandByName(command)
	if def == nil {
		return fmt.Errorf("unknown command %q in cluster %s", command, cluster.Name)
	}
	payload, err := zcl.EncodeFunctional(def, values)
	if err != nil {
		return fmt.Errorf("encode %s.%s: %w", cluster.Name, def.Name, err)
	}
	return c.SendClusterCommand(ctx, shortAddr, endpoint, cluster.ID, def.ID, payload)
}

// ConfigureReporting sets up attribute reporting on a device.
func (c *Coordinator) ConfigureReporting(ctx context.Context, shortAddr uint16, endpoint uint8, clusterID uint16, attrID uint16, dataType zcl.DataType, minInterval, maxInterval uint16, reportableChange any) error {
	st, err := c.ncp.ConfigureReporting(ctx, ncp.ConfigureReportingRequest{
		DstAddr:   shortAddr,
		DstEP:     endpoint,
		ClusterID: clusterID,
		Configs: []zcl.ReportConfig{{
			AttrID:           attrID,
			Type:             dataType,
			MinInterval:      minInterval,
			MaxInterval:      maxInterval,
			ReportableChange: reportableChange,
		}},
	})
	if err != nil {
		return err
	}
	for _, s := range st {
		if s.Status != zcl.StatusSuccess {
			return &zcl.StatusError{Status: s.Status, AttrID: attrID}
		}
	}
	return nil
}
