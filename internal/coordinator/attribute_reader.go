package coordinator

import (
	"context"
	"fmt"

	"zigbee-go-converters/internal/ncp"
	"zigbee-go-converters/internal/zcl"
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

// readAttribute reads one attribute from the device's endpoint, using the
// cluster's manufacturer code when it has one.
func (c *Coordinator) readAttribute(ctx context.Context, dev Device, clusterID, attrID uint16) (AttributeResult, error) {
	records, err := c.ncp.ReadAttributes(ctx, ncp.ReadAttributesRequest{
		DstAddr:          dev.ShortAddr,
		DstEP:            dev.Endpoint,
		ClusterID:        clusterID,
		ManufacturerCode: c.manufacturerCode(clusterID),
		AttrIDs:          []uint16{attrID},
	})
	if err != nil {
		return AttributeResult{}, fmt.Errorf("read attribute 0x%04X: %w", attrID, err)
	}
	for _, r := range records {
		if r.AttrID != attrID {
			continue
		}
		res := c.attributeResult(clusterID, r)
		if res.Error != "" {
			return res, fmt.Errorf("read attribute %s: %s", res.AttrName, res.Error)
		}
		return res, nil
	}
	return AttributeResult{}, fmt.Errorf("read attribute 0x%04X: missing from response", attrID)
}

// writeAttribute writes a single attribute value on the device's endpoint.
func (c *Coordinator) writeAttribute(ctx context.Context, dev Device, clusterID, attrID uint16, dataType uint8, value interface{}) error {
	err := c.ncp.WriteAttributes(ctx, ncp.WriteAttributesRequest{
		DstAddr:          dev.ShortAddr,
		DstEP:            dev.Endpoint,
		ClusterID:        clusterID,
		ManufacturerCode: c.manufacturerCode(clusterID),
		Records: []zcl.AttributeRecord{
			{AttrID: attrID, DataType: dataType, Value: value},
		},
	})
	if err != nil {
		return fmt.Errorf("write attribute 0x%04X: %w", attrID, err)
	}
	return nil
}

func (c *Coordinator) manufacturerCode(clusterID uint16) uint16 {
	if cl := c.registry.Get(clusterID); cl != nil {
		return cl.ManufacturerCode
	}
	return 0
}

func (c *Coordinator) attributeResult(clusterID uint16, r zcl.AttributeRecord) AttributeResult {
	res := AttributeResult{
		AttrID:   r.AttrID,
		Status:   r.Status,
		TypeID:   r.DataType,
		TypeName: zcl.TypeName(r.DataType),
		Value:    r.Value,
	}
	if cl := c.registry.Get(clusterID); cl != nil {
		if attr := cl.FindAttribute(r.AttrID); attr != nil {
			res.AttrName = attr.Name
		}
	}
	if res.AttrName == "" {
		res.AttrName = fmt.Sprintf("0x%04X", r.AttrID)
	}
	if r.Status != zcl.ZCLStatusSuccess {
		res.Error = fmt.Sprintf("status 0x%02X", r.Status)
	}
	return res
}
