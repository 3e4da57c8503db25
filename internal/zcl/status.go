package zcl

import "fmt"

// Status is a ZCL status code.
type Status uint8

// ZCL status codes
const (
	StatusSuccess              Status = 0x00
	StatusFailure              Status = 0x01
	StatusNotAuthorized        Status = 0x7E
	StatusMalformedCommand     Status = 0x80
	StatusUnsupClusterCommand  Status = 0x81
	StatusUnsupGeneralCommand  Status = 0x82
	StatusInvalidField         Status = 0x85
	StatusUnsupportedAttribute Status = 0x86
	StatusInvalidValue         Status = 0x87
	StatusReadOnly             Status = 0x88
	StatusInsufficientSpace    Status = 0x89
	StatusNotFound             Status = 0x8B
	StatusUnreportable         Status = 0x8C
	StatusInvalidDataType      Status = 0x8D
	StatusWriteOnly            Status = 0x8F
	StatusTimeout              Status = 0x94
	StatusUnsupportedCluster   Status = 0xC3
)

var statusNames = map[Status]string{
	StatusSuccess:              "SUCCESS",
	StatusFailure:              "FAILURE",
	StatusNotAuthorized:        "NOT_AUTHORIZED",
	StatusMalformedCommand:     "MALFORMED_COMMAND",
	StatusUnsupClusterCommand:  "UNSUP_CLUSTER_COMMAND",
	StatusUnsupGeneralCommand:  "UNSUP_GENERAL_COMMAND",
	StatusInvalidField:         "INVALID_FIELD",
	StatusUnsupportedAttribute: "UNSUPPORTED_ATTRIBUTE",
	StatusInvalidValue:         "INVALID_VALUE",
	StatusReadOnly:             "READ_ONLY",
	StatusInsufficientSpace:    "INSUFFICIENT_SPACE",
	StatusNotFound:             "NOT_FOUND",
	StatusUnreportable:         "UNREPORTABLE_ATTRIBUTE",
	StatusInvalidDataType:      "INVALID_DATA_TYPE",
	StatusWriteOnly:            "WRITE_ONLY",
	StatusTimeout:              "TIMEOUT",
	StatusUnsupportedCluster:   "UNSUPPORTED_CLUSTER",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("0x%02X", uint8(s))
}

// StatusError wraps a non-success status returned by a remote device.
type StatusError struct {
	Status Status
	AttrID uint16
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("zcl: attribute 0x%04X: %s", e.AttrID, e.Status)
}
