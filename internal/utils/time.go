package utils

import "time"

// layoutGateway is the compact timestamp used by the STK push API.
const layoutGateway = "20060102150405"

// GatewayTimestamp formats t as YYYYMMDDHHMMSS.
func GatewayTimestamp(t time.Time) string {
	return t.Format(layoutGateway)
}
