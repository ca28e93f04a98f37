package server

import "github.com/dotside-studios/pax-pos-agent/buildinfo"

// mDNS service discovery
var (
	MDNSServiceType = "_pax-pos._tcp"
	MDNSServiceName = buildinfo.DisplayName
	MDNSDomain      = "local."
)

// HTTP routes
const (
	RouteWebSocket = "/ws"
	RouteHealth    = "/api/v1/health"
)

// CORS configuration
const (
	CORSAllowOrigin  = "*"
	CORSAllowMethods = "GET, OPTIONS"
	CORSAllowHeaders = "Content-Type, Authorization"
)
