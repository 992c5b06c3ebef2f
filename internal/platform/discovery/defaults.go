// Package discovery centralizes service address conventions.
package discovery

import (
	"strconv"
	"strings"
)

const (
	// ServiceCart is the cart service identity.
	ServiceCart = "cart"
	// ServiceCatalog is the catalog service identity.
	ServiceCatalog = "catalog"
)

// gRPC ports carry the health service.
var grpcPorts = map[string]int{
	ServiceCart:    8081,
	ServiceCatalog: 8091,
}

var httpPorts = map[string]int{
	ServiceCart:    8080,
	ServiceCatalog: 8090,
}

// DefaultGRPCAddr returns the canonical in-network gRPC address for a service.
func DefaultGRPCAddr(service string) string {
	return defaultAddr(strings.TrimSpace(service), grpcPorts)
}

// HTTPListenAddr returns the HTTP listen address for port, falling back to
// the service convention when port is not positive.
func HTTPListenAddr(port int, service string) string {
	return listenAddr(port, service, httpPorts)
}

// GRPCListenAddr returns the gRPC listen address for port, falling back to
// the service convention when port is not positive.
func GRPCListenAddr(port int, service string) string {
	return listenAddr(port, service, grpcPorts)
}

func listenAddr(port int, service string, ports map[string]int) string {
	if port <= 0 {
		port = ports[strings.TrimSpace(service)]
	}
	return ":" + strconv.Itoa(port)
}

func defaultAddr(service string, ports map[string]int) string {
	port, ok := ports[service]
	if !ok || port <= 0 {
		return ""
	}
	return service + ":" + strconv.Itoa(port)
}
