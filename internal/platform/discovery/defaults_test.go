package discovery

import "testing"

func TestDefaultGRPCAddr(t *testing.T) {
	cases := map[string]string{
		ServiceCart:    "cart:8081",
		ServiceCatalog: "catalog:8091",
		" cart ":       "cart:8081",
		"unknown":      "",
	}
	for service, want := range cases {
		if got := DefaultGRPCAddr(service); got != want {
			t.Fatalf("DefaultGRPCAddr(%q) = %q, want %q", service, got, want)
		}
	}
}

func TestListenAddrs(t *testing.T) {
	cases := []struct {
		name string
		got  string
		want string
	}{
		{"cart http default", HTTPListenAddr(0, ServiceCart), ":8080"},
		{"cart http explicit", HTTPListenAddr(9000, ServiceCart), ":9000"},
		{"catalog http default", HTTPListenAddr(-1, ServiceCatalog), ":8090"},
		{"cart grpc default", GRPCListenAddr(0, ServiceCart), ":8081"},
		{"catalog grpc default", GRPCListenAddr(0, ServiceCatalog), ":8091"},
		{"catalog grpc explicit", GRPCListenAddr(7000, ServiceCatalog), ":7000"},
	}
	for _, tc := range cases {
		if tc.got != tc.want {
			t.Fatalf("%s = %q, want %q", tc.name, tc.got, tc.want)
		}
	}
}
