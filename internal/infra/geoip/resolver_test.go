package geoip

import (
	"errors"
	"testing"
)

type stubResolver struct {
	got  string
	code string
	err  error
}

func (s *stubResolver) CountryCode(ip string) (string, error) {
	s.got = ip
	return s.code, s.err
}

func TestOriginCountryStripsPort(t *testing.T) {
	stub := &stubResolver{code: "id"}
	if got := OriginCountry(stub, "203.0.113.9:51234"); got != "ID" {
		t.Fatalf("OriginCountry = %q, want ID", got)
	}
	if stub.got != "203.0.113.9" {
		t.Fatalf("resolver received %q", stub.got)
	}
}

func TestOriginCountryIgnoresFailures(t *testing.T) {
	if got := OriginCountry(nil, "203.0.113.9"); got != "" {
		t.Fatalf("nil resolver should yield empty, got %q", got)
	}
	if got := OriginCountry(&stubResolver{err: errors.New("miss")}, "[2001:db8::1]:80"); got != "" {
		t.Fatalf("failing resolver should yield empty, got %q", got)
	}
}

func TestNilResolverIsUnavailable(t *testing.T) {
	var r *Resolver
	if _, err := r.CountryCode("203.0.113.9"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
}
