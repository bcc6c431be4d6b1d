package safeurl

import (
	"errors"
	"strings"
	"testing"
)

func TestValidateSchemes(t *testing.T) {
	if err := Validate("ftp://example.com/file"); !errors.Is(err, ErrUnsafeScheme) {
		t.Fatalf("ftp: err = %v, want ErrUnsafeScheme", err)
	}
	if err := Validate("file:///etc/passwd"); !errors.Is(err, ErrUnsafeScheme) {
		t.Fatalf("file: err = %v, want ErrUnsafeScheme", err)
	}
}

func TestValidatePrivateLiterals(t *testing.T) {
	for _, raw := range []string{
		"http://127.0.0.1/",
		"http://10.1.2.3/",
		"http://172.16.0.1/",
		"http://192.168.1.1/admin",
		"http://169.254.169.254/latest/meta-data",
		"http://[::1]/",
	} {
		if err := Validate(raw); !errors.Is(err, ErrPrivateAddress) {
			t.Errorf("%s: err = %v, want ErrPrivateAddress", raw, err)
		}
	}
}

func TestValidatePublicLiteral(t *testing.T) {
	if err := Validate("https://93.184.216.34/"); err != nil {
		t.Fatalf("public IP rejected: %v", err)
	}
}

func TestValidateOnionRejectedOnDirectPath(t *testing.T) {
	err := Validate("http://expyuzz4wqqyqhjn.onion/")
	if err == nil {
		t.Fatal("onion address accepted on direct path")
	}
}

func TestValidateNoHost(t *testing.T) {
	if err := Validate("http:///path-only"); err == nil {
		t.Fatal("URL without host accepted")
	}
}

func TestReadAllBounds(t *testing.T) {
	data, err := ReadAll(strings.NewReader("hello"), 10)
	if err != nil {
		t.Fatalf("within limit: %v", err)
	}
	if string(data) != "hello" {
		t.Fatalf("data = %q", data)
	}

	if _, err := ReadAll(strings.NewReader("0123456789abc"), 10); err == nil {
		t.Fatal("oversized body accepted")
	}
}
