package batch

import "testing"

func TestParseRequestDefaultsTransfers(t *testing.T) {
	body := []byte(`{"operation":"upload","objects":[{"oid":"abc","size":10}]}`)
	req, err := ParseRequest(body)
	if err != nil {
		t.Fatalf("ParseRequest returned error: %v", err)
	}
	if len(req.Transfers) != 1 || req.Transfers[0] != "basic" {
		t.Errorf("expected default transfers [basic], got %v", req.Transfers)
	}
}

func TestParseRequestExtractsExtraFields(t *testing.T) {
	body := []byte(`{"operation":"download","objects":[{"oid":"abc","size":10,"x-filename":"report.csv"}]}`)
	req, err := ParseRequest(body)
	if err != nil {
		t.Fatalf("ParseRequest returned error: %v", err)
	}
	if got := req.Objects[0].Extra["filename"]; got != "report.csv" {
		t.Errorf("expected extra filename %q, got %q", "report.csv", got)
	}
}

func TestParseRequestRejectsMissingObjects(t *testing.T) {
	body := []byte(`{"operation":"upload","objects":[]}`)
	if _, err := ParseRequest(body); err == nil {
		t.Error("expected validation error for empty objects list")
	}
}

func TestParseRequestRejectsBadOperation(t *testing.T) {
	body := []byte(`{"operation":"delete","objects":[{"oid":"abc","size":10}]}`)
	if _, err := ParseRequest(body); err == nil {
		t.Error("expected validation error for an unsupported operation")
	}
}

func TestParseRequestRejectsNegativeSize(t *testing.T) {
	body := []byte(`{"operation":"upload","objects":[{"oid":"abc","size":-1}]}`)
	if _, err := ParseRequest(body); err == nil {
		t.Error("expected validation error for a negative size")
	}
}
