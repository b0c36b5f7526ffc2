package loader

import (
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	in := `id,user_email,amount, billing_country
tx_1,a@example.com,1000,RO
tx_2,b@example.com,2000
tx_3,c@example.com,3000,DE,extra`

	records, err := ReadCSV(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("len = %d, want 3", len(records))
	}
	if records[0]["billing_country"] != "RO" {
		t.Errorf("header not trimmed: %v", records[0])
	}
	if records[1]["billing_country"] != "" {
		t.Errorf("short row not padded: %v", records[1])
	}
	if records[2]["amount"] != "3000" {
		t.Errorf("long row mangled: %v", records[2])
	}
}

func TestReadCSVEmpty(t *testing.T) {
	records, err := ReadCSV(strings.NewReader(""))
	if err != nil {
		t.Fatalf("ReadCSV: %v", err)
	}
	if records != nil {
		t.Errorf("records = %v, want nil", records)
	}
}

func TestReadJSON(t *testing.T) {
	in := `[
		{"id": "tx_1", "amount": 5000, "verified": true, "note": null,
		 "initiator": {"ip_address": "203.0.113.9"}},
		{"id": "tx_2", "amount": 19.99}
	]`

	records, err := ReadJSON(strings.NewReader(in))
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("len = %d, want 2", len(records))
	}
	if records[0]["amount"] != "5000" {
		t.Errorf("integer amount = %q, want 5000", records[0]["amount"])
	}
	if records[0]["verified"] != "true" {
		t.Errorf("bool = %q", records[0]["verified"])
	}
	if _, ok := records[0]["note"]; ok {
		t.Error("null value should be dropped")
	}
	if !strings.Contains(records[0]["initiator"], "203.0.113.9") {
		t.Errorf("nested object = %q, want JSON blob", records[0]["initiator"])
	}
	if !strings.Contains(records[0]["payload"], "ip_address") {
		t.Errorf("payload = %q, want full row for nested rows", records[0]["payload"])
	}
	if _, ok := records[1]["payload"]; ok {
		t.Error("flat row should not get a payload copy")
	}
	if records[1]["amount"] != "19.99" {
		t.Errorf("decimal amount = %q", records[1]["amount"])
	}
}

func TestReadJSONMalformed(t *testing.T) {
	if _, err := ReadJSON(strings.NewReader(`{"not": "an array"}`)); err == nil {
		t.Error("want error for non-array input")
	}
}
