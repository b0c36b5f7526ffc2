package extract

import (
	"strconv"
	"strings"
	"time"
)

// Semantic field names used in audit output.
const (
	FieldID             = "id"
	FieldUserKey        = "user_key"
	FieldAmount         = "amount"
	FieldCurrency       = "currency"
	FieldTimestamp      = "created_at"
	FieldStatus         = "status"
	FieldBillingCountry = "billing_country"
	FieldBINCountry     = "bin_country"
	FieldPayerIP        = "payer_ip"
	FieldProcessing     = "processing_time"
)

// payloadColumns are the columns that may hold a JSON blob worth flattening.
var payloadColumns = []string{"body", "request_payload", "response_payload", "payload"}

// candidates lists, per semantic field, the ordered column names / flattened
// payload paths to probe. First valid match wins and is recorded in the audit.
var candidates = map[string][]string{
	FieldID:        {"id", "transaction_id", "txn_id", "payment_id"},
	FieldUserKey:   {"user_email", "email", "user.email", "customer.email", "buyer.email", "user_id", "customer_id"},
	FieldAmount:    {"amount", "amount_minor", "total_amount", "charge.amount"},
	FieldCurrency:  {"currency", "currency_code", "charge.currency"},
	FieldTimestamp: {"created_at", "timestamp", "created", "processed_at"},
	FieldStatus:    {"status", "status_title", "state", "result"},
	FieldBillingCountry: {
		"billing_country", "billing_country_iso", "billing.country",
		"billing_address.country", "address.country",
	},
	FieldBINCountry: {
		"bin_country", "bin_country_iso", "issuer_country", "ci.bin_country_iso",
		"card.bin_country", "card.issuer_country",
	},
	FieldPayerIP: {
		"ip", "client_ip", "payer_ip", "remote_ip", "t.ip",
		"headers.x-forwarded-for", "initiator.ip_address", "ip_from_body",
	},
	FieldProcessing: {"processing_time", "processing_ms", "duration_ms", "gateway_time_ms"},
}

// auxCandidates extract device/browser/card facts carried along for audit
// and downstream enrichment; they never gate a risk factor on their own.
var auxCandidates = map[string][]string{
	"browser":           {"browser", "browser.name", "browser_name"},
	"browser_version":   {"browser.version", "browser_version"},
	"language":          {"accept_language", "accept-language", "browser_language", "browser.language", "headers.accept-language"},
	"timezone":          {"timezone", "device.timezone", "browser.timezone"},
	"screen_resolution": {"screen_resolution", "screen.resolution", "device.screen"},
	"os":                {"os", "os_name", "device.os", "operating_system"},
	"device_id":         {"device_id", "device.id", "fingerprint", "device.fingerprint"},
	"card_brand":        {"card_brand", "card.brand", "ci.brand"},
	"card_type":         {"card_type", "card.type", "ci.type"},
	"user_agent":        {"user_agent", "ua", "client_user_agent", "headers.user-agent"},
}

// Extractor resolves semantic fields against raw records.
type Extractor struct{}

// New creates a field extractor with the default candidate paths.
func New() *Extractor { return &Extractor{} }

// Extract produces a Transaction and an extraction audit from one raw
// record. It never fails: unknown stays unknown.
func (e *Extractor) Extract(raw map[string]string) (*Transaction, *Audit) {
	space := buildSearchSpace(raw)
	audit := &Audit{MatchedPaths: make(map[string]string)}

	tx := &Transaction{Device: make(map[string]string)}

	if v, path, ok := space.lookup(candidates[FieldID]); ok {
		tx.ID = strings.TrimSpace(v)
		audit.MatchedPaths[FieldID] = path
	}

	if v, path, ok := space.lookup(candidates[FieldUserKey]); ok {
		tx.UserKey = normalizeUserKey(v)
		audit.MatchedPaths[FieldUserKey] = path
	}

	if v, path, ok := space.lookup(candidates[FieldAmount]); ok {
		if amt, parseOK := parseAmount(v); parseOK {
			tx.Amount = amt
			tx.HasAmount = true
			audit.MatchedPaths[FieldAmount] = path
		}
	}

	if v, path, ok := space.lookup(candidates[FieldCurrency]); ok {
		tx.Currency = strings.ToUpper(strings.TrimSpace(v))
		audit.MatchedPaths[FieldCurrency] = path
	}

	if v, path, ok := space.lookup(candidates[FieldTimestamp]); ok {
		if ts, parseOK := parseTimestamp(v); parseOK {
			tx.Timestamp = ts
			audit.MatchedPaths[FieldTimestamp] = path
		}
	}

	if v, path, ok := space.lookup(candidates[FieldStatus]); ok {
		tx.Status = parseStatus(v)
		audit.MatchedPaths[FieldStatus] = path
	} else {
		tx.Status = StatusOther
	}

	if v, path, ok := space.lookup(candidates[FieldBillingCountry]); ok {
		if iso := normalizeISO2(v); iso != "" {
			tx.BillingCountry = iso
			audit.MatchedPaths[FieldBillingCountry] = path
		}
	}

	if v, path, ok := space.lookup(candidates[FieldBINCountry]); ok {
		if iso := normalizeISO2(v); iso != "" {
			tx.BINCountry = iso
			audit.MatchedPaths[FieldBINCountry] = path
		}
	}

	if v, path, ok := space.lookup(candidates[FieldPayerIP]); ok {
		if ip := normalizeIP(v); ip != "" {
			tx.PayerIP = ip
			audit.MatchedPaths[FieldPayerIP] = path
		}
	}

	if v, path, ok := space.lookup(candidates[FieldProcessing]); ok {
		if ms, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil && ms >= 0 {
			tx.ProcessingMS = ms
			tx.HasProcessing = true
			audit.MatchedPaths[FieldProcessing] = path
		}
	}

	for name, paths := range auxCandidates {
		if v, path, ok := space.lookup(paths); ok {
			tx.Device[name] = strings.TrimSpace(v)
			audit.MatchedPaths[name] = path
		}
	}
	if len(tx.Device) == 0 {
		tx.Device = nil
	}

	return tx, audit
}

// searchSpace holds the lowercased top-level columns and flattened payload
// paths of one record. Top-level columns win over payload paths.
type searchSpace struct {
	columns map[string]string
	paths   map[string]string
}

func buildSearchSpace(raw map[string]string) *searchSpace {
	s := &searchSpace{
		columns: make(map[string]string, len(raw)),
		paths:   make(map[string]string),
	}
	for k, v := range raw {
		if strings.TrimSpace(v) == "" {
			continue
		}
		s.columns[strings.ToLower(strings.TrimSpace(k))] = v
	}
	for _, col := range payloadColumns {
		blob, ok := s.columns[col]
		if !ok {
			continue
		}
		if parsed := tryParseJSON(blob); parsed != nil {
			flat := make(map[string]string)
			flatten(parsed, "", flat)
			for p, v := range flat {
				lp := strings.ToLower(p)
				if _, exists := s.paths[lp]; !exists {
					s.paths[lp] = v
				}
			}
		}
	}
	return s
}

// lookup probes candidate names in order: exact column match, exact payload
// path match, then payload path suffix match. Returns the value, the path
// that matched, and whether anything matched.
func (s *searchSpace) lookup(cands []string) (string, string, bool) {
	for _, cand := range cands {
		c := strings.ToLower(cand)
		if v, ok := s.columns[c]; ok {
			return v, c, true
		}
		if v, ok := s.paths[c]; ok {
			return v, c, true
		}
		for p, v := range s.paths {
			if strings.HasSuffix(p, "."+c) {
				return v, p, true
			}
		}
	}
	return "", "", false
}

// ---- normalization helpers ----

func normalizeISO2(v string) string {
	v = strings.TrimSpace(v)
	if len(v) < 2 {
		return ""
	}
	iso := strings.ToUpper(v[:2])
	if iso[0] < 'A' || iso[0] > 'Z' || iso[1] < 'A' || iso[1] > 'Z' {
		return ""
	}
	return iso
}

func normalizeUserKey(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}

// normalizeIP takes the first element of comma-separated lists as produced
// by x-forwarded-for chains.
func normalizeIP(v string) string {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, ','); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	low := strings.ToLower(v)
	if v == "" || low == "nan" || low == "none" || low == "null" {
		return ""
	}
	return v
}

// parseAmount accepts integer minor units directly and decimal strings as a
// fallback (truncated toward zero). Negative amounts are malformed.
func parseAmount(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if amt, err := strconv.ParseInt(v, 10, 64); err == nil {
		if amt < 0 {
			return 0, false
		}
		return amt, true
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		if f < 0 {
			return 0, false
		}
		return int64(f), true
	}
	return 0, false
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
}

func parseTimestamp(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, v); err == nil {
			return ts.UTC(), true
		}
	}
	return time.Time{}, false
}

func parseStatus(v string) Status {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "success", "succeeded", "approved", "completed", "captured", "settled":
		return StatusSuccess
	case "failed", "failure", "declined", "error", "rejected":
		return StatusFailed
	default:
		return StatusOther
	}
}
