package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"aegis/internal/escalation/models"
	"aegis/internal/threat"
)

// MaxReportsPerRequest caps how many violations one Reporting API batch may
// carry.
const MaxReportsPerRequest = 20

const reportTypeCSP = "csp-violation"

var errEmptyReport = errors.New("report carries no violation")

// legacyReport is the application/csp-report body sent for report-uri.
type legacyReport struct {
	Report *legacyBody `json:"csp-report"`
}

type legacyBody struct {
	DocumentURI        string `json:"document-uri"`
	Referrer           string `json:"referrer"`
	ViolatedDirective  string `json:"violated-directive"`
	EffectiveDirective string `json:"effective-directive"`
	OriginalPolicy     string `json:"original-policy"`
	Disposition        string `json:"disposition"`
	BlockedURI         string `json:"blocked-uri"`
	StatusCode         int    `json:"status-code"`
	ScriptSample       string `json:"script-sample"`
	SourceFile         string `json:"source-file"`
	LineNumber         int    `json:"line-number"`
	ColumnNumber       int    `json:"column-number"`
}

// reportingEntry is one element of an application/reports+json batch sent
// for report-to.
type reportingEntry struct {
	Type string        `json:"type"`
	URL  string        `json:"url"`
	Body reportingBody `json:"body"`
}

type reportingBody struct {
	DocumentURL        string `json:"documentURL"`
	Referrer           string `json:"referrer"`
	BlockedURL         string `json:"blockedURL"`
	EffectiveDirective string `json:"effectiveDirective"`
	OriginalPolicy     string `json:"originalPolicy"`
	SourceFile         string `json:"sourceFile"`
	Sample             string `json:"sample"`
	Disposition        string `json:"disposition"`
	StatusCode         int    `json:"statusCode"`
	LineNumber         int    `json:"lineNumber"`
	ColumnNumber       int    `json:"columnNumber"`
}

// ParseReports accepts either the legacy {"csp-report": {...}} object or a
// Reporting API array. Non-CSP entries in a batch are skipped. Source is
// left for the caller to fill in.
func ParseReports(body []byte) ([]models.Violation, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, errEmptyReport
	}
	if body[0] == '[' {
		return parseBatch(body)
	}

	var legacy legacyReport
	if err := json.Unmarshal(body, &legacy); err != nil {
		return nil, fmt.Errorf("decode csp report: %w", err)
	}
	if legacy.Report == nil {
		return nil, errEmptyReport
	}
	r := legacy.Report
	return []models.Violation{{
		Kind:               threat.KindCSPViolation,
		BlockedURI:         r.BlockedURI,
		ViolatedDirective:  r.ViolatedDirective,
		EffectiveDirective: r.EffectiveDirective,
		DocumentURI:        r.DocumentURI,
		SourceFile:         r.SourceFile,
		LineNumber:         r.LineNumber,
		ColumnNumber:       r.ColumnNumber,
		Sample:             r.ScriptSample,
		Disposition:        r.Disposition,
	}}, nil
}

func parseBatch(body []byte) ([]models.Violation, error) {
	var entries []reportingEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode report batch: %w", err)
	}
	if len(entries) > MaxReportsPerRequest {
		return nil, fmt.Errorf("report batch exceeds %d entries", MaxReportsPerRequest)
	}
	var out []models.Violation
	for _, e := range entries {
		if e.Type != reportTypeCSP {
			continue
		}
		doc := e.Body.DocumentURL
		if doc == "" {
			doc = e.URL
		}
		out = append(out, models.Violation{
			Kind:               threat.KindCSPViolation,
			BlockedURI:         e.Body.BlockedURL,
			ViolatedDirective:  e.Body.EffectiveDirective,
			EffectiveDirective: e.Body.EffectiveDirective,
			DocumentURI:        doc,
			SourceFile:         e.Body.SourceFile,
			LineNumber:         e.Body.LineNumber,
			ColumnNumber:       e.Body.ColumnNumber,
			Sample:             e.Body.Sample,
			Disposition:        e.Body.Disposition,
		})
	}
	if len(out) == 0 {
		return nil, errEmptyReport
	}
	return out, nil
}
