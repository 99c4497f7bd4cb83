package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// volatileKeys differ between runs of the same report and are dropped before comparing.
var volatileKeys = map[string]struct{}{
	"runId":              {},
	"generatedAt":        {},
	"processing_time_ms": {},
	"cache_hit":          {},
	"run_id":             {},
}

type target struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Critical bool   `json:"critical"`
}

type targetFile struct {
	Targets []target `json:"targets"`
}

type comparison struct {
	Target            target
	PrimaryStatus     int
	CandidateStatus   int
	StatusMatch       bool
	BodyMatch         bool
	Error             error
	DurationPrimary   time.Duration
	DurationCandidate time.Duration
}

func loadTargets(path string) ([]target, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg targetFile
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("no targets defined in %s", path)
	}
	return cfg.Targets, nil
}

// defaultTargets covers every report variant for one month. Criteria reports are critical.
func defaultTargets(month, year int, sites []string) []target {
	q := fmt.Sprintf("month=%d&year=%d", month, year)
	targets := []target{
		{Method: "GET", Path: "/reports/outcomes?" + q, Critical: true},
		{Method: "GET", Path: "/reports/activity?" + q, Critical: false},
		{Method: "GET", Path: "/reports/activity?" + q + "&groupBy=site", Critical: false},
	}
	for _, site := range sites {
		targets = append(targets, target{
			Method:   "GET",
			Path:     "/reports/outcomes/sites/" + url.PathEscape(site) + "?" + q,
			Critical: true,
		})
	}
	return targets
}

func splitSites(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func compareTarget(client *resty.Client, primaryBase, candidateBase string, tgt target) comparison {
	comp := comparison{Target: tgt}
	primary, primaryErr := performRequest(client, primaryBase, tgt)
	candidate, candidateErr := performRequest(client, candidateBase, tgt)

	if primaryErr != nil {
		comp.Error = fmt.Errorf("primary request failed: %w", primaryErr)
		return comp
	}
	if candidateErr != nil {
		comp.Error = fmt.Errorf("candidate request failed: %w", candidateErr)
		return comp
	}

	comp.DurationPrimary = primary.Time()
	comp.DurationCandidate = candidate.Time()
	comp.PrimaryStatus = primary.StatusCode()
	comp.CandidateStatus = candidate.StatusCode()
	comp.StatusMatch = comp.PrimaryStatus == comp.CandidateStatus
	comp.BodyMatch = bodiesEqual(primary.Body(), candidate.Body())
	return comp
}

func performRequest(client *resty.Client, base string, tgt target) (*resty.Response, error) {
	method := strings.ToUpper(strings.TrimSpace(tgt.Method))
	if method == "" {
		method = "GET"
	}
	path := tgt.Path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return client.R().Execute(method, strings.TrimRight(base, "/")+path)
}

func bodiesEqual(a, b []byte) bool {
	if bytes.Equal(bytes.TrimSpace(a), bytes.TrimSpace(b)) {
		return true
	}

	var aj, bj interface{}
	if err := json.Unmarshal(a, &aj); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bj); err != nil {
		return false
	}
	normalize(&aj)
	normalize(&bj)
	return reflect.DeepEqual(aj, bj)
}

func normalize(v *interface{}) {
	switch val := (*v).(type) {
	case map[string]interface{}:
		for k, v2 := range val {
			if _, skip := volatileKeys[k]; skip {
				delete(val, k)
				continue
			}
			normalize(&v2)
			val[k] = v2
		}
	case []interface{}:
		for i, v2 := range val {
			normalize(&v2)
			val[i] = v2
		}
	case float64:
		if val == float64(int64(val)) {
			*v = int64(val)
		}
	}
}

func printReport(w io.Writer, results []comparison) {
	fmt.Fprintln(w, "Report Parity")
	fmt.Fprintln(w, "=============")
	for _, res := range results {
		status := "OK"
		if res.Error != nil {
			status = "ERROR"
		} else if !res.StatusMatch || !res.BodyMatch {
			status = "DIFF"
		}
		fmt.Fprintf(w, "[%s] %s %s\n", status, res.Target.Method, res.Target.Path)
		fmt.Fprintf(w, "  Primary: %d (%s)\n", res.PrimaryStatus, res.DurationPrimary)
		fmt.Fprintf(w, "  Candidate: %d (%s)\n", res.CandidateStatus, res.DurationCandidate)
		if res.Error != nil {
			fmt.Fprintf(w, "  Error: %v\n", res.Error)
		} else {
			fmt.Fprintf(w, "  Status match: %t | Body match: %t | Critical: %t\n", res.StatusMatch, res.BodyMatch, res.Target.Critical)
		}
	}
}
