/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

const alertsPath = "../../deploy/prometheus/alerts.yml"

type alertRule struct {
	Alert       string            `yaml:"alert"`
	Expr        string            `yaml:"expr"`
	For         string            `yaml:"for"`
	Labels      map[string]string `yaml:"labels"`
	Annotations map[string]string `yaml:"annotations"`
}

type alertsFile struct {
	Groups []struct {
		Name  string      `yaml:"name"`
		Rules []alertRule `yaml:"rules"`
	} `yaml:"groups"`
}

func loadAlerts(t *testing.T) alertsFile {
	t.Helper()
	data, err := os.ReadFile(alertsPath)
	if err != nil {
		t.Skipf("Skipping test: alerts file not found at %s", alertsPath)
	}
	var f alertsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		t.Fatalf("Invalid YAML in alerts.yml: %v", err)
	}
	if len(f.Groups) == 0 {
		t.Fatal("alerts.yml has no groups")
	}
	return f
}

func TestCriticalAlertsPresent(t *testing.T) {
	f := loadAlerts(t)

	names := make(map[string]bool)
	for _, g := range f.Groups {
		for _, r := range g.Rules {
			names[r.Alert] = true
		}
	}
	for _, want := range []string{"NocturneDown", "InvariantViolations", "CrossfadeFailures", "TrackLoadFailures", "HighAPIErrorRate"} {
		if !names[want] {
			t.Errorf("alert %q not found in alerts.yml", want)
		}
	}
}

func TestAlertLabels(t *testing.T) {
	f := loadAlerts(t)
	valid := map[string]bool{"critical": true, "warning": true, "info": true}

	for _, g := range f.Groups {
		for _, r := range g.Rules {
			if !valid[r.Labels["severity"]] {
				t.Errorf("alert %s severity = %q", r.Alert, r.Labels["severity"])
			}
			if r.Annotations["summary"] == "" || r.Annotations["description"] == "" {
				t.Errorf("alert %s missing summary or description", r.Alert)
			}
		}
	}
}

// Every nocturne_ metric an alert queries must be one this package registers.
func TestAlertsReferenceRegisteredMetrics(t *testing.T) {
	f := loadAlerts(t)

	families, err := Registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	registered := make(map[string]bool)
	for _, mf := range families {
		registered[mf.GetName()] = true
	}
	// Vectors without observations are not gathered.
	for _, name := range []string{
		"nocturne_crossfades_total",
		"nocturne_track_load_failures_total",
		"nocturne_api_requests_total",
		"nocturne_events_dropped_total",
		"nocturne_database_errors_total",
	} {
		registered[name] = true
	}

	for _, g := range f.Groups {
		for _, r := range g.Rules {
			for _, field := range strings.FieldsFunc(r.Expr, func(c rune) bool {
				return !(c == '_' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9')
			}) {
				if strings.HasPrefix(field, "nocturne_") && !registered[field] {
					t.Errorf("alert %s references unknown metric %s", r.Alert, field)
				}
			}
		}
	}
}
