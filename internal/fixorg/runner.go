// Package fixorg drives the reconciliation job: it detects organizations
// whose framework instantiation is incomplete and repairs them by creating
// exactly the missing instances and maps.
package fixorg

import (
	"context"
	"time"

	"veridia.org/internal/audit"
	"veridia.org/internal/compliance"
	"veridia.org/internal/obs"
)

// OrgResult is the outcome of one organization's scan or repair.
type OrgResult struct {
	OrganizationID string              `json:"organization_id"`
	Stats          compliance.OrgStats `json:"stats"`
	Error          string              `json:"error,omitempty"`
}

// Report aggregates a batch run.
type Report struct {
	StartedAt     time.Time   `json:"started_at"`
	FinishedAt    time.Time   `json:"finished_at"`
	Organizations []OrgResult `json:"organizations"`
	Failures      int         `json:"failures"`
	EntitiesFound int         `json:"entities_found"`
}

// Runner executes scans and repairs against a compliance service.
type Runner struct {
	svc compliance.Service
}

// New constructs a Runner.
func New(svc compliance.Service) *Runner {
	return &Runner{svc: svc}
}

// ScanOne reports the missing entities of a single organization without
// creating anything.
func (r *Runner) ScanOne(ctx context.Context, organizationID string) (compliance.OrgStats, error) {
	return r.svc.OrgStats(ctx, organizationID)
}

// RepairOne creates the missing entities of a single organization.
func (r *Runner) RepairOne(ctx context.Context, organizationID string) (compliance.OrgStats, error) {
	stats, err := r.svc.RepairOrg(ctx, organizationID)
	if err != nil {
		obs.FixorgRunsTotal.WithLabelValues("error").Inc()
		return compliance.OrgStats{}, err
	}
	obs.FixorgRunsTotal.WithLabelValues("ok").Inc()
	recordRepaired(stats)
	if stats.Total() > 0 {
		_ = audit.LogEvent(ctx, "fixorg.repaired", map[string]any{
			"organization_id":       stats.OrganizationID,
			"requirement_instances": stats.RequirementInstances,
			"control_instances":     stats.ControlInstances,
			"artifacts":             stats.Artifacts,
			"requirement_maps":      stats.RequirementMaps,
			"artifact_maps":         stats.ArtifactMaps,
		})
	}
	return stats, nil
}

// Run processes every organization. A failing organization is logged and
// recorded in the report; it never aborts the batch.
func (r *Runner) Run(ctx context.Context, repair bool) (Report, error) {
	report := Report{StartedAt: time.Now().UTC()}

	orgs, err := r.svc.Organizations(ctx)
	if err != nil {
		return report, err
	}
	mode := "scan"
	if repair {
		mode = "repair"
	}
	for _, org := range orgs {
		var (
			stats  compliance.OrgStats
			runErr error
		)
		if repair {
			stats, runErr = r.RepairOne(ctx, org)
		} else {
			stats, runErr = r.ScanOne(ctx, org)
		}
		result := OrgResult{OrganizationID: org, Stats: stats}
		if runErr != nil {
			result.Error = runErr.Error()
			report.Failures++
			obs.LogEvent(map[string]any{
				"ts":              time.Now().UTC().Format(time.RFC3339Nano),
				"level":           "warn",
				"msg":             "fixorg: organization " + mode + " failed",
				"organization_id": org,
				"error":           runErr.Error(),
			})
		} else {
			report.EntitiesFound += stats.Total()
		}
		report.Organizations = append(report.Organizations, result)
	}
	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// RunPeriodically repairs all organizations on a fixed interval until the
// context is cancelled. Meant to run alongside the API server.
func (r *Runner) RunPeriodically(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.Run(ctx, true); err != nil {
				obs.LogEvent(map[string]any{
					"ts":    time.Now().UTC().Format(time.RFC3339Nano),
					"level": "error",
					"msg":   "fixorg: batch run failed",
					"error": err.Error(),
				})
			}
		}
	}
}

func recordRepaired(stats compliance.OrgStats) {
	classes := map[string]int{
		"requirement_instance": stats.RequirementInstances,
		"control_instance":     stats.ControlInstances,
		"artifact":             stats.Artifacts,
		"requirement_map":      stats.RequirementMaps,
		"artifact_map":         stats.ArtifactMaps,
	}
	for class, n := range classes {
		if n > 0 {
			obs.FixorgRepairedTotal.WithLabelValues(class).Add(float64(n))
		}
	}
}
