package pg

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"time"

	"veridia.org/internal/compliance"
)

func (s *Store) UpdateArtifactStatus(ctx context.Context, artifactID, status string) (compliance.Impact, error) {
	a, err := s.GetArtifact(ctx, artifactID)
	if err != nil {
		return compliance.Impact{}, err
	}
	if !compliance.ValidStatus(a.Kind, status) {
		return compliance.Impact{}, compliance.ErrInvalidStatus
	}
	if _, err := s.db.ExecContext(ctx, `
		update artifacts set status=$2, updated_at=$3 where id=$1
	`, artifactID, status, time.Now().UTC()); err != nil {
		return compliance.Impact{}, err
	}
	return s.impact(ctx, s.db, artifactID)
}

func (s *Store) ControlStatus(ctx context.Context, controlInstanceID string) (compliance.ControlStatus, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select true from control_instances where id=$1`, controlInstanceID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", compliance.ErrNotFound
		}
		return "", err
	}
	return s.controlStatus(ctx, s.db, controlInstanceID)
}

func (s *Store) controlStatus(ctx context.Context, q querier, controlInstanceID string) (compliance.ControlStatus, error) {
	arts, err := s.artifactsOfControl(ctx, q, controlInstanceID)
	if err != nil {
		return "", err
	}
	return compliance.ControlStatusOf(arts), nil
}

func (s *Store) RequirementStatus(ctx context.Context, requirementInstanceID string) (compliance.RequirementStatus, error) {
	return s.requirementStatus(ctx, s.db, requirementInstanceID)
}

func (s *Store) requirementStatus(ctx context.Context, q querier, requirementInstanceID string) (compliance.RequirementStatus, error) {
	var notApplicable bool
	err := q.QueryRowContext(ctx,
		`select not_applicable from requirement_instances where id=$1`, requirementInstanceID).Scan(&notApplicable)
	if errors.Is(err, sql.ErrNoRows) {
		return "", compliance.ErrNotFound
	}
	if err != nil {
		return "", err
	}

	ctrlIDs, err := s.controlIDsForRequirement(ctx, q, requirementInstanceID)
	if err != nil {
		return "", err
	}
	var controls []compliance.ControlStatus
	for _, id := range ctrlIDs {
		st, err := s.controlStatus(ctx, q, id)
		if err != nil {
			return "", err
		}
		controls = append(controls, st)
	}
	return compliance.RequirementStatusOf(notApplicable, controls), nil
}

func (s *Store) controlIDsForRequirement(ctx context.Context, q querier, requirementInstanceID string) ([]string, error) {
	rows, err := q.QueryContext(ctx, `
		select control_instance_id from requirement_maps
		where requirement_instance_id=$1 order by control_instance_id
	`, requirementInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

func (s *Store) FrameworkCompliance(ctx context.Context, frameworkInstanceID string) (float64, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select true from framework_instances where id=$1`, frameworkInstanceID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, compliance.ErrNotFound
		}
		return 0, err
	}
	return s.frameworkCompliance(ctx, s.db, frameworkInstanceID)
}

func (s *Store) frameworkCompliance(ctx context.Context, q querier, frameworkInstanceID string) (float64, error) {
	reqs, err := s.requirementsOfFramework(ctx, q, frameworkInstanceID)
	if err != nil {
		return 0, err
	}
	var statuses []compliance.RequirementStatus
	for _, ri := range reqs {
		st, err := s.requirementStatus(ctx, q, ri.ID)
		if err != nil {
			return 0, err
		}
		statuses = append(statuses, st)
	}
	return compliance.FrameworkCompliancePercent(statuses), nil
}

func (s *Store) RecomputeStatus(ctx context.Context, artifactID string) (compliance.Impact, error) {
	if _, err := s.GetArtifact(ctx, artifactID); err != nil {
		return compliance.Impact{}, err
	}
	return s.impact(ctx, s.db, artifactID)
}

// impact computes the transitive closure of the artifact's change: its
// controls, every requirement mapped to them across frameworks, and those
// requirements' frameworks.
func (s *Store) impact(ctx context.Context, q querier, artifactID string) (compliance.Impact, error) {
	impact := compliance.Impact{ArtifactID: artifactID}

	rows, err := q.QueryContext(ctx, `
		select control_instance_id from control_artifact_maps
		where artifact_id=$1 order by control_instance_id
	`, artifactID)
	if err != nil {
		return compliance.Impact{}, err
	}
	var ctrlIDs []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return compliance.Impact{}, err
		}
		ctrlIDs = append(ctrlIDs, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return compliance.Impact{}, err
	}

	reqSeen := make(map[string]struct{})
	fwSeen := make(map[string]struct{})
	for _, ctrlID := range ctrlIDs {
		st, err := s.controlStatus(ctx, q, ctrlID)
		if err != nil {
			return compliance.Impact{}, err
		}
		impact.Controls = append(impact.Controls, compliance.ControlImpact{
			ControlInstanceID: ctrlID,
			Status:            st,
		})

		reqRows, err := q.QueryContext(ctx, `
			select ri.id, ri.framework_instance_id
			from requirement_instances ri
			join requirement_maps rm on rm.requirement_instance_id = ri.id
			where rm.control_instance_id = $1
			order by ri.id
		`, ctrlID)
		if err != nil {
			return compliance.Impact{}, err
		}
		type reqRef struct{ id, fw string }
		var refs []reqRef
		for reqRows.Next() {
			var ref reqRef
			if err := reqRows.Scan(&ref.id, &ref.fw); err != nil {
				reqRows.Close()
				return compliance.Impact{}, err
			}
			refs = append(refs, ref)
		}
		reqRows.Close()
		if err := reqRows.Err(); err != nil {
			return compliance.Impact{}, err
		}

		for _, ref := range refs {
			if _, dup := reqSeen[ref.id]; dup {
				continue
			}
			reqSeen[ref.id] = struct{}{}
			rst, err := s.requirementStatus(ctx, q, ref.id)
			if err != nil {
				return compliance.Impact{}, err
			}
			impact.Requirements = append(impact.Requirements, compliance.RequirementImpact{
				RequirementInstanceID: ref.id,
				Status:                rst,
			})
			fwSeen[ref.fw] = struct{}{}
		}
	}

	var fwIDs []string
	for fwID := range fwSeen {
		fwIDs = append(fwIDs, fwID)
	}
	sort.Strings(fwIDs)
	for _, fwID := range fwIDs {
		pct, err := s.frameworkCompliance(ctx, q, fwID)
		if err != nil {
			return compliance.Impact{}, err
		}
		impact.Frameworks = append(impact.Frameworks, compliance.FrameworkImpact{
			FrameworkInstanceID: fwID,
			CompliancePercent:   pct,
		})
	}

	sort.Slice(impact.Requirements, func(i, j int) bool {
		return impact.Requirements[i].RequirementInstanceID < impact.Requirements[j].RequirementInstanceID
	})
	return impact, nil
}
