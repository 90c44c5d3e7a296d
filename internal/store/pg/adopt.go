package pg

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"veridia.org/internal/compliance"
	"veridia.org/internal/ids"
)

func (s *Store) AdoptFramework(ctx context.Context, organizationID, frameworkTemplateID string) (compliance.Adoption, error) {
	if strings.TrimSpace(organizationID) == "" || strings.TrimSpace(frameworkTemplateID) == "" {
		return compliance.Adoption{}, compliance.ErrInvalidInput
	}
	// Resolve the full template subtree before the first write.
	plan, err := compliance.PlanAdoption(s.cat, frameworkTemplateID)
	if err != nil {
		return compliance.Adoption{}, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return compliance.Adoption{}, txFailed(err)
	}
	defer func() { _ = tx.Rollback() }()

	nowTS := time.Now().UTC()
	fw := compliance.FrameworkInstance{
		ID:                  ids.New(),
		OrganizationID:      organizationID,
		FrameworkTemplateID: frameworkTemplateID,
		CreatedAt:           nowTS,
	}
	if _, err := tx.ExecContext(ctx, `
		insert into framework_instances(id, organization_id, framework_template_id, created_at)
		values ($1,$2,$3,$4)
	`, fw.ID, fw.OrganizationID, fw.FrameworkTemplateID, fw.CreatedAt); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return compliance.Adoption{}, compliance.ErrAlreadyAdopted
		}
		return compliance.Adoption{}, err
	}

	adoption := compliance.Adoption{Framework: fw}
	reqByTpl := make(map[string]string, len(plan.Requirements))
	for _, rt := range plan.Requirements {
		ri := compliance.RequirementInstance{
			ID:                    ids.New(),
			FrameworkInstanceID:   fw.ID,
			RequirementTemplateID: rt.ID,
			CreatedAt:             nowTS,
		}
		if _, err := tx.ExecContext(ctx, `
			insert into requirement_instances(id, framework_instance_id, requirement_template_id, not_applicable, created_at)
			values ($1,$2,$3,false,$4)
		`, ri.ID, ri.FrameworkInstanceID, ri.RequirementTemplateID, ri.CreatedAt); err != nil {
			return compliance.Adoption{}, err
		}
		reqByTpl[rt.ID] = ri.ID
		adoption.Requirements = append(adoption.Requirements, ri)
	}

	for _, pc := range plan.Controls {
		// Atomic find-or-create: concurrent adoptions sharing this control
		// template must converge on a single instance.
		ctrlID := ids.New()
		created := true
		err := tx.QueryRowContext(ctx, `
			insert into control_instances(id, organization_id, control_template_id, created_at)
			values ($1,$2,$3,$4)
			on conflict (organization_id, control_template_id) do nothing
			returning id
		`, ctrlID, organizationID, pc.Template.ID, nowTS).Scan(&ctrlID)
		if errors.Is(err, sql.ErrNoRows) {
			created = false
			if err := tx.QueryRowContext(ctx, `
				select id from control_instances
				where organization_id=$1 and control_template_id=$2
			`, organizationID, pc.Template.ID).Scan(&ctrlID); err != nil {
				return compliance.Adoption{}, err
			}
			adoption.ReusedControls = append(adoption.ReusedControls, ctrlID)
		} else if err != nil {
			return compliance.Adoption{}, err
		}

		if created {
			adoption.Controls = append(adoption.Controls, compliance.ControlInstance{
				ID:                ctrlID,
				OrganizationID:    organizationID,
				ControlTemplateID: pc.Template.ID,
				CreatedAt:         nowTS,
			})
			// Artifacts are materialized once, when the control is first
			// created; a shared control never gets a second set.
			for _, pa := range pc.Artifacts {
				a := compliance.Artifact{
					ID:               ids.New(),
					OrganizationID:   organizationID,
					Kind:             pa.Kind,
					Name:             pa.Name,
					Content:          pa.Content,
					SourceTemplateID: pa.TemplateID,
					Status:           compliance.InitialStatus(pa.Kind),
					CreatedAt:        nowTS,
					UpdatedAt:        nowTS,
				}
				if _, err := tx.ExecContext(ctx, `
					insert into artifacts(id, organization_id, kind, name, content, source_template_id, status, created_at, updated_at)
					values ($1,$2,$3,$4,$5,$6,$7,$8,$8)
				`, a.ID, a.OrganizationID, a.Kind, a.Name, a.Content, a.SourceTemplateID, a.Status, nowTS); err != nil {
					return compliance.Adoption{}, err
				}
				if _, err := tx.ExecContext(ctx, `
					insert into control_artifact_maps(control_instance_id, artifact_id, kind)
					values ($1,$2,$3)
				`, ctrlID, a.ID, a.Kind); err != nil {
					return compliance.Adoption{}, err
				}
				adoption.Artifacts = append(adoption.Artifacts, a)
			}
		}

		for _, reqTpl := range pc.RequirementTemplateIDs {
			reqID, ok := reqByTpl[reqTpl]
			if !ok {
				continue
			}
			if _, err := tx.ExecContext(ctx, `
				insert into requirement_maps(requirement_instance_id, control_instance_id)
				values ($1,$2) on conflict do nothing
			`, reqID, ctrlID); err != nil {
				return compliance.Adoption{}, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return compliance.Adoption{}, txFailed(err)
	}
	return adoption, nil
}

func (s *Store) RemoveFramework(ctx context.Context, organizationID, frameworkTemplateID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return txFailed(err)
	}
	defer func() { _ = tx.Rollback() }()

	var fwID string
	err = tx.QueryRowContext(ctx, `
		select id from framework_instances
		where organization_id=$1 and framework_template_id=$2
	`, organizationID, frameworkTemplateID).Scan(&fwID)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.ErrNotFound
	}
	if err != nil {
		return err
	}

	// Controls referenced only by this framework's requirements are orphaned
	// once it goes; controls shared with a surviving framework must stay.
	rows, err := tx.QueryContext(ctx, `
		select distinct rm.control_instance_id
		from requirement_maps rm
		join requirement_instances ri on ri.id = rm.requirement_instance_id
		where ri.framework_instance_id = $1
	`, fwID)
	if err != nil {
		return err
	}
	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		candidates = append(candidates, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	// Cascades remove this framework's requirement instances and their maps.
	if _, err := tx.ExecContext(ctx, `delete from framework_instances where id=$1`, fwID); err != nil {
		return err
	}

	for _, ctrlID := range candidates {
		var remaining int
		if err := tx.QueryRowContext(ctx, `
			select count(*) from requirement_maps where control_instance_id=$1
		`, ctrlID).Scan(&remaining); err != nil {
			return err
		}
		if remaining == 0 {
			// Artifacts survive as unmapped organization data; only the
			// control row and its artifact maps go (map rows by cascade).
			if _, err := tx.ExecContext(ctx, `delete from control_instances where id=$1`, ctrlID); err != nil {
				return err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return txFailed(err)
	}
	return nil
}
