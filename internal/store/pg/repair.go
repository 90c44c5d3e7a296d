package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"veridia.org/internal/compliance"
	"veridia.org/internal/ids"
)

func (s *Store) OrgStats(ctx context.Context, organizationID string) (compliance.OrgStats, error) {
	return s.reconcile(ctx, s.db, organizationID, false)
}

func (s *Store) RepairOrg(ctx context.Context, organizationID string) (compliance.OrgStats, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return compliance.OrgStats{}, txFailed(err)
	}
	defer func() { _ = tx.Rollback() }()

	stats, err := s.reconcile(ctx, tx, organizationID, true)
	if err != nil {
		return compliance.OrgStats{}, err
	}
	if err := tx.Commit(); err != nil {
		return compliance.OrgStats{}, txFailed(err)
	}
	return stats, nil
}

// reconcile compares the organization's graph against the catalog and
// either counts (repair=false) or creates (repair=true) the missing
// entities. It never modifies or duplicates existing rows, so a second
// repair run reports zero.
func (s *Store) reconcile(ctx context.Context, q querier, organizationID string, repair bool) (compliance.OrgStats, error) {
	stats := compliance.OrgStats{OrganizationID: organizationID}

	rows, err := q.QueryContext(ctx, `
		select id, framework_template_id from framework_instances
		where organization_id=$1 order by id
	`, organizationID)
	if err != nil {
		return stats, err
	}
	type fwRef struct{ id, tpl string }
	var fws []fwRef
	for rows.Next() {
		var fw fwRef
		if err := rows.Scan(&fw.id, &fw.tpl); err != nil {
			rows.Close()
			return stats, err
		}
		fws = append(fws, fw)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}
	stats.FrameworkInstances = len(fws)

	nowTS := time.Now().UTC()
	for _, fw := range fws {
		plan, err := compliance.PlanAdoption(s.cat, fw.tpl)
		if err != nil {
			return stats, err
		}

		existing, err := s.requirementsOfFramework(ctx, q, fw.id)
		if err != nil {
			return stats, err
		}
		reqByTpl := make(map[string]string, len(existing))
		for _, ri := range existing {
			reqByTpl[ri.RequirementTemplateID] = ri.ID
		}
		for _, rt := range plan.Requirements {
			if _, ok := reqByTpl[rt.ID]; ok {
				continue
			}
			stats.RequirementInstances++
			if repair {
				id := ids.New()
				if _, err := q.ExecContext(ctx, `
					insert into requirement_instances(id, framework_instance_id, requirement_template_id, not_applicable, created_at)
					values ($1,$2,$3,false,$4)
				`, id, fw.id, rt.ID, nowTS); err != nil {
					return stats, err
				}
				reqByTpl[rt.ID] = id
			}
		}

		for _, pc := range plan.Controls {
			var ctrlID string
			err := q.QueryRowContext(ctx, `
				select id from control_instances
				where organization_id=$1 and control_template_id=$2
			`, organizationID, pc.Template.ID).Scan(&ctrlID)
			missing := errors.Is(err, sql.ErrNoRows)
			if err != nil && !missing {
				return stats, err
			}

			if missing {
				stats.ControlInstances++
				stats.Artifacts += len(pc.Artifacts)
				stats.ArtifactMaps += len(pc.Artifacts)
				if repair {
					ctrlID = ids.New()
					if _, err := q.ExecContext(ctx, `
						insert into control_instances(id, organization_id, control_template_id, created_at)
						values ($1,$2,$3,$4)
					`, ctrlID, organizationID, pc.Template.ID, nowTS); err != nil {
						return stats, err
					}
					for _, pa := range pc.Artifacts {
						if err := s.insertPlannedArtifact(ctx, q, organizationID, ctrlID, pa, nowTS); err != nil {
							return stats, err
						}
					}
				}
			} else {
				linked, err := s.artifactsOfControl(ctx, q, ctrlID)
				if err != nil {
					return stats, err
				}
				have := make(map[string]bool, len(linked))
				for _, a := range linked {
					if a.SourceTemplateID != "" {
						have[string(a.Kind)+"/"+a.SourceTemplateID] = true
					}
				}
				for _, pa := range pc.Artifacts {
					if have[string(pa.Kind)+"/"+pa.TemplateID] {
						continue
					}
					stats.Artifacts++
					stats.ArtifactMaps++
					if repair {
						if err := s.insertPlannedArtifact(ctx, q, organizationID, ctrlID, pa, nowTS); err != nil {
							return stats, err
						}
					}
				}
			}

			for _, reqTpl := range pc.RequirementTemplateIDs {
				reqID, ok := reqByTpl[reqTpl]
				if !ok || ctrlID == "" {
					stats.RequirementMaps++
					continue
				}
				var mapped bool
				err := q.QueryRowContext(ctx, `
					select true from requirement_maps
					where requirement_instance_id=$1 and control_instance_id=$2
				`, reqID, ctrlID).Scan(&mapped)
				if err == nil {
					continue
				}
				if !errors.Is(err, sql.ErrNoRows) {
					return stats, err
				}
				stats.RequirementMaps++
				if repair {
					if _, err := q.ExecContext(ctx, `
						insert into requirement_maps(requirement_instance_id, control_instance_id)
						values ($1,$2) on conflict do nothing
					`, reqID, ctrlID); err != nil {
						return stats, err
					}
				}
			}
		}
	}
	return stats, nil
}

func (s *Store) insertPlannedArtifact(ctx context.Context, q querier, organizationID, controlInstanceID string, pa compliance.PlannedArtifact, ts time.Time) error {
	id := ids.New()
	if _, err := q.ExecContext(ctx, `
		insert into artifacts(id, organization_id, kind, name, content, source_template_id, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$8)
	`, id, organizationID, pa.Kind, pa.Name, pa.Content, pa.TemplateID, compliance.InitialStatus(pa.Kind), ts); err != nil {
		return err
	}
	if _, err := q.ExecContext(ctx, `
		insert into control_artifact_maps(control_instance_id, artifact_id, kind)
		values ($1,$2,$3)
	`, controlInstanceID, id, pa.Kind); err != nil {
		return err
	}
	return nil
}
