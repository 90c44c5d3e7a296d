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

func (s *Store) ListFrameworkInstances(ctx context.Context, organizationID string) ([]compliance.FrameworkInstance, error) {
	rows, err := s.db.QueryContext(ctx, `
		select id, organization_id, framework_template_id, created_at
		from framework_instances
		where organization_id=$1
		order by id
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []compliance.FrameworkInstance
	for rows.Next() {
		var fw compliance.FrameworkInstance
		if err := rows.Scan(&fw.ID, &fw.OrganizationID, &fw.FrameworkTemplateID, &fw.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, fw)
	}
	return out, rows.Err()
}

func (s *Store) ListRequirementInstances(ctx context.Context, frameworkInstanceID string) ([]compliance.RequirementInstance, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select true from framework_instances where id=$1`, frameworkInstanceID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, compliance.ErrNotFound
		}
		return nil, err
	}
	return s.requirementsOfFramework(ctx, s.db, frameworkInstanceID)
}

func (s *Store) GetFrameworkInstance(ctx context.Context, frameworkInstanceID string) (compliance.FrameworkInstance, error) {
	var fw compliance.FrameworkInstance
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, framework_template_id, created_at
		from framework_instances where id=$1
	`, frameworkInstanceID).Scan(&fw.ID, &fw.OrganizationID, &fw.FrameworkTemplateID, &fw.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.FrameworkInstance{}, compliance.ErrNotFound
	}
	if err != nil {
		return compliance.FrameworkInstance{}, err
	}
	return fw, nil
}

func (s *Store) GetRequirement(ctx context.Context, requirementInstanceID string) (compliance.RequirementInstance, error) {
	var ri compliance.RequirementInstance
	err := s.db.QueryRowContext(ctx, `
		select id, framework_instance_id, requirement_template_id, not_applicable, created_at
		from requirement_instances where id=$1
	`, requirementInstanceID).Scan(&ri.ID, &ri.FrameworkInstanceID, &ri.RequirementTemplateID, &ri.NotApplicable, &ri.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.RequirementInstance{}, compliance.ErrNotFound
	}
	if err != nil {
		return compliance.RequirementInstance{}, err
	}
	return ri, nil
}

func (s *Store) GetControl(ctx context.Context, controlInstanceID string) (compliance.ControlInstance, error) {
	var c compliance.ControlInstance
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, control_template_id, created_at
		from control_instances where id=$1
	`, controlInstanceID).Scan(&c.ID, &c.OrganizationID, &c.ControlTemplateID, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.ControlInstance{}, compliance.ErrNotFound
	}
	if err != nil {
		return compliance.ControlInstance{}, err
	}
	return c, nil
}

func (s *Store) requirementsOfFramework(ctx context.Context, q querier, frameworkInstanceID string) ([]compliance.RequirementInstance, error) {
	rows, err := q.QueryContext(ctx, `
		select id, framework_instance_id, requirement_template_id, not_applicable, created_at
		from requirement_instances
		where framework_instance_id=$1
		order by id
	`, frameworkInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []compliance.RequirementInstance
	for rows.Next() {
		var ri compliance.RequirementInstance
		if err := rows.Scan(&ri.ID, &ri.FrameworkInstanceID, &ri.RequirementTemplateID, &ri.NotApplicable, &ri.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

func (s *Store) ControlsForRequirement(ctx context.Context, requirementInstanceID string) ([]compliance.ControlInstance, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select true from requirement_instances where id=$1`, requirementInstanceID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, compliance.ErrNotFound
		}
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select c.id, c.organization_id, c.control_template_id, c.created_at
		from control_instances c
		join requirement_maps rm on rm.control_instance_id = c.id
		where rm.requirement_instance_id = $1
		order by c.id
	`, requirementInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []compliance.ControlInstance
	for rows.Next() {
		var c compliance.ControlInstance
		if err := rows.Scan(&c.ID, &c.OrganizationID, &c.ControlTemplateID, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) RequirementsForControl(ctx context.Context, controlInstanceID string) ([]compliance.RequirementInstance, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select true from control_instances where id=$1`, controlInstanceID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, compliance.ErrNotFound
		}
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		select ri.id, ri.framework_instance_id, ri.requirement_template_id, ri.not_applicable, ri.created_at
		from requirement_instances ri
		join requirement_maps rm on rm.requirement_instance_id = ri.id
		where rm.control_instance_id = $1
		order by ri.id
	`, controlInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []compliance.RequirementInstance
	for rows.Next() {
		var ri compliance.RequirementInstance
		if err := rows.Scan(&ri.ID, &ri.FrameworkInstanceID, &ri.RequirementTemplateID, &ri.NotApplicable, &ri.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ri)
	}
	return out, rows.Err()
}

func (s *Store) ArtifactsForControl(ctx context.Context, controlInstanceID string) ([]compliance.Artifact, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`select true from control_instances where id=$1`, controlInstanceID).Scan(&exists); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, compliance.ErrNotFound
		}
		return nil, err
	}
	return s.artifactsOfControl(ctx, s.db, controlInstanceID)
}

func (s *Store) artifactsOfControl(ctx context.Context, q querier, controlInstanceID string) ([]compliance.Artifact, error) {
	rows, err := q.QueryContext(ctx, `
		select a.id, a.organization_id, a.kind, a.name, a.content, coalesce(a.source_template_id,''), a.status, a.created_at, a.updated_at
		from artifacts a
		join control_artifact_maps cam on cam.artifact_id = a.id
		where cam.control_instance_id = $1
		order by a.id
	`, controlInstanceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []compliance.Artifact
	for rows.Next() {
		var a compliance.Artifact
		if err := rows.Scan(&a.ID, &a.OrganizationID, &a.Kind, &a.Name, &a.Content, &a.SourceTemplateID, &a.Status, &a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) LinkArtifact(ctx context.Context, controlInstanceID, artifactID string) error {
	// Cross-organization maps are rejected before the insert.
	var ctrlOrg, artOrg string
	err := s.db.QueryRowContext(ctx, `
		select c.organization_id, a.organization_id
		from control_instances c, artifacts a
		where c.id=$1 and a.id=$2
	`, controlInstanceID, artifactID).Scan(&ctrlOrg, &artOrg)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.ErrNotFound
	}
	if err != nil {
		return err
	}
	if ctrlOrg != artOrg {
		return compliance.ErrInvalidInput
	}

	if _, err := s.db.ExecContext(ctx, `
		insert into control_artifact_maps(control_instance_id, artifact_id, kind)
		select $1, id, kind from artifacts where id=$2
	`, controlInstanceID, artifactID); err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return compliance.ErrConflict
			case pgErrForeignKeyViolation:
				return compliance.ErrNotFound
			}
		}
		return err
	}
	return nil
}

func (s *Store) UnlinkArtifact(ctx context.Context, controlInstanceID, artifactID string) error {
	res, err := s.db.ExecContext(ctx, `
		delete from control_artifact_maps
		where control_instance_id=$1 and artifact_id=$2
	`, controlInstanceID, artifactID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return compliance.ErrNotFound
	}
	return nil
}

func (s *Store) CreateArtifact(ctx context.Context, organizationID string, kind compliance.ArtifactKind, name, content string) (compliance.Artifact, error) {
	if strings.TrimSpace(organizationID) == "" || strings.TrimSpace(name) == "" {
		return compliance.Artifact{}, compliance.ErrInvalidInput
	}
	if kind != compliance.KindPolicy && kind != compliance.KindEvidence && kind != compliance.KindTask {
		return compliance.Artifact{}, compliance.ErrInvalidInput
	}
	nowTS := time.Now().UTC()
	a := compliance.Artifact{
		ID:             ids.New(),
		OrganizationID: organizationID,
		Kind:           kind,
		Name:           name,
		Content:        content,
		Status:         compliance.InitialStatus(kind),
		CreatedAt:      nowTS,
		UpdatedAt:      nowTS,
	}
	if _, err := s.db.ExecContext(ctx, `
		insert into artifacts(id, organization_id, kind, name, content, source_template_id, status, created_at, updated_at)
		values ($1,$2,$3,$4,$5,'',$6,$7,$7)
	`, a.ID, a.OrganizationID, a.Kind, a.Name, a.Content, a.Status, nowTS); err != nil {
		return compliance.Artifact{}, err
	}
	return a, nil
}

func (s *Store) GetArtifact(ctx context.Context, artifactID string) (compliance.Artifact, error) {
	var a compliance.Artifact
	err := s.db.QueryRowContext(ctx, `
		select id, organization_id, kind, name, content, coalesce(source_template_id,''), status, created_at, updated_at
		from artifacts where id=$1
	`, artifactID).Scan(&a.ID, &a.OrganizationID, &a.Kind, &a.Name, &a.Content, &a.SourceTemplateID, &a.Status, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return compliance.Artifact{}, compliance.ErrNotFound
	}
	if err != nil {
		return compliance.Artifact{}, err
	}
	return a, nil
}

func (s *Store) SetRequirementApplicability(ctx context.Context, requirementInstanceID string, notApplicable bool) error {
	res, err := s.db.ExecContext(ctx, `
		update requirement_instances set not_applicable=$2 where id=$1
	`, requirementInstanceID, notApplicable)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return compliance.ErrNotFound
	}
	return nil
}

func (s *Store) Organizations(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		select distinct organization_id from framework_instances order by organization_id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}
