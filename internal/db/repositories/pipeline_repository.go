// pipeline_repository.go implements PipelineRepository, the organization-scoped
// queries for pipelines and their stages.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/db/models"
)

// PipelineRepository handles database operations for pipelines and stages of one organization
type PipelineRepository struct {
	q     dbtx
	orgID string
}

// First returns the organization's oldest pipeline with its stages in order,
// or nil when the organization has none.
func (r *PipelineRepository) First(ctx context.Context) (*models.PipelineWithStages, error) {
	query := `SELECT * FROM pipelines WHERE organization_id = $1 ORDER BY created_at, id LIMIT 1`
	p, err := getOne[models.Pipeline](ctx, r.q, query, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	if p == nil {
		return nil, nil
	}
	stages, err := r.ListStages(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	return &models.PipelineWithStages{Pipeline: *p, Stages: stages}, nil
}

// GetPipeline retrieves a pipeline by ID
func (r *PipelineRepository) GetPipeline(ctx context.Context, id string) (*models.Pipeline, error) {
	p, err := getOne[models.Pipeline](ctx, r.q,
		`SELECT * FROM pipelines WHERE id = $1 AND organization_id = $2`, id, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get pipeline: %w", err)
	}
	return p, nil
}

// PipelineExists reports whether the pipeline belongs to the organization
func (r *PipelineRepository) PipelineExists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, r.q, "pipelines", r.orgID, id)
}

// CreatePipeline inserts a pipeline
func (r *PipelineRepository) CreatePipeline(ctx context.Context, p *models.Pipeline) error {
	query := `INSERT INTO pipelines (id, organization_id, name) VALUES ($1, $2, $3) RETURNING *`
	if err := r.q.GetContext(ctx, p, query, uuid.New().String(), r.orgID, p.Name); err != nil {
		return fmt.Errorf("failed to create pipeline: %w", err)
	}
	return nil
}

// ListStages returns a pipeline's stages ordered by position
func (r *PipelineRepository) ListStages(ctx context.Context, pipelineID string) ([]models.Stage, error) {
	stages := []models.Stage{}
	query := `
		SELECT * FROM stages
		WHERE pipeline_id = $1 AND organization_id = $2
		ORDER BY position, created_at`
	if err := r.q.SelectContext(ctx, &stages, query, pipelineID, r.orgID); err != nil {
		return nil, fmt.Errorf("failed to list stages: %w", err)
	}
	return stages, nil
}

// GetStage retrieves a stage by ID
func (r *PipelineRepository) GetStage(ctx context.Context, id string) (*models.Stage, error) {
	return r.getStage(ctx, id, false)
}

// GetStageForUpdate retrieves and row-locks a stage
func (r *PipelineRepository) GetStageForUpdate(ctx context.Context, id string) (*models.Stage, error) {
	return r.getStage(ctx, id, true)
}

func (r *PipelineRepository) getStage(ctx context.Context, id string, forUpdate bool) (*models.Stage, error) {
	query := `SELECT * FROM stages WHERE id = $1 AND organization_id = $2` + lockClause(forUpdate)
	s, err := getOne[models.Stage](ctx, r.q, query, id, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get stage: %w", err)
	}
	return s, nil
}

// StageInPipeline reports whether the stage belongs to the given pipeline of
// this organization.
func (r *PipelineRepository) StageInPipeline(ctx context.Context, stageID, pipelineID string) (bool, error) {
	var found bool
	query := `SELECT EXISTS (SELECT 1 FROM stages WHERE id = $1 AND pipeline_id = $2 AND organization_id = $3)`
	if err := r.q.GetContext(ctx, &found, query, stageID, pipelineID, r.orgID); err != nil {
		return false, fmt.Errorf("failed to check stage: %w", err)
	}
	return found, nil
}

// CreateStage inserts a stage
func (r *PipelineRepository) CreateStage(ctx context.Context, s *models.Stage) error {
	query := `
		INSERT INTO stages (id, organization_id, pipeline_id, name, position)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`
	if err := r.q.GetContext(ctx, s, query, uuid.New().String(), r.orgID, s.PipelineID, s.Name, s.Order); err != nil {
		return fmt.Errorf("failed to create stage: %w", err)
	}
	return nil
}

// UpdateStage writes the stage name and position and bumps the version
func (r *PipelineRepository) UpdateStage(ctx context.Context, s *models.Stage) error {
	query := `
		UPDATE stages
		SET name = $3, position = $4, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING *`
	if err := r.q.GetContext(ctx, s, query, s.ID, r.orgID, s.Name, s.Order); err != nil {
		return fmt.Errorf("failed to update stage: %w", err)
	}
	return nil
}

// CountDealsInStage returns how many deals currently sit in the stage
func (r *PipelineRepository) CountDealsInStage(ctx context.Context, stageID string) (int, error) {
	var n int
	query := `SELECT COUNT(*) FROM deals WHERE stage_id = $1 AND organization_id = $2`
	if err := r.q.GetContext(ctx, &n, query, stageID, r.orgID); err != nil {
		return 0, fmt.Errorf("failed to count deals in stage: %w", err)
	}
	return n, nil
}

// DeleteStage removes a stage
func (r *PipelineRepository) DeleteStage(ctx context.Context, id string) (bool, error) {
	return deleteScoped(ctx, r.q, "stages", r.orgID, id)
}

// createDefault provisions the default pipeline and its stages.
func (r *PipelineRepository) createDefault(ctx context.Context) (*models.PipelineWithStages, error) {
	p := &models.Pipeline{Name: models.DefaultPipelineName}
	if err := r.CreatePipeline(ctx, p); err != nil {
		return nil, err
	}
	out := &models.PipelineWithStages{Pipeline: *p}
	for i, name := range models.DefaultStages {
		s := &models.Stage{PipelineID: p.ID, Name: name, Order: i + 1}
		if err := r.CreateStage(ctx, s); err != nil {
			return nil, err
		}
		out.Stages = append(out.Stages, *s)
	}
	return out, nil
}
