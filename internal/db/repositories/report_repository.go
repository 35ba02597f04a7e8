// report_repository.go implements ReportRepository, the aggregate queries behind
// the pipeline value, win rate and cycle time reports.
package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/crm-platform/crm/internal/db/models"
)

// ReportRepository runs organization-scoped report queries
type ReportRepository struct {
	q     dbtx
	orgID string
}

// DateRange bounds a report on deal close_date; zero values are open ends.
type DateRange struct {
	From time.Time
	To   time.Time
}

func (d DateRange) apply(conds *conditions) {
	if !d.From.IsZero() {
		conds.add("d.close_date >= $%d", d.From)
	}
	if !d.To.IsZero() {
		conds.add("d.close_date <= $%d", d.To)
	}
}

// PipelineValueByStage sums OPEN deal values per stage, in stage order.
// Stages without open deals report zero.
func (r *ReportRepository) PipelineValueByStage(ctx context.Context) ([]models.StageValue, error) {
	query := `
		SELECT s.name AS stage,
		       COALESCE(SUM(d.value_cents) FILTER (WHERE d.status = 'OPEN'), 0) AS value_cents
		FROM stages s
		LEFT JOIN deals d ON d.stage_id = s.id AND d.organization_id = s.organization_id
		WHERE s.organization_id = $1
		GROUP BY s.id, s.name, s.position
		ORDER BY s.position, s.name`

	rows := []models.StageValue{}
	if err := r.q.SelectContext(ctx, &rows, query, r.orgID); err != nil {
		return nil, fmt.Errorf("failed to report pipeline value: %w", err)
	}
	for i := range rows {
		rows[i].Value = float64(rows[i].ValueCents) / 100
	}
	return rows, nil
}

// WinRateByOwner counts WON and LOST deals per owner within the range.
func (r *ReportRepository) WinRateByOwner(ctx context.Context, rng DateRange) ([]models.OwnerWinRate, error) {
	conds := &conditions{}
	conds.add("d.organization_id = $%d", r.orgID)
	conds.clauses = append(conds.clauses, "d.status IN ('WON', 'LOST')")
	rng.apply(conds)

	query := `
		SELECT d.owner_id, COALESCE(u.name, 'Unknown') AS owner,
		       COUNT(*) FILTER (WHERE d.status = 'WON') AS won,
		       COUNT(*) FILTER (WHERE d.status = 'LOST') AS lost
		FROM deals d
		LEFT JOIN users u ON u.id = d.owner_id` + conds.where() + `
		GROUP BY d.owner_id, u.name
		ORDER BY owner`

	rows := []models.OwnerWinRate{}
	if err := r.q.SelectContext(ctx, &rows, query, conds.args...); err != nil {
		return nil, fmt.Errorf("failed to report win rate: %w", err)
	}
	for i := range rows {
		if closed := rows[i].Won + rows[i].Lost; closed > 0 {
			rows[i].WinRate = float64(rows[i].Won) / float64(closed) * 100
		}
	}
	return rows, nil
}

// CycleTime lists WON deals within the range with the whole days from
// creation to close, and the average across them.
func (r *ReportRepository) CycleTime(ctx context.Context, rng DateRange) (*models.CycleTimeReport, error) {
	conds := &conditions{}
	conds.add("d.organization_id = $%d", r.orgID)
	conds.add("d.status = $%d", models.DealStatusWon)
	rng.apply(conds)

	query := `
		SELECT d.title, COALESCE(u.name, 'Unknown') AS owner, d.created_at, d.close_date
		FROM deals d
		LEFT JOIN users u ON u.id = d.owner_id` + conds.where() + `
		ORDER BY d.close_date, d.id`

	deals := []models.DealCycle{}
	if err := r.q.SelectContext(ctx, &deals, query, conds.args...); err != nil {
		return nil, fmt.Errorf("failed to report cycle time: %w", err)
	}

	report := &models.CycleTimeReport{Deals: deals}
	total := 0
	for i := range deals {
		deals[i].Days = wholeDays(deals[i].CreatedAt, deals[i].CloseDate)
		total += deals[i].Days
	}
	if len(deals) > 0 {
		report.Average = float64(total) / float64(len(deals))
	}
	return report, nil
}

// wholeDays truncates toward zero; a missing close date counts as zero.
func wholeDays(from time.Time, to *time.Time) int {
	if to == nil {
		return 0
	}
	return int(to.Sub(from).Hours() / 24)
}
