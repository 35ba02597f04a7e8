package crm

import (
	"encoding/csv"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/api/params"
	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/db/repositories"
)

// ReportHandlers handles the sales report endpoints
type ReportHandlers struct {
	store *repositories.TenantStore
}

// NewReportHandlers creates a new ReportHandlers instance
func NewReportHandlers(store *repositories.TenantStore) *ReportHandlers {
	return &ReportHandlers{store: store}
}

// PipelineValueHandler reports open deal value per stage
// GET /api/v1/reports/pipeline-value?format=csv
func (h *ReportHandlers) PipelineValueHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		rows, err := h.store.Scope(p.Membership).Reports().PipelineValueByStage(c.Request.Context())
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if wantsCSV(c) {
			records := make([][]string, 0, len(rows))
			for _, r := range rows {
				records = append(records, []string{r.Stage, formatFloat(r.Value)})
			}
			writeCSV(c, "pipeline-value.csv", []string{"Stage", "Value"}, records)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// WinRateHandler reports won and lost deals per owner
// GET /api/v1/reports/win-rate?from=&to=&format=csv
func (h *ReportHandlers) WinRateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		rng, err := params.DateRange(c)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		rows, err := h.store.Scope(p.Membership).Reports().WinRateByOwner(c.Request.Context(), rng)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if wantsCSV(c) {
			records := make([][]string, 0, len(rows))
			for _, r := range rows {
				records = append(records, []string{r.Owner, strconv.Itoa(r.Won), strconv.Itoa(r.Lost), formatFloat(r.WinRate)})
			}
			writeCSV(c, "win-rate.csv", []string{"Owner", "Won", "Lost", "Win Rate"}, records)
			return
		}
		c.JSON(http.StatusOK, rows)
	}
}

// CycleTimeHandler reports days from creation to close for won deals
// GET /api/v1/reports/cycle-time?from=&to=&format=csv
func (h *ReportHandlers) CycleTimeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		rng, err := params.DateRange(c)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		report, err := h.store.Scope(p.Membership).Reports().CycleTime(c.Request.Context(), rng)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if wantsCSV(c) {
			records := make([][]string, 0, len(report.Deals))
			for _, d := range report.Deals {
				records = append(records, []string{d.Deal, d.Owner, strconv.Itoa(d.Days)})
			}
			writeCSV(c, "cycle-time.csv", []string{"Deal", "Owner", "Cycle Time (days)"}, records)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func wantsCSV(c *gin.Context) bool {
	return c.Query("format") == "csv"
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// writeCSV streams header and records as an attachment. Fields containing
// commas or quotes are quoted.
func writeCSV(c *gin.Context, filename string, header []string, records [][]string) {
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	c.Status(http.StatusOK)

	w := csv.NewWriter(c.Writer)
	if err := w.Write(header); err != nil {
		slog.Error("failed to write csv", "error", err)
		return
	}
	if err := w.WriteAll(records); err != nil {
		slog.Error("failed to write csv", "error", err)
	}
}
