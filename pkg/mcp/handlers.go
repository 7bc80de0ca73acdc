package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/sirupsen/logrus"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/config"
	"github.com/ngo-platform/media-scraper/pkg/fetch"
	"github.com/ngo-platform/media-scraper/pkg/models"
)

// handleScrapePage handles the scrape_page tool
func (s *Server) handleScrapePage(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	urlStr := request.GetString("url", "")
	if urlStr == "" {
		return mcp.NewToolResultError("url parameter is required"), nil
	}

	filters := s.cfg.DefaultFilters
	if raw := request.GetString("filters", ""); raw != "" {
		merged, err := filters.WithOverrides([]byte(raw))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("invalid filters: %v", err)), nil
		}
		filters = merged
	}

	startTime := time.Now()
	result, err := s.cfg.Scraper.Scrape(ctx, urlStr, filters)
	if err != nil {
		var fe *fetch.FetchError
		if errors.As(err, &fe) {
			return mcp.NewToolResultError(fe.Message()), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("scrape failed: %v", err)), nil
	}

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"url":            urlStr,
		"media":          result.Media,
		"total_found":    result.TotalFound,
		"total_valid":    result.TotalValid,
		"scrape_time_ms": time.Since(startTime).Milliseconds(),
	})), nil
}

// handleImportMedia handles the import_media tool
func (s *Server) handleImportMedia(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := request.GetString("media", "")
	if raw == "" {
		return mcp.NewToolResultError("media parameter is required"), nil
	}
	var media []models.ScrapedMediaCandidate
	if err := json.Unmarshal([]byte(raw), &media); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid media JSON: %v", err)), nil
	}
	if len(media) == 0 {
		return mcp.NewToolResultError("no media items provided"), nil
	}

	category := config.GetEffectiveCategory(request.GetString("category", ""), s.cfg.ImportConfig)
	job := s.jobManager.CreateJob(category, len(media))

	go s.runImportJob(job.ID, models.ImportRequest{Media: media, Category: category})

	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"status":   "started",
		"message":  "Import started successfully",
		"job_id":   job.ID,
		"category": category,
		"items":    len(media),
	})), nil
}

// handleBulkImport handles the bulk_import tool
func (s *Server) handleBulkImport(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := request.GetString("images", "")
	if raw == "" {
		return mcp.NewToolResultError("images parameter is required"), nil
	}
	var images []models.BulkImage
	if err := json.Unmarshal([]byte(raw), &images); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid images JSON: %v", err)), nil
	}
	if len(images) == 0 {
		return mcp.NewToolResultError("images array is required"), nil
	}

	report, err := s.cfg.Importer.BulkImport(ctx, models.BulkImportRequest{Images: images})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("bulk import failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"imported": report.TotalImported,
		"total":    report.TotalRequested,
		"images":   report.Imported,
		"errors":   report.Errors,
	})), nil
}

// handleGetJobStatus handles the get_job_status tool
func (s *Server) handleGetJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}

	job := s.jobManager.GetJob(jobID)
	if job == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	result := jobSummary(job)
	if report := s.jobManager.Report(jobID); report != nil {
		result["imported"] = report.Imported
		result["errors"] = report.Errors
	}
	return mcp.NewToolResultText(formatJSON(result)), nil
}

// handleListJobs handles the list_jobs tool
func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobs := s.jobManager.ListJobs()
	summaries := make([]map[string]interface{}, 0, len(jobs))
	for _, job := range jobs {
		summaries = append(summaries, jobSummary(job))
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"jobs":       summaries,
		"total_jobs": len(summaries),
	})), nil
}

// handleCancelJob handles the cancel_job tool
func (s *Server) handleCancelJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID := request.GetString("job_id", "")
	if jobID == "" {
		return mcp.NewToolResultError("job_id parameter is required"), nil
	}
	if s.jobManager.GetJob(jobID) == nil {
		return mcp.NewToolResultError(fmt.Sprintf("job '%s' not found", jobID)), nil
	}

	cancelled := s.jobManager.CancelJob(jobID)
	message := "Job cancelled"
	if !cancelled {
		message = "Job already finished"
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"job_id":    jobID,
		"cancelled": cancelled,
		"message":   message,
	})), nil
}

// handleListMedia handles the list_media tool
func (s *Server) handleListMedia(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	q := catalog.MediaQuery{
		Category: request.GetString("category", ""),
		Search:   request.GetString("search", ""),
		Status:   models.MediaStatusActive,
		Page:     request.GetInt("page", 1),
		Limit:    request.GetInt("limit", catalog.DefaultPageLimit),
	}
	if q.Category == "all" {
		q.Category = ""
	}

	page, err := s.cfg.Catalog.FindMedia(ctx, q)
	if err != nil {
		s.log.Errorf("Failed to list media: %v", err)
		return mcp.NewToolResultError(fmt.Sprintf("failed to list media: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"media":      page.Media,
		"pagination": page.Pagination,
	})), nil
}

// handleReconcileMedia handles the reconcile_media tool
func (s *Server) handleReconcileMedia(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	report, err := s.cfg.Reconciler.Run(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("reconcile failed: %v", err)), nil
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"checked_records": report.CheckedRecords,
		"removed_records": report.RemovedRecords,
		"orphan_files":    report.OrphanFiles,
		"removed_files":   report.RemovedFiles,
		"duration":        report.Duration,
	})), nil
}

// runImportJob runs an import batch in the background
func (s *Server) runImportJob(jobID string, req models.ImportRequest) {
	s.jobManager.UpdateStatus(jobID, JobStatusRunning, "")
	jobCtx := s.jobManager.GetContext(jobID)
	jobLog := s.log.WithFields(logrus.Fields{"job_id": jobID, "category": req.Category})

	report, err := s.cfg.Importer.Import(jobCtx, req)
	if err != nil {
		if jobCtx.Err() != nil {
			jobLog.Warn("Import job cancelled")
			return
		}
		jobLog.Errorf("Import job failed: %v", err)
		s.jobManager.UpdateStatus(jobID, JobStatusFailed, err.Error())
		return
	}

	s.jobManager.Finish(jobID, report)
	jobLog.Infof("Import job completed: %d imported, %d errors", report.TotalImported, report.TotalErrors)
}

func jobSummary(job *Job) map[string]interface{} {
	result := map[string]interface{}{
		"job_id":          job.ID,
		"category":        job.Category,
		"status":          job.Status,
		"started_at":      job.StartedAt.Format(time.RFC3339),
		"items_requested": job.ItemsRequested,
		"items_imported":  job.ItemsImported,
		"items_failed":    job.ItemsFailed,
	}
	if !job.CompletedAt.IsZero() {
		result["completed_at"] = job.CompletedAt.Format(time.RFC3339)
		result["duration_seconds"] = job.CompletedAt.Sub(job.StartedAt).Seconds()
	}
	if job.ErrorMessage != "" {
		result["error_message"] = job.ErrorMessage
	}
	return result
}

// formatJSON formats data as indented JSON
func formatJSON(data map[string]interface{}) string {
	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to format JSON: %v"}`, err)
	}
	return string(b)
}
