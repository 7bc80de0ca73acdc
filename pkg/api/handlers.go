package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ngo-platform/media-scraper/pkg/catalog"
	"github.com/ngo-platform/media-scraper/pkg/fetch"
	"github.com/ngo-platform/media-scraper/pkg/models"
	"github.com/ngo-platform/media-scraper/pkg/pipeline"
	"github.com/ngo-platform/media-scraper/pkg/settings"
	"github.com/ngo-platform/media-scraper/pkg/utils"
)

type scrapeRequest struct {
	URL     string          `json:"url"`
	Filters json.RawMessage `json:"filters"`
}

func (s *Server) handleScrape(c *fiber.Ctx) error {
	var req scrapeRequest
	if err := c.BodyParser(&req); err != nil {
		return &APIError{Status: fiber.StatusBadRequest, Message: "Invalid request body", Err: err}
	}
	req.URL = strings.TrimSpace(req.URL)
	if req.URL == "" {
		return badRequest("URL is required")
	}
	if _, err := fetch.ParsePageURL(req.URL); err != nil {
		return &APIError{Status: fiber.StatusBadRequest, Message: "Invalid URL format", Err: err}
	}
	filters, err := s.deps.DefaultFilters.WithOverrides(req.Filters)
	if err != nil {
		return &APIError{Status: fiber.StatusBadRequest, Message: "Invalid filters", Err: err}
	}

	result, err := s.deps.Scraper.Scrape(c.UserContext(), req.URL, filters)
	if err != nil {
		var fe *fetch.FetchError
		if errors.As(err, &fe) {
			status := fiber.StatusInternalServerError
			if fe.Kind == fetch.KindInvalidURL {
				status = fiber.StatusBadRequest
			}
			return &APIError{Status: status, Message: fe.Message(), Err: err}
		}
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to scrape website", Err: err}
	}
	return c.JSON(result)
}

func (s *Server) handleImport(c *fiber.Ctx) error {
	var req models.ImportRequest
	if err := c.BodyParser(&req); err != nil {
		return &APIError{Status: fiber.StatusBadRequest, Message: "Invalid request body", Err: err}
	}
	if len(req.Media) == 0 {
		return badRequest("No media items provided")
	}
	report, err := s.deps.Importer.Import(c.UserContext(), req)
	if err != nil {
		return &APIError{Status: statusFor(err), Message: "Failed to import media", Err: err}
	}
	return c.JSON(report)
}

func (s *Server) handleBulkImport(c *fiber.Ctx) error {
	var req models.BulkImportRequest
	if err := c.BodyParser(&req); err != nil {
		return &APIError{Status: fiber.StatusBadRequest, Message: "Invalid request body", Err: err}
	}
	if len(req.Images) == 0 {
		return badRequest("Images array is required")
	}
	report, err := s.deps.Importer.BulkImport(c.UserContext(), req)
	if err != nil {
		return &APIError{Status: statusFor(err), Message: "Failed to import images", Err: err}
	}
	return c.JSON(fiber.Map{
		"success":  report.Success,
		"imported": report.TotalImported,
		"total":    report.TotalRequested,
		"images":   report.Imported,
		"errors":   report.Errors,
		"message":  fmt.Sprintf("Successfully imported %d out of %d images", report.TotalImported, report.TotalRequested),
	})
}

func (s *Server) handleListMedia(c *fiber.Ctx) error {
	q := catalog.MediaQuery{
		Category: c.Query("category"),
		Search:   c.Query("search"),
		Status:   models.MediaStatus(c.Query("status")),
		Page:     c.QueryInt("page", 1),
		Limit:    c.QueryInt("limit", catalog.DefaultPageLimit),
	}
	if q.Category == "all" {
		q.Category = ""
	}
	if q.Status != models.MediaStatusUnset && !q.Status.IsValid() {
		return badRequest("Invalid status filter")
	}

	page, err := s.deps.Catalog.FindMedia(c.UserContext(), q)
	if err != nil {
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to fetch media", Err: err}
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"media":      page.Media,
		"pagination": page.Pagination,
	})
}

func (s *Server) handleGetMedia(c *fiber.Ctx) error {
	rec, err := s.deps.Catalog.GetMedia(c.UserContext(), c.Params("id"))
	if err != nil {
		return mediaLookupErr(err)
	}
	return c.JSON(fiber.Map{"success": true, "media": rec})
}

func (s *Server) handleUpdateMedia(c *fiber.Ctx) error {
	var upd models.MediaUpdate
	if err := c.BodyParser(&upd); err != nil {
		return &APIError{Status: fiber.StatusBadRequest, Message: "Invalid request body", Err: err}
	}
	ctx := c.UserContext()
	if upd.Category != nil {
		name := strings.TrimSpace(*upd.Category)
		if name == "" {
			return badRequest("Category cannot be empty")
		}
		cat, _, err := catalog.EnsureCategory(ctx, s.deps.Catalog, name, s.deps.CategoryDefaults)
		if err != nil {
			return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to update media", Err: err}
		}
		// the stored spelling wins so category filters match every record
		upd.Category = &cat.Name
	}

	rec, err := s.deps.Catalog.UpdateMedia(ctx, c.Params("id"), upd)
	if err != nil {
		if errors.Is(err, utils.ErrNotFound) {
			return mediaLookupErr(err)
		}
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to update media", Err: err}
	}
	return c.JSON(fiber.Map{"success": true, "message": "Media updated successfully", "media": rec})
}

// handleDeleteMedia removes the blob before the row so a failure never leaves a row without a file
func (s *Server) handleDeleteMedia(c *fiber.Ctx) error {
	ctx := c.UserContext()
	rec, err := s.deps.Catalog.GetMedia(ctx, c.Params("id"))
	if err != nil {
		return mediaLookupErr(err)
	}
	if err := s.deps.Blobs.Remove(ctx, rec.StoragePath); err != nil {
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to delete media", Err: err}
	}
	if err := s.deps.Catalog.DeleteMedia(ctx, rec.ID); err != nil && !errors.Is(err, utils.ErrNotFound) {
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to delete media", Err: err}
	}
	s.log.WithField("filename", rec.Filename).Info("Deleted media")
	return c.JSON(fiber.Map{"success": true, "message": "Media deleted successfully"})
}

func (s *Server) handleListCategories(c *fiber.Ctx) error {
	cats, err := s.deps.Catalog.ListCategories(c.UserContext())
	if err != nil {
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to fetch categories", Err: err}
	}
	return c.JSON(fiber.Map{"success": true, "categories": cats})
}

func (s *Server) handleCleanup(c *fiber.Ctx) error {
	report, err := s.deps.Reconciler.Run(c.UserContext())
	if err != nil {
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to cleanup media entries", Err: err}
	}
	removed := len(report.RemovedRecords)
	return c.JSON(fiber.Map{
		"success":      true,
		"removed":      removed,
		"orphanFiles":  report.OrphanFiles,
		"removedFiles": report.RemovedFiles,
		"message":      fmt.Sprintf("Cleaned up %d orphaned media entries", removed),
	})
}

func (s *Server) handleGetPaymentSettings(c *fiber.Ctx) error {
	ps, err := s.deps.Settings.Get(c.UserContext())
	if err != nil {
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to load payment settings", Err: err}
	}
	return c.JSON(fiber.Map{"success": true, "data": ps.Methods, "version": ps.Version})
}

type replacePaymentSettingsRequest struct {
	PaymentMethods []models.PaymentMethod `json:"paymentMethods"`
}

func (s *Server) handleReplacePaymentSettings(c *fiber.Ctx) error {
	var req replacePaymentSettingsRequest
	if err := c.BodyParser(&req); err != nil || req.PaymentMethods == nil {
		return &APIError{Status: fiber.StatusBadRequest, Message: "Invalid payment methods data", Err: err}
	}
	ps, err := s.deps.Settings.Replace(c.UserContext(), req.PaymentMethods)
	if err != nil {
		return &APIError{Status: statusFor(err), Message: "Failed to save payment settings", Err: err}
	}
	return c.JSON(fiber.Map{"success": true, "message": "Payment settings saved successfully", "data": ps.Methods, "version": ps.Version})
}

func (s *Server) handlePatchPaymentSettings(c *fiber.Ctx) error {
	var p settings.Patch
	if err := c.BodyParser(&p); err != nil {
		return &APIError{Status: fiber.StatusBadRequest, Message: "Invalid request body", Err: err}
	}
	if p.MethodID == "" || p.Field == "" {
		return badRequest("Method ID and field are required")
	}
	ps, err := s.deps.Settings.Apply(c.UserContext(), p)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		return &APIError{Status: fiber.StatusNotFound, Message: "Payment method not found", Err: err}
	case errors.Is(err, settings.ErrInvalidPatch):
		return &APIError{Status: fiber.StatusBadRequest, Message: "Invalid payment method update", Err: err}
	case err != nil:
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to update payment method", Err: err}
	}
	return c.JSON(fiber.Map{"success": true, "message": "Payment method updated successfully", "data": ps.Methods, "version": ps.Version})
}

func (s *Server) handleActivePaymentMethods(c *fiber.Ctx) error {
	methods, err := s.deps.Settings.Published(c.UserContext())
	if err != nil {
		return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to load payment methods", Err: err}
	}
	return c.JSON(fiber.Map{"success": true, "data": methods})
}

func mediaLookupErr(err error) error {
	if errors.Is(err, utils.ErrNotFound) {
		return &APIError{Status: fiber.StatusNotFound, Message: "Media not found", Err: err}
	}
	return &APIError{Status: fiber.StatusInternalServerError, Message: "Failed to fetch media", Err: err}
}
