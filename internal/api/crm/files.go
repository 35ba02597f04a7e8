package crm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/api/params"
	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/audit"
	"github.com/crm-platform/crm/internal/config"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/storage"
	"github.com/crm-platform/crm/internal/telemetry"
	"github.com/crm-platform/crm/internal/validation"
)

// multipartOverhead is the allowance for form fields and part headers on top
// of the file size limit.
const multipartOverhead = 1 << 20

const defaultURLTTL = 15 * time.Minute

// FileHandlers handles attachment upload, download and removal
type FileHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
	storage  storage.Storage
	backend  string
	maxSize  int64
	allowed  []string
	urlTTL   time.Duration
}

// NewFileHandlers creates a new FileHandlers instance
func NewFileHandlers(cfg *config.Config, store *repositories.TenantStore, recorder *audit.Recorder, st storage.Storage) *FileHandlers {
	ttl := cfg.Storage.URLTTL
	if ttl <= 0 {
		ttl = defaultURLTTL
	}
	return &FileHandlers{
		store:    store,
		recorder: recorder,
		storage:  st,
		backend:  cfg.Storage.DefaultBackend,
		maxSize:  cfg.Files.MaxSizeBytes,
		allowed:  cfg.Files.AllowedMIMETypes,
		urlTTL:   ttl,
	}
}

// ListFilesHandler lists attachments, newest first
// GET /api/v1/files?dealId=&contactId=
func (h *FileHandlers) ListFilesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		var filter repositories.FileFilter
		var err error
		if filter.DealID, err = params.FilterID(c, "dealId"); err != nil {
			apierror.Respond(c, err)
			return
		}
		if filter.ContactID, err = params.FilterID(c, "contactId"); err != nil {
			apierror.Respond(c, err)
			return
		}

		files, err := h.store.Scope(p.Membership).Files().List(c.Request.Context(), filter)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, files)
	}
}

// @Summary      Upload attachment
// @Tags         Files
// @Accept       multipart/form-data
// @Produce      json
// @Param        file       formData  file    true   "PNG, JPEG or PDF"
// @Param        dealId     formData  string  false  "Deal to attach to"
// @Param        contactId  formData  string  false  "Contact to attach to"
// @Success      201  {object}  models.File
// @Failure      400  {object}  map[string]interface{}  "File required / Invalid file"
// @Router       /api/v1/files [post]
// UploadFileHandler stores an attachment and records its metadata
// POST /api/v1/files
func (h *FileHandlers) UploadFileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+multipartOverhead)
		header, err := c.FormFile("file")
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				h.reject(c, "Invalid file")
				return
			}
			h.reject(c, "File required")
			return
		}

		dealID, contactID := formID(c, "dealId"), formID(c, "contactId")
		for _, ref := range []reference{{field: "dealId", id: dealID}, {field: "contactId", id: contactID}} {
			if ref.id == nil {
				continue
			}
			if err := validation.Var(ref.field, *ref.id, "uuid"); err != nil {
				apierror.Respond(c, err)
				return
			}
		}

		declared := mediaType(header.Header.Get("Content-Type"))
		if header.Size > h.maxSize || !slices.Contains(h.allowed, declared) {
			h.reject(c, "Invalid file")
			return
		}

		src, err := header.Open()
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		defer src.Close()

		// The declared type must match the content.
		head := make([]byte, 512)
		n, err := io.ReadFull(src, head)
		if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
			apierror.Respond(c, err)
			return
		}
		head = head[:n]
		if mediaType(http.DetectContentType(head)) != declared {
			h.reject(c, "Invalid file")
			return
		}

		scope := h.store.Scope(p.Membership)
		fileID := scope.Files().NewID()
		key := storage.ObjectKey(scope.OrganizationID(), fileID, header.Filename)

		obj, err := h.storage.Put(ctx, key, io.MultiReader(bytes.NewReader(head), src), declared)
		if err != nil {
			telemetry.FileUploadsTotal.WithLabelValues(h.backend, "error").Inc()
			apierror.Respond(c, err)
			return
		}

		file := &models.File{
			ID:             fileID,
			OwnerID:        p.UserID(),
			DealID:         dealID,
			ContactID:      contactID,
			Filename:       storage.SanitizeFilename(header.Filename),
			Bucket:         h.storage.Bucket(),
			StorageKey:     obj.Key,
			MIME:           declared,
			Size:           obj.Size,
			ChecksumSHA256: obj.Checksum,
		}
		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			err := checkReferences(ctx,
				reference{"dealId", file.DealID, s.Deals().Exists},
				reference{"contactId", file.ContactID, s.Contacts().Exists},
			)
			if err != nil {
				return err
			}
			if err := s.Files().Create(ctx, file); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityFile, file.ID, nil, file)
		})
		if err != nil {
			telemetry.FileUploadsTotal.WithLabelValues(h.backend, "error").Inc()
			h.removeObject(context.WithoutCancel(ctx), obj.Key)
			apierror.Respond(c, err)
			return
		}

		telemetry.FileUploadsTotal.WithLabelValues(h.backend, "stored").Inc()
		telemetry.FileUploadBytes.Observe(float64(obj.Size))
		c.JSON(http.StatusCreated, file)
	}
}

// DownloadFileHandler redirects to a signed URL, or streams the object when
// the backend cannot sign one.
// GET /api/v1/files/:id
func (h *FileHandlers) DownloadFileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		file, err := h.store.Scope(p.Membership).Files().Get(ctx, id)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if file == nil {
			apierror.Respond(c, apierror.ErrNotFound)
			return
		}

		url, err := h.storage.URL(ctx, file.StorageKey, file.Filename, h.urlTTL)
		if err != nil {
			slog.Warn("failed to sign download url, streaming instead",
				"file_id", file.ID,
				"error", err,
			)
			url = ""
		}
		if url != "" {
			c.Redirect(http.StatusFound, url)
			return
		}

		rc, err := h.storage.Open(ctx, file.StorageKey)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				slog.Error("file metadata without stored object", "file_id", file.ID, "key", file.StorageKey)
				apierror.Respond(c, apierror.ErrNotFound)
				return
			}
			apierror.Respond(c, err)
			return
		}
		defer rc.Close()

		c.DataFromReader(http.StatusOK, file.Size, file.MIME, rc, map[string]string{
			"Content-Disposition": mime.FormatMediaType("attachment", map[string]string{"filename": file.Filename}),
		})
	}
}

// DeleteFileHandler removes the metadata and then the stored object
// DELETE /api/v1/files/:id
func (h *FileHandlers) DeleteFileHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Files().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if _, err := s.Files().Delete(ctx, id); err != nil {
				return err
			}
			s.AfterCommit(func() {
				h.removeObject(context.WithoutCancel(ctx), existing.StorageKey)
			})
			return record(ctx, h.recorder, s, p, models.AuditDelete, models.EntityFile, id, existing, nil)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func (h *FileHandlers) reject(c *gin.Context, message string) {
	telemetry.FileUploadsTotal.WithLabelValues(h.backend, "rejected").Inc()
	apierror.Respond(c, apierror.BadRequest(message))
}

// removeObject deletes a stored object whose metadata is gone. A failure
// leaves an orphan object, which is logged but not surfaced to the caller.
func (h *FileHandlers) removeObject(ctx context.Context, key string) {
	if err := h.storage.Delete(ctx, key); err != nil {
		slog.Warn("failed to delete stored object", "key", key, "error", err)
	}
}

func formID(c *gin.Context, field string) *string {
	v := strings.TrimSpace(c.PostForm(field))
	if v == "" {
		return nil
	}
	return &v
}

func mediaType(contentType string) string {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return ""
	}
	return strings.ToLower(mt)
}
