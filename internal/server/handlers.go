package server

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/pixforge/pixforge/internal/account"
	"github.com/pixforge/pixforge/internal/apierrors"
	"github.com/pixforge/pixforge/internal/generation"
	"github.com/pixforge/pixforge/internal/middleware"
	"github.com/pixforge/pixforge/internal/models"
	"github.com/pixforge/pixforge/internal/provider"
	"github.com/rs/zerolog/log"
)

// meResponse is the account view returned by /me endpoints
type meResponse struct {
	ID              uuid.UUID `json:"id"`
	Email           string    `json:"email"`
	HasOwnKey       bool      `json:"has_own_key"`
	LifetimeCount   int64     `json:"lifetime_generation_count"`
	DailyRemaining  int       `json:"daily_remaining"`
	DailyLimit      int       `json:"daily_limit"`
	CreatedAt       time.Time `json:"created_at"`
}

func (s *APIServer) meView(user *models.User) meResponse {
	return meResponse{
		ID:             user.ID,
		Email:          user.Email,
		HasOwnKey:      user.HasOwnKey,
		LifetimeCount:  user.LifetimeGenerationCount,
		DailyRemaining: s.ledger.Remaining(user, time.Now()),
		DailyLimit:     s.ledger.DailyLimit(),
		CreatedAt:      user.CreatedAt,
	}
}

// handleSync upserts the account row for the verified subject. Called by
// clients after sign-in so the core has a user to meter.
func (s *APIServer) handleSync(c *gin.Context) {
	subject := middleware.GetSubject(c)
	email := middleware.GetEmail(c)

	user, err := s.accounts.Sync(c.Request.Context(), subject, email)
	if err != nil {
		log.Error().Err(err).Str("subject", subject).Msg("Failed to sync account")
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, s.meView(user))
}

// handleGetMe returns the account with its current quota standing
func (s *APIServer) handleGetMe(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, s.meView(user))
}

type storeCredentialRequest struct {
	APIKey string `json:"api_key" binding:"required"`
}

// handleStoreCredential encrypts and stores the caller's own provider key
func (s *APIServer) handleStoreCredential(c *gin.Context) {
	var req storeCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	if strings.TrimSpace(req.APIKey) == "" {
		respondError(c, apierrors.NewValidationError("api_key must not be empty"))
		return
	}

	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	if err := s.credentials.Store(c.Request.Context(), user.ID, req.APIKey); err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to store credential")
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_own_key": true})
}

// handleClearCredential removes the caller's own key, returning them to
// the shared metered tier
func (s *APIServer) handleClearCredential(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	if err := s.credentials.Clear(c.Request.Context(), user.ID); err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to clear credential")
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{"has_own_key": false})
}

// handleDeleteAccount removes the account and all its generation records
func (s *APIServer) handleDeleteAccount(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	if err := s.accounts.Delete(c.Request.Context(), user.ID); err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to delete account")
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.Status(http.StatusNoContent)
}

type generateRequest struct {
	Prompt      string   `json:"prompt" binding:"required"`
	Temperature *float64 `json:"temperature,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
	Width       *int     `json:"width,omitempty"`
	Height      *int     `json:"height,omitempty"`
}

type editRequest struct {
	Instruction   string   `json:"instruction" binding:"required"`
	Image         string   `json:"image" binding:"required"`
	ImageMIME     string   `json:"image_mime,omitempty"`
	Mask          string   `json:"mask,omitempty"`
	MaskMIME      string   `json:"mask_mime,omitempty"`
	Reference     string   `json:"reference,omitempty"`
	ReferenceMIME string   `json:"reference_mime,omitempty"`
	Temperature   *float64 `json:"temperature,omitempty"`
	Seed          *int64   `json:"seed,omitempty"`
	Width         *int     `json:"width,omitempty"`
	Height        *int     `json:"height,omitempty"`
}

type segmentRequest struct {
	Image     string `json:"image" binding:"required"`
	ImageMIME string `json:"image_mime,omitempty"`
	Query     string `json:"query,omitempty"`
}

type imagePayload struct {
	Data     string `json:"data"`
	MIMEType string `json:"mime_type"`
}

type generationResponse struct {
	ID       uuid.UUID      `json:"id"`
	Images   []imagePayload `json:"images"`
	ImageURL *string        `json:"image_url,omitempty"`
	Source   string         `json:"source"`
}

func toGenerationResponse(result *generation.Result) generationResponse {
	images := make([]imagePayload, 0, len(result.Images))
	for _, img := range result.Images {
		images = append(images, imagePayload{
			Data:     base64.StdEncoding.EncodeToString(img.Data),
			MIMEType: img.MIMEType,
		})
	}
	return generationResponse{
		ID:       result.RecordID,
		Images:   images,
		ImageURL: result.ImageURL,
		Source:   string(result.Source),
	}
}

// handleGenerate runs a fresh text-to-image generation
func (s *APIServer) handleGenerate(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	if !validDimensions(req.Width, req.Height) {
		respondError(c, apierrors.NewValidationError("width and height must both be set and positive, or both omitted"))
		return
	}

	result, err := s.generations.Generate(c.Request.Context(), middleware.GetSubject(c), &generation.GenerateRequest{
		Prompt: req.Prompt,
		Settings: generation.Settings{
			Temperature: req.Temperature,
			Seed:        req.Seed,
			Width:       req.Width,
			Height:      req.Height,
		},
	})
	if err != nil {
		s.respondGenerationError(c, err)
		return
	}
	c.JSON(http.StatusOK, toGenerationResponse(result))
}

// handleEdit runs an image edit, optionally mask-constrained
func (s *APIServer) handleEdit(c *gin.Context) {
	var req editRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}
	if !validDimensions(req.Width, req.Height) {
		respondError(c, apierrors.NewValidationError("width and height must both be set and positive, or both omitted"))
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(image) == 0 {
		respondError(c, apierrors.NewValidationError("image must be non-empty base64"))
		return
	}
	var mask, reference []byte
	if req.Mask != "" {
		if mask, err = base64.StdEncoding.DecodeString(req.Mask); err != nil {
			respondError(c, apierrors.NewValidationError("mask must be valid base64"))
			return
		}
	}
	if req.Reference != "" {
		if reference, err = base64.StdEncoding.DecodeString(req.Reference); err != nil {
			respondError(c, apierrors.NewValidationError("reference must be valid base64"))
			return
		}
	}

	result, err := s.generations.Edit(c.Request.Context(), middleware.GetSubject(c), &generation.EditRequest{
		Instruction:   req.Instruction,
		Image:         image,
		ImageMIME:     req.ImageMIME,
		Mask:          mask,
		MaskMIME:      req.MaskMIME,
		Reference:     reference,
		ReferenceMIME: req.ReferenceMIME,
		Settings: generation.Settings{
			Temperature: req.Temperature,
			Seed:        req.Seed,
			Width:       req.Width,
			Height:      req.Height,
		},
	})
	if err != nil {
		s.respondGenerationError(c, err)
		return
	}
	c.JSON(http.StatusOK, toGenerationResponse(result))
}

// handleSegment asks the provider for segmentation masks over an image
func (s *APIServer) handleSegment(c *gin.Context) {
	var req segmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, apierrors.NewValidationError(err.Error()))
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.Image)
	if err != nil || len(image) == 0 {
		respondError(c, apierrors.NewValidationError("image must be non-empty base64"))
		return
	}

	result, err := s.generations.Segment(c.Request.Context(), middleware.GetSubject(c), &generation.SegmentRequest{
		Image:     image,
		ImageMIME: req.ImageMIME,
		Query:     req.Query,
	})
	if err != nil {
		s.respondGenerationError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":     result.RecordID,
		"masks":  result.Masks,
		"source": string(result.Source),
	})
}

// handleListRecords returns a page of the caller's generation records
func (s *APIServer) handleListRecords(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))

	records, total, err := s.generations.ListRecords(c.Request.Context(), user.ID, limit, offset)
	if err != nil {
		log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to list records")
		respondError(c, apierrors.ErrInternalServerError)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"total":   total,
		"limit":   limit,
		"offset":  offset,
	})
}

// handleGetRecord returns one record including any inline image bytes
func (s *APIServer) handleGetRecord(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.ErrRecordNotFoundError)
		return
	}

	record, err := s.generations.GetRecord(c.Request.Context(), user.ID, recordID)
	if err != nil {
		if errors.Is(err, generation.ErrRecordNotFound) {
			respondError(c, apierrors.ErrRecordNotFoundError)
		} else {
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to get record")
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.JSON(http.StatusOK, record)
}

// handleDeleteRecord removes a record and its stored object
func (s *APIServer) handleDeleteRecord(c *gin.Context) {
	user, ok := s.currentUser(c)
	if !ok {
		return
	}
	recordID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		respondError(c, apierrors.ErrRecordNotFoundError)
		return
	}

	if err := s.generations.DeleteRecord(c.Request.Context(), user.ID, recordID); err != nil {
		if errors.Is(err, generation.ErrRecordNotFound) {
			respondError(c, apierrors.ErrRecordNotFoundError)
		} else {
			log.Error().Err(err).Str("user_id", user.ID.String()).Msg("Failed to delete record")
			respondError(c, apierrors.ErrInternalServerError)
		}
		return
	}
	c.Status(http.StatusNoContent)
}

// currentUser loads the account for the verified subject, responding with
// the appropriate error when it cannot
func (s *APIServer) currentUser(c *gin.Context) (*models.User, bool) {
	subject := middleware.GetSubject(c)
	user, err := s.accounts.GetBySubject(c.Request.Context(), subject)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			respondError(c, apierrors.ErrUserNotFoundError)
		} else {
			log.Error().Err(err).Str("subject", subject).Msg("Failed to load account")
			respondError(c, apierrors.ErrInternalServerError)
		}
		return nil, false
	}
	return user, true
}

// respondGenerationError maps orchestrator errors to API errors
func (s *APIServer) respondGenerationError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, generation.ErrUserNotFound):
		respondError(c, apierrors.ErrUserNotFoundError)
	case errors.Is(err, generation.ErrQuotaExceeded):
		respondError(c, apierrors.ErrQuotaExceededError)
	case errors.Is(err, generation.ErrInvalidCredential):
		respondError(c, apierrors.ErrInvalidCredentialError)
	case errors.Is(err, generation.ErrNoOutput):
		respondError(c, apierrors.ErrNoOutputError)
	case errors.Is(err, provider.ErrTimeout), errors.Is(err, provider.ErrUpstream):
		respondError(c, apierrors.ErrProviderError)
	default:
		log.Error().Err(err).Str("request_id", middleware.GetRequestID(c)).Msg("Generation failed")
		respondError(c, apierrors.ErrInternalServerError)
	}
}

// validDimensions accepts either both dimensions positive or both omitted
func validDimensions(w, h *int) bool {
	if w == nil && h == nil {
		return true
	}
	return w != nil && h != nil && *w > 0 && *h > 0
}
