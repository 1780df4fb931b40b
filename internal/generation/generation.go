package generation

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pixforge/pixforge/internal/account"
	"github.com/pixforge/pixforge/internal/credential"
	"github.com/pixforge/pixforge/internal/imaging"
	"github.com/pixforge/pixforge/internal/logging"
	"github.com/pixforge/pixforge/internal/models"
	"github.com/pixforge/pixforge/internal/monitoring"
	"github.com/pixforge/pixforge/internal/prompt"
	"github.com/pixforge/pixforge/internal/provider"
	"github.com/pixforge/pixforge/internal/quota"
	"github.com/rs/zerolog/log"
)

// Service errors
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrQuotaExceeded     = errors.New("daily generation quota exceeded")
	ErrInvalidCredential = errors.New("own credential rejected")
	ErrNoOutput          = errors.New("provider returned no usable output")
)

// ImageProvider is the generative provider contract the orchestrator
// depends on; satisfied by provider.Client
type ImageProvider interface {
	GenerateContent(ctx context.Context, apiKey string, parts []provider.Part) (*provider.Response, error)
	Model() string
}

// ImageStore is the durable storage contract; satisfied by storage.Uploader.
// A nil store means durable storage is not configured and every record is
// stored inline.
type ImageStore interface {
	Upload(ctx context.Context, data []byte, contentType, folder string) (url, key string, err error)
	Delete(ctx context.Context, key string) error
}

// Settings are the structured generation knobs accepted from the caller
type Settings struct {
	Temperature *float64 `json:"temperature,omitempty"`
	Seed        *int64   `json:"seed,omitempty"`
	Width       *int     `json:"width,omitempty"`
	Height      *int     `json:"height,omitempty"`
}

// GenerateRequest is a fresh text-to-image request
type GenerateRequest struct {
	Prompt   string
	Settings Settings
}

// EditRequest modifies an existing image, optionally constrained by a mask
// and guided by a reference image
type EditRequest struct {
	Instruction   string
	Image         []byte
	ImageMIME     string
	Mask          []byte
	MaskMIME      string
	Reference     []byte
	ReferenceMIME string
	Settings      Settings
}

// SegmentRequest asks the provider to segment an image
type SegmentRequest struct {
	Image     []byte
	ImageMIME string
	Query     string
}

// Output is one post-processed result image
type Output struct {
	Data     []byte
	MIMEType string
}

// Result is a completed generation round trip
type Result struct {
	RecordID uuid.UUID
	Images   []Output
	ImageURL *string
	Source   credential.Source
}

// SegmentResult is a completed segmentation round trip
type SegmentResult struct {
	RecordID uuid.UUID
	Masks    []provider.SegmentMask
	Source   credential.Source
}

// Service orchestrates a generation round trip: quota check, credential
// resolution, prompt composition, provider call, post-processing, record
// persistence and ledger update.
type Service struct {
	db       *pgxpool.Pool
	accounts *account.Service
	creds    *credential.Service
	ledger   *quota.Ledger
	composer *prompt.Composer
	provider ImageProvider
	store    ImageStore
}

// NewService creates a generation orchestrator. store may be nil when
// durable storage is disabled.
func NewService(
	db *pgxpool.Pool,
	accounts *account.Service,
	creds *credential.Service,
	ledger *quota.Ledger,
	composer *prompt.Composer,
	imageProvider ImageProvider,
	store ImageStore,
) *Service {
	return &Service{
		db:       db,
		accounts: accounts,
		creds:    creds,
		ledger:   ledger,
		composer: composer,
		provider: imageProvider,
		store:    store,
	}
}

// Generate runs a fresh text-to-image request for the given subject
func (s *Service) Generate(ctx context.Context, subject string, req *GenerateRequest) (*Result, error) {
	start := time.Now()
	user, resolved, err := s.admit(ctx, subject)
	if err != nil {
		return nil, err
	}

	text := s.composer.BuildGenerate(req.Prompt, promptSettings(req.Settings))
	parts := []provider.Part{provider.TextPart(text)}

	resp, err := s.callProvider(ctx, user, resolved, parts)
	if err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		monitoring.RecordGeneration(string(resolved.Source), "no_output")
		return nil, ErrNoOutput
	}

	outputs := s.normalize(resp.Images, req.Settings)
	record, err := s.persistRecord(ctx, user, req.Prompt, false, req.Settings, outputs[0])
	if err != nil {
		return nil, err
	}

	if err := s.settle(ctx, user, resolved.Source); err != nil {
		return nil, err
	}

	monitoring.RecordGeneration(string(resolved.Source), "completed")
	logging.LogGeneration(&logging.GenerationLogEntry{
		UserID:     user.ID.String(),
		RecordID:   record.ID.String(),
		Source:     string(resolved.Source),
		ImageCount: len(outputs),
		Latency:    time.Since(start),
		Status:     "completed",
	})
	return &Result{
		RecordID: record.ID,
		Images:   outputs,
		ImageURL: record.ImageURL,
		Source:   resolved.Source,
	}, nil
}

// Edit runs an image edit request. With a mask present the composed
// instruction restricts changes to masked pixels.
func (s *Service) Edit(ctx context.Context, subject string, req *EditRequest) (*Result, error) {
	start := time.Now()
	user, resolved, err := s.admit(ctx, subject)
	if err != nil {
		return nil, err
	}

	hasMask := len(req.Mask) > 0
	text := s.composer.BuildEdit(req.Instruction, hasMask, promptSettings(req.Settings))

	parts := []provider.Part{
		provider.TextPart(text),
		provider.ImagePart(req.Image, orPNG(req.ImageMIME)),
	}
	if hasMask {
		parts = append(parts, provider.ImagePart(req.Mask, orPNG(req.MaskMIME)))
	}
	if len(req.Reference) > 0 {
		parts = append(parts, provider.ImagePart(req.Reference, orPNG(req.ReferenceMIME)))
	}

	resp, err := s.callProvider(ctx, user, resolved, parts)
	if err != nil {
		return nil, err
	}
	if len(resp.Images) == 0 {
		monitoring.RecordGeneration(string(resolved.Source), "no_output")
		return nil, ErrNoOutput
	}

	outputs := s.normalize(resp.Images, req.Settings)
	record, err := s.persistRecord(ctx, user, req.Instruction, true, req.Settings, outputs[0])
	if err != nil {
		return nil, err
	}

	if err := s.settle(ctx, user, resolved.Source); err != nil {
		return nil, err
	}

	monitoring.RecordGeneration(string(resolved.Source), "completed")
	logging.LogGeneration(&logging.GenerationLogEntry{
		UserID:     user.ID.String(),
		RecordID:   record.ID.String(),
		Source:     string(resolved.Source),
		IsEdit:     true,
		ImageCount: len(outputs),
		Latency:    time.Since(start),
		Status:     "completed",
	})
	return &Result{
		RecordID: record.ID,
		Images:   outputs,
		ImageURL: record.ImageURL,
		Source:   resolved.Source,
	}, nil
}

// Segment asks the provider for segmentation masks over an image. The
// first returned mask serves as the record's image artifact.
func (s *Service) Segment(ctx context.Context, subject string, req *SegmentRequest) (*SegmentResult, error) {
	user, resolved, err := s.admit(ctx, subject)
	if err != nil {
		return nil, err
	}

	text := s.composer.BuildSegment(req.Query)
	parts := []provider.Part{
		provider.TextPart(text),
		provider.ImagePart(req.Image, orPNG(req.ImageMIME)),
	}

	resp, err := s.callProvider(ctx, user, resolved, parts)
	if err != nil {
		return nil, err
	}
	if resp.Text == "" {
		monitoring.RecordGeneration(string(resolved.Source), "no_output")
		return nil, ErrNoOutput
	}

	masks, err := provider.ParseSegmentMasks(resp.Text)
	if err != nil || len(masks) == 0 {
		// The call succeeded but produced nothing usable
		log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("Unusable segmentation response")
		monitoring.RecordGeneration(string(resolved.Source), "no_output")
		return nil, ErrNoOutput
	}

	maskBytes, err := base64.StdEncoding.DecodeString(masks[0].Mask)
	if err != nil {
		maskBytes = []byte(masks[0].Mask)
	}
	record, err := s.persistRecord(ctx, user, text, false, Settings{}, Output{Data: maskBytes, MIMEType: "image/png"})
	if err != nil {
		return nil, err
	}

	if err := s.settle(ctx, user, resolved.Source); err != nil {
		return nil, err
	}

	monitoring.RecordGeneration(string(resolved.Source), "completed")
	return &SegmentResult{
		RecordID: record.ID,
		Masks:    masks,
		Source:   resolved.Source,
	}, nil
}

// admit performs the fail-fast admission steps shared by all operations:
// load the user, check the ledger, resolve the backing credential. No
// provider call happens when any step rejects.
func (s *Service) admit(ctx context.Context, subject string) (*models.User, *credential.Resolved, error) {
	user, err := s.accounts.GetBySubject(ctx, subject)
	if err != nil {
		if errors.Is(err, account.ErrUserNotFound) {
			return nil, nil, ErrUserNotFound
		}
		return nil, nil, err
	}

	if !s.ledger.CheckAllowed(user, time.Now()) {
		monitoring.Get().QuotaBlocked.Inc()
		return nil, nil, ErrQuotaExceeded
	}

	resolved, err := s.creds.Resolve(ctx, user)
	if err != nil {
		if errors.Is(err, credential.ErrDecryptionFailed) {
			return nil, nil, ErrInvalidCredential
		}
		return nil, nil, err
	}

	return user, resolved, nil
}

// callProvider invokes the provider with metrics and the key-demotion
// failure policy: an invalid-key rejection of an own credential clears it
// and fails the request instead of silently retrying on the shared key.
func (s *Service) callProvider(ctx context.Context, user *models.User, resolved *credential.Resolved, parts []provider.Part) (*provider.Response, error) {
	start := time.Now()
	resp, err := s.provider.GenerateContent(ctx, resolved.Key, parts)
	monitoring.RecordProviderLatency(s.provider.Model(), time.Since(start))

	if err != nil {
		monitoring.RecordProviderRequest(s.provider.Model(), "error")
		if provider.IsInvalidKey(err) && resolved.Source == credential.SourceOwn {
			monitoring.Get().CredentialsDemoted.Inc()
			if demoteErr := s.creds.Demote(ctx, user.ID); demoteErr != nil {
				log.Error().Err(demoteErr).Str("user_id", user.ID.String()).Msg("Failed to demote credential")
			}
			monitoring.RecordGeneration(string(resolved.Source), "invalid_credential")
			return nil, ErrInvalidCredential
		}
		monitoring.RecordGeneration(string(resolved.Source), "provider_error")
		return nil, err
	}

	monitoring.RecordProviderRequest(s.provider.Model(), "success")
	return resp, nil
}

// normalize post-processes every returned image, best-effort. A normalize
// failure leaves the original bytes in place and never fails the request.
func (s *Service) normalize(images []provider.Image, settings Settings) []Output {
	targetW, targetH := 0, 0
	if settings.Width != nil && settings.Height != nil {
		targetW, targetH = *settings.Width, *settings.Height
	}

	outputs := make([]Output, 0, len(images))
	for _, img := range images {
		processed := imaging.Normalize(img.Data, targetW, targetH, imaging.DefaultThreshold)
		mime := img.MIMEType
		if !bytes.Equal(processed, img.Data) {
			mime = "image/png"
		}
		outputs = append(outputs, Output{Data: processed, MIMEType: mime})
	}
	return outputs
}

// persistRecord stores the generation record. When durable storage is
// configured the image is uploaded and referenced by URL; any upload
// failure degrades to inline base64 bytes, never to request failure.
func (s *Service) persistRecord(ctx context.Context, user *models.User, promptText string, isEdit bool, settings Settings, img Output) (*models.Generation, error) {
	var imageURL, storageKey, imageData *string

	if s.store != nil {
		url, key, err := s.store.Upload(ctx, img.Data, img.MIMEType, "generations")
		if err == nil {
			imageURL, storageKey = &url, &key
			monitoring.RecordStorageUpload("success")
		} else {
			log.Warn().Err(err).Str("user_id", user.ID.String()).Msg("Durable upload failed, storing image inline")
			monitoring.RecordStorageUpload("error")
			monitoring.Get().StorageFallbacks.Inc()
		}
	}
	if imageURL == nil {
		encoded := base64.StdEncoding.EncodeToString(img.Data)
		imageData = &encoded
	}

	var record models.Generation
	err := s.db.QueryRow(ctx, `
		INSERT INTO generations (
			user_id, prompt, is_edit, temperature, seed, width, height,
			image_url, storage_key, image_data, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'completed')
		RETURNING id, user_id, prompt, is_edit, temperature, seed, width, height,
			image_url, storage_key, image_data, status, created_at
	`, user.ID, promptText, isEdit, settings.Temperature, settings.Seed, settings.Width, settings.Height,
		imageURL, storageKey, imageData).Scan(
		&record.ID, &record.UserID, &record.Prompt, &record.IsEdit,
		&record.Temperature, &record.Seed, &record.Width, &record.Height,
		&record.ImageURL, &record.StorageKey, &record.ImageData, &record.Status, &record.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to persist generation record: %w", err)
	}
	return &record, nil
}

// settle updates the ledger after a successful round trip: shared-tier
// generations advance the daily counter, own-credential ones only the
// lifetime counter
func (s *Service) settle(ctx context.Context, user *models.User, source credential.Source) error {
	if source == credential.SourceShared {
		return s.ledger.Increment(ctx, user.ID, time.Now())
	}
	return s.ledger.IncrementLifetime(ctx, user.ID)
}

func promptSettings(s Settings) prompt.Settings {
	return prompt.Settings{
		Temperature: s.Temperature,
		Seed:        s.Seed,
		Width:       s.Width,
		Height:      s.Height,
	}
}

func orPNG(mime string) string {
	if mime == "" {
		return "image/png"
	}
	return mime
}
