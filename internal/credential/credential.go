package credential

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pixforge/pixforge/internal/config"
	"github.com/pixforge/pixforge/internal/models"
	"github.com/rs/zerolog/log"
)

// Service errors
var (
	ErrEncryptionFailed = errors.New("encryption failed")
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrEmptyKey         = errors.New("credential must not be empty")
	ErrNoSharedKey      = errors.New("no shared provider key configured")
)

// Source identifies which credential backs a request
type Source string

const (
	// SourceOwn is a user-supplied key: unmetered, not quota-checked
	SourceOwn Source = "own"
	// SourceShared is the service-wide default key: quota-checked
	SourceShared Source = "shared"
)

// Resolved is the outcome of credential resolution for one request
type Resolved struct {
	Key    string
	Source Source
}

// Service stores, clears and resolves per-user provider credentials.
// Encryption happens here, never in model hooks: the stored row is a plain
// value and every write goes through Store/Clear.
type Service struct {
	db            *pgxpool.Pool
	encryptionKey []byte
	sharedKey     string
}

// NewService creates a credential service. The encryption key is accepted
// as hex or raw bytes and normalized to 32 bytes for AES-256.
func NewService(db *pgxpool.Pool, encCfg *config.EncryptionConfig, providerCfg *config.ProviderConfig) *Service {
	key, err := hex.DecodeString(encCfg.Key)
	if err != nil {
		// Not hex, use raw bytes (development)
		key = []byte(encCfg.Key)
	}
	if len(key) < 32 {
		padded := make([]byte, 32)
		copy(padded, key)
		key = padded
	} else if len(key) > 32 {
		key = key[:32]
	}

	return &Service{
		db:            db,
		encryptionKey: key,
		sharedKey:     providerCfg.DefaultKey,
	}
}

// Encrypt encrypts data using AES-256-GCM
func (s *Service) Encrypt(plaintext []byte) (ciphertext, nonce []byte, err error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrEncryptionFailed, err)
	}

	ciphertext = gcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt decrypts data using AES-256-GCM
func (s *Service) Decrypt(ciphertext, nonce []byte) ([]byte, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}

	return plaintext, nil
}

// Store encrypts and persists a user's own provider key, keeping the
// has_own_key flag consistent with ciphertext presence
func (s *Service) Store(ctx context.Context, userID uuid.UUID, rawKey string) error {
	rawKey = strings.TrimSpace(rawKey)
	if rawKey == "" {
		return ErrEmptyKey
	}

	ciphertext, nonce, err := s.Encrypt([]byte(rawKey))
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		UPDATE users
		SET own_key_ciphertext = $1, own_key_nonce = $2, has_own_key = TRUE, updated_at = NOW()
		WHERE id = $3
	`, ciphertext, nonce, userID)
	if err != nil {
		return fmt.Errorf("failed to store credential: %w", err)
	}
	return nil
}

// Clear removes a user's own provider key and resets the derived flag.
// The stored daily count is deliberately left untouched: it re-activates
// under the normal day-boundary rule once the user is back on the shared
// tier.
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) error {
	_, err := s.db.Exec(ctx, `
		UPDATE users
		SET own_key_ciphertext = NULL, own_key_nonce = NULL, has_own_key = FALSE, updated_at = NOW()
		WHERE id = $1
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to clear credential: %w", err)
	}
	return nil
}

// Resolve decides which API key backs a request for the given user. A
// stored own key that fails to decrypt is treated like a provider-rejected
// key: cleared immediately, with ErrDecryptionFailed for the caller to
// surface. There is no silent fallback to the shared key in that case.
func (s *Service) Resolve(ctx context.Context, user *models.User) (*Resolved, error) {
	if len(user.OwnKeyCiphertext) == 0 {
		if s.sharedKey == "" {
			return nil, ErrNoSharedKey
		}
		return &Resolved{Key: s.sharedKey, Source: SourceShared}, nil
	}

	plaintext, err := s.Decrypt(user.OwnKeyCiphertext, user.OwnKeyNonce)
	if err != nil || len(plaintext) == 0 {
		log.Warn().
			Str("user_id", user.ID.String()).
			Msg("Stored credential undecryptable, clearing")
		if clearErr := s.Clear(ctx, user.ID); clearErr != nil {
			log.Error().Err(clearErr).Str("user_id", user.ID.String()).Msg("Failed to clear undecryptable credential")
		}
		if err == nil {
			err = ErrDecryptionFailed
		}
		return nil, err
	}

	return &Resolved{Key: string(plaintext), Source: SourceOwn}, nil
}

// Demote clears a user's own key after the provider rejected it
func (s *Service) Demote(ctx context.Context, userID uuid.UUID) error {
	log.Warn().Str("user_id", userID.String()).Msg("Provider rejected own credential, demoting user to shared tier")
	return s.Clear(ctx, userID)
}
