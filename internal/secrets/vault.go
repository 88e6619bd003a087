// Package secrets provides an encrypted per-user credentials vault.
//
// Values are sealed with NaCl secretbox (XSalsa20-Poly1305) and stored
// in SQLite. Every read, found or not, is logged to an audit table.
// The vault holds per-user provider credentials such as a personal
// OpenAI API key; the server falls back to the operator-level key when
// a user has none.
package secrets

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/crypto/nacl/secretbox"

	kiddosotel "github.com/andyfreed/kiddos/internal/otel"
)

var (
	// ErrSecretNotFound is returned when the user has no secret by that name.
	ErrSecretNotFound = errors.New("secret not found")
	// ErrInvalidEncryptionKey is returned when the vault key is not
	// exactly 32 bytes (required by secretbox).
	ErrInvalidEncryptionKey = errors.New("invalid encryption key")
	// ErrDecryptFailed is returned when a stored value fails to open,
	// usually because the vault key changed.
	ErrDecryptFailed = errors.New("secret decryption failed")
)

var tracer = kiddosotel.Tracer("github.com/andyfreed/kiddos/internal/secrets")

// KeyOpenAIAPIKey is the vault slot for a user's personal OpenAI key.
const KeyOpenAIAPIKey = "openai-api-key"

// Vault manages encrypted per-user secrets with access audit logging.
type Vault struct {
	db  *sql.DB
	key [32]byte
}

// SecretMetadata is the public view of a stored secret (no plaintext).
type SecretMetadata struct {
	Name        string    `json:"name"`
	CreatedAt   time.Time `json:"created_at"`
	AccessedAt  time.Time `json:"accessed_at"`
	AccessCount int       `json:"access_count"`
}

// NewVault opens (creating if necessary) the vault database. The key
// must be 32 raw bytes or 64 hex characters decoding to 32 bytes.
func NewVault(dbPath, encryptionKey string) (*Vault, error) {
	keyBytes, err := resolveEncryptionKey(encryptionKey)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening vault database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
	CREATE TABLE IF NOT EXISTS secrets (
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		sealed_value TEXT NOT NULL,
		nonce TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		accessed_at TIMESTAMP,
		access_count INTEGER DEFAULT 0,
		PRIMARY KEY (user_id, name)
	);

	CREATE TABLE IF NOT EXISTS secret_access_log (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		secret_name TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		allowed BOOLEAN NOT NULL,
		reason TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_vault_access_user ON secret_access_log(user_id);
	CREATE INDEX IF NOT EXISTS idx_vault_access_timestamp ON secret_access_log(timestamp);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating vault schema: %w", err)
	}

	v := &Vault{db: db}
	copy(v.key[:], keyBytes)
	return v, nil
}

func resolveEncryptionKey(key string) ([]byte, error) {
	if len(key) == 64 && isHex(key) {
		decoded, err := hex.DecodeString(key)
		if err != nil || len(decoded) != 32 {
			return nil, fmt.Errorf("encryption key hex must decode to 32 bytes: %w", ErrInvalidEncryptionKey)
		}
		return decoded, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("encryption key must be 32 bytes or 64 hex characters (got %d): %w", len(key), ErrInvalidEncryptionKey)
}

func isHex(s string) bool {
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// Close releases the database connection.
func (v *Vault) Close() error {
	return v.db.Close()
}

// Set seals and stores a secret, upserting on conflict.
func (v *Vault) Set(ctx context.Context, userID, name string, value []byte) error {
	ctx, span := tracer.Start(ctx, "vault.set",
		trace.WithAttributes(attribute.String("secret.name", name)))
	defer span.End()

	var nonce [24]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		span.RecordError(err)
		return fmt.Errorf("generating nonce: %w", err)
	}
	sealed := secretbox.Seal(nil, value, &nonce, &v.key)

	query := `
		INSERT INTO secrets (user_id, name, sealed_value, nonce, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, name) DO UPDATE SET
			sealed_value = excluded.sealed_value,
			nonce = excluded.nonce
	`
	_, err := v.db.ExecContext(ctx, query, userID, name,
		base64.StdEncoding.EncodeToString(sealed),
		base64.StdEncoding.EncodeToString(nonce[:]),
		time.Now().UTC())
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("storing secret: %w", err)
	}
	return nil
}

// Get retrieves and opens a secret. Every attempt is audit-logged.
func (v *Vault) Get(ctx context.Context, userID, name string) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "vault.get",
		trace.WithAttributes(attribute.String("secret.name", name)))
	defer span.End()

	var sealedB64, nonceB64 string
	err := v.db.QueryRowContext(ctx,
		"SELECT sealed_value, nonce FROM secrets WHERE user_id = ? AND name = ?",
		userID, name).Scan(&sealedB64, &nonceB64)
	if err == sql.ErrNoRows {
		v.logAccess(ctx, userID, name, false, "secret not found")
		return nil, ErrSecretNotFound
	}
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("querying secret: %w", err)
	}

	sealed, err := base64.StdEncoding.DecodeString(sealedB64)
	if err != nil {
		return nil, fmt.Errorf("decoding sealed value: %w", err)
	}
	nonceBytes, err := base64.StdEncoding.DecodeString(nonceB64)
	if err != nil || len(nonceBytes) != 24 {
		return nil, fmt.Errorf("decoding nonce: %w", ErrDecryptFailed)
	}
	var nonce [24]byte
	copy(nonce[:], nonceBytes)

	value, ok := secretbox.Open(nil, sealed, &nonce, &v.key)
	if !ok {
		v.logAccess(ctx, userID, name, false, "decryption failed")
		return nil, ErrDecryptFailed
	}

	v.logAccess(ctx, userID, name, true, "")
	if _, err := v.db.ExecContext(ctx, `
		UPDATE secrets SET accessed_at = ?, access_count = access_count + 1
		WHERE user_id = ? AND name = ?`,
		time.Now().UTC(), userID, name); err != nil {
		span.RecordError(err)
	}
	return value, nil
}

// Delete removes a secret.
func (v *Vault) Delete(ctx context.Context, userID, name string) error {
	res, err := v.db.ExecContext(ctx,
		"DELETE FROM secrets WHERE user_id = ? AND name = ?", userID, name)
	if err != nil {
		return fmt.Errorf("deleting secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSecretNotFound
	}
	return nil
}

// List returns metadata for all of a user's secrets.
func (v *Vault) List(ctx context.Context, userID string) ([]SecretMetadata, error) {
	rows, err := v.db.QueryContext(ctx, `
		SELECT name, created_at, accessed_at, access_count
		FROM secrets WHERE user_id = ? ORDER BY name`, userID)
	if err != nil {
		return nil, fmt.Errorf("listing secrets: %w", err)
	}
	defer rows.Close()

	var metas []SecretMetadata
	for rows.Next() {
		var m SecretMetadata
		var accessedAt sql.NullTime
		if err := rows.Scan(&m.Name, &m.CreatedAt, &accessedAt, &m.AccessCount); err != nil {
			return nil, fmt.Errorf("scanning secret metadata: %w", err)
		}
		if accessedAt.Valid {
			m.AccessedAt = accessedAt.Time.UTC()
		}
		m.CreatedAt = m.CreatedAt.UTC()
		metas = append(metas, m)
	}
	return metas, rows.Err()
}

func (v *Vault) logAccess(ctx context.Context, userID, name string, allowed bool, reason string) {
	_, err := v.db.ExecContext(ctx, `
		INSERT INTO secret_access_log (id, user_id, secret_name, timestamp, allowed, reason)
		VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, name, time.Now().UTC(), allowed, reason)
	if err != nil {
		span := trace.SpanFromContext(ctx)
		span.RecordError(err)
	}
}
