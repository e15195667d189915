package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dgellow/prima-front/internal/crypto"
	"github.com/dgellow/prima-front/internal/log"
)

// FirestoreStorage keeps sessions in Google Cloud Firestore so they survive
// restarts and are shared across replicas. Provider tokens are encrypted
// before they are written.
type FirestoreStorage struct {
	client     *firestore.Client
	collection string
	encryptor  crypto.Encryptor
	now        func() time.Time
}

var _ Storage = (*FirestoreStorage)(nil)

// SessionDoc represents a session document in Firestore
type SessionDoc struct {
	ID        string `firestore:"id"`
	Provider  string `firestore:"provider"`
	SubjectID string `firestore:"subject_id"`
	Username  string `firestore:"username"`
	Name      string `firestore:"name"`
	Email     string `firestore:"email"`

	// Encrypted
	AccessToken  string `firestore:"access_token"`
	RefreshToken string `firestore:"refresh_token,omitempty"`
	IDToken      string `firestore:"id_token,omitempty"`

	TokenExpiry time.Time `firestore:"token_expiry"`
	CreatedAt   time.Time `firestore:"created_at"`
	ExpiresAt   time.Time `firestore:"expires_at"`
	LastSeen    time.Time `firestore:"last_seen"`
}

// NewFirestoreStorage creates a new Firestore storage instance
func NewFirestoreStorage(ctx context.Context, projectID, database, collection string, encryptor crypto.Encryptor) (*FirestoreStorage, error) {
	if encryptor == nil {
		return nil, fmt.Errorf("encryptor is required")
	}
	if projectID == "" {
		return nil, fmt.Errorf("projectID is required")
	}
	if collection == "" {
		return nil, fmt.Errorf("collection is required")
	}

	var client *firestore.Client
	var err error
	if database != "" && database != "(default)" {
		client, err = firestore.NewClientWithDatabase(ctx, projectID, database)
	} else {
		client, err = firestore.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	log.LogInfoWithFields("storage", "Connected to Firestore", map[string]any{
		"project":    projectID,
		"database":   database,
		"collection": collection,
	})

	return &FirestoreStorage{
		client:     client,
		collection: collection,
		encryptor:  encryptor,
		now:        time.Now,
	}, nil
}

func (s *FirestoreStorage) doc(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStorage) CreateSession(ctx context.Context, session *Session) error {
	doc, err := toSessionDoc(session, s.encryptor)
	if err != nil {
		return err
	}
	_, err = s.doc(session.ID).Create(ctx, doc)
	if status.Code(err) == codes.AlreadyExists {
		return ErrSessionExists
	}
	if err != nil {
		return fmt.Errorf("creating session: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) GetSession(ctx context.Context, id string) (*Session, error) {
	snap, err := s.doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}

	var doc SessionDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return fromSessionDoc(&doc, s.encryptor)
}

func (s *FirestoreStorage) UpdateSession(ctx context.Context, session *Session) error {
	doc, err := toSessionDoc(session, s.encryptor)
	if err != nil {
		return err
	}
	// Precondition: the document must still exist, so a concurrent logout wins.
	_, err = s.doc(session.ID).Update(ctx, []firestore.Update{
		{Path: "access_token", Value: doc.AccessToken},
		{Path: "refresh_token", Value: doc.RefreshToken},
		{Path: "id_token", Value: doc.IDToken},
		{Path: "token_expiry", Value: doc.TokenExpiry},
		{Path: "subject_id", Value: doc.SubjectID},
		{Path: "name", Value: doc.Name},
		{Path: "email", Value: doc.Email},
		{Path: "expires_at", Value: doc.ExpiresAt},
		{Path: "last_seen", Value: doc.LastSeen},
	})
	if status.Code(err) == codes.NotFound {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("updating session: %w", err)
	}
	return nil
}

func (s *FirestoreStorage) TouchSession(ctx context.Context, id string, at time.Time) error {
	_, err := s.doc(id).Update(ctx, []firestore.Update{
		{Path: "last_seen", Value: at},
	})
	if status.Code(err) == codes.NotFound {
		return ErrSessionNotFound
	}
	return err
}

func (s *FirestoreStorage) DeleteSession(ctx context.Context, id string) error {
	_, err := s.doc(id).Delete(ctx)
	if err != nil && status.Code(err) != codes.NotFound {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// CleanupExpiredSessions removes all expired sessions in batches
func (s *FirestoreStorage) CleanupExpiredSessions(ctx context.Context) (int, error) {
	iter := s.client.Collection(s.collection).
		Where("expires_at", "<=", s.now()).
		Documents(ctx)
	defer iter.Stop()

	count := 0
	batch := s.client.Batch()
	batchSize := 0
	const maxBatchSize = 500 // Firestore batch write limit

	for {
		doc, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return count, fmt.Errorf("failed to iterate expired sessions: %w", err)
		}

		batch.Delete(doc.Ref)
		batchSize++
		count++

		if batchSize >= maxBatchSize {
			if _, err := batch.Commit(ctx); err != nil {
				return count, fmt.Errorf("failed to commit batch: %w", err)
			}
			batch = s.client.Batch()
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if _, err := batch.Commit(ctx); err != nil {
			return count, fmt.Errorf("failed to commit final batch: %w", err)
		}
	}

	return count, nil
}

// Close closes the Firestore client
func (s *FirestoreStorage) Close() error {
	return s.client.Close()
}

func toSessionDoc(session *Session, enc crypto.Encryptor) (*SessionDoc, error) {
	access, err := encryptOptional(enc, session.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting access token: %w", err)
	}
	refresh, err := encryptOptional(enc, session.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting refresh token: %w", err)
	}
	idToken, err := encryptOptional(enc, session.IDToken)
	if err != nil {
		return nil, fmt.Errorf("encrypting id token: %w", err)
	}

	return &SessionDoc{
		ID:           session.ID,
		Provider:     session.Provider,
		SubjectID:    session.SubjectID,
		Username:     session.Username,
		Name:         session.Name,
		Email:        session.Email,
		AccessToken:  access,
		RefreshToken: refresh,
		IDToken:      idToken,
		TokenExpiry:  session.TokenExpiry,
		CreatedAt:    session.CreatedAt,
		ExpiresAt:    session.ExpiresAt,
		LastSeen:     session.LastSeen,
	}, nil
}

func fromSessionDoc(doc *SessionDoc, enc crypto.Encryptor) (*Session, error) {
	access, err := decryptOptional(enc, doc.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting access token: %w", err)
	}
	refresh, err := decryptOptional(enc, doc.RefreshToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting refresh token: %w", err)
	}
	idToken, err := decryptOptional(enc, doc.IDToken)
	if err != nil {
		return nil, fmt.Errorf("decrypting id token: %w", err)
	}

	return &Session{
		ID:           doc.ID,
		Provider:     doc.Provider,
		SubjectID:    doc.SubjectID,
		Username:     doc.Username,
		Name:         doc.Name,
		Email:        doc.Email,
		AccessToken:  access,
		RefreshToken: refresh,
		IDToken:      idToken,
		TokenExpiry:  doc.TokenExpiry,
		CreatedAt:    doc.CreatedAt,
		ExpiresAt:    doc.ExpiresAt,
		LastSeen:     doc.LastSeen,
	}, nil
}

func encryptOptional(enc crypto.Encryptor, plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	return enc.Encrypt(plaintext)
}

func decryptOptional(enc crypto.Encryptor, ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", nil
	}
	return enc.Decrypt(ciphertext)
}
