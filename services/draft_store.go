package services

import (
	"sync"

	"github.com/HSouheill/coursemarket_backend/models"
	"github.com/HSouheill/coursemarket_backend/utils"
)

// DraftStore holds at most one signup attempt for a session. Save overwrites.
type DraftStore interface {
	Save(attempt models.SignupAttempt) error
	Load() (models.SignupAttempt, bool)
	Clear()
}

// SealedDraftStore keeps the attempt only as an encrypted blob, so the
// password in the draft is never held in plaintext between requests.
type SealedDraftStore struct {
	mu     sync.Mutex
	sealer *utils.Sealer
	blob   []byte
}

func NewSealedDraftStore(sealer *utils.Sealer) *SealedDraftStore {
	return &SealedDraftStore{sealer: sealer}
}

func (s *SealedDraftStore) Save(attempt models.SignupAttempt) error {
	blob, err := s.sealer.Seal(attempt)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.blob = blob
	s.mu.Unlock()
	return nil
}

// Load returns false when the slot is empty. A blob that no longer opens is
// dropped and reported as empty.
func (s *SealedDraftStore) Load() (models.SignupAttempt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var attempt models.SignupAttempt
	if s.blob == nil {
		return attempt, false
	}
	if err := s.sealer.Open(s.blob, &attempt); err != nil {
		s.blob = nil
		return models.SignupAttempt{}, false
	}
	return attempt, true
}

func (s *SealedDraftStore) Clear() {
	s.mu.Lock()
	s.blob = nil
	s.mu.Unlock()
}

// sealed returns a copy of the raw blob.
func (s *SealedDraftStore) sealed() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.blob...)
}
