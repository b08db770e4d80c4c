// Package vault implements the contact-secret vault (spec §4.5): the
// single place DR state and contact records live between sessions, and
// the MK-wrapped snapshot format the (external) backup scheduler
// uploads and hydrates.
package vault

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"

	"github.com/sentry-msgr/core/internal/conversation"
	"github.com/sentry-msgr/core/internal/envelope"
	"github.com/sentry-msgr/core/internal/ratchet"
	"github.com/sentry-msgr/core/internal/sentryerr"
)

// Role records which side of the invite flow a contact played when
// the conversation was established (spec §3 ContactRecord).
type Role string

const (
	RoleInitiator Role = "initiator"
	RoleGuest     Role = "guest"
)

// ContactRecord is one peer's durable contact-secret state, one per
// (peerAccountDigest, peerDeviceId) (spec §3).
type ContactRecord struct {
	PeerAccountDigest string `json:"peerAccountDigest"`
	PeerDeviceID      string `json:"peerDeviceId"`
	PeerKey           string `json:"peerKey"`

	ConversationID    string `json:"conversationId"`
	ConversationToken []byte `json:"conversationToken"`
	Role              Role   `json:"role"`

	DRState *ratchet.State `json:"drState,omitempty"`

	Nickname  string `json:"nickname,omitempty"`
	AvatarRef string `json:"avatarRef,omitempty"`
	AddedAt   string `json:"addedAt"`
	UpdatedAt string `json:"updatedAt"`
	Version   int    `json:"version"`

	Corrupt       bool   `json:"corrupt,omitempty"`
	CorruptReason string `json:"corruptReason,omitempty"`
	CorruptAt     string `json:"corruptAt,omitempty"`
}

// Snapshot is the plaintext payload wrapped as envelope.InfoContactSecretsBkp.
type Snapshot struct {
	Version   int                       `json:"version"`
	Contacts  map[string]*ContactRecord `json:"contacts"`
}

// Summary describes a snapshot without exposing its secrets (spec §4.5).
type Summary struct {
	Version     int    `json:"version"`
	Entries     int    `json:"entries"`
	WithDrState int    `json:"withDrState"`
	GeneratedAt string `json:"generatedAt"`
	Bytes       int    `json:"bytes"`
}

// Vault is the in-memory contact-secret store. All mutation goes
// through a single write-exclusive lock; reads take the read lock.
// BuildSnapshot copies every record, while Get returns the stored
// record itself without copying it.
type Vault struct {
	mu       sync.RWMutex
	contacts map[string]*ContactRecord

	lastUploadedChecksum string
}

// New returns an empty vault.
func New() *Vault {
	return &Vault{contacts: make(map[string]*ContactRecord)}
}

// UpsertContact inserts or replaces a contact record by peerKey,
// deriving peerKey from (peerAccountDigest, peerDeviceId) when the
// caller didn't already set it, deriving/validating conversationId
// against conversationToken (spec §3 invariant
// `conversationId == SHA256(conversationToken)[:44]`), and maintaining
// addedAt/updatedAt/version. at is the caller-supplied current
// timestamp, matching MarkCorrupt/BuildSnapshot's convention of never
// generating timestamps internally.
func (v *Vault) UpsertContact(rec *ContactRecord, at string) error {
	if rec.PeerKey == "" {
		if rec.PeerAccountDigest == "" || rec.PeerDeviceID == "" {
			return sentryerr.WithField(sentryerr.CodeBadEnvelope, "peerKey requires peerAccountDigest and peerDeviceId", "peerKey")
		}
		rec.PeerKey = rec.PeerAccountDigest + "::" + rec.PeerDeviceID
	}
	if len(rec.ConversationToken) > 0 {
		wantID := conversation.ConversationID(rec.ConversationToken)
		if rec.ConversationID == "" {
			rec.ConversationID = wantID
		} else if rec.ConversationID != wantID {
			return sentryerr.WithField(sentryerr.CodeBadEnvelope, "conversationId does not match SHA256(conversationToken)[:44]", "conversationId")
		}
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if existing, ok := v.contacts[rec.PeerKey]; ok && existing.AddedAt != "" {
		rec.AddedAt = existing.AddedAt
		rec.Version = existing.Version + 1
	} else {
		if rec.AddedAt == "" {
			rec.AddedAt = at
		}
		rec.Version = 1
	}
	rec.UpdatedAt = at

	v.contacts[rec.PeerKey] = rec
	return nil
}

// Get returns a copy-free pointer to the stored record, or nil.
func (v *Vault) Get(peerKey string) *ContactRecord {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.contacts[peerKey]
}

// MarkCorrupt flags a contact's persisted state as unusable without
// discarding the record itself, so the UI can surface a reset prompt
// rather than silently losing the peer.
func (v *Vault) MarkCorrupt(peerKey, reason, at string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	rec, ok := v.contacts[peerKey]
	if !ok {
		return sentryerr.New(sentryerr.CodeContactCorrupt, "unknown peer key")
	}
	rec.Corrupt = true
	rec.CorruptReason = reason
	rec.CorruptAt = at
	return nil
}

// BuildSnapshot copies the current contact set into a plaintext
// Snapshot and a non-secret Summary (spec §4.5).
func (v *Vault) BuildSnapshot(generatedAt string) (*Snapshot, *Summary, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	snap := &Snapshot{Version: 1, Contacts: make(map[string]*ContactRecord, len(v.contacts))}
	withDR := 0
	for k, rec := range v.contacts {
		cp := *rec
		if rec.DRState != nil {
			cp.DRState = rec.DRState.Clone()
			withDR++
		}
		snap.Contacts[k] = &cp
	}

	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, nil, sentryerr.Wrap(sentryerr.CodeBadEnvelope, "marshal snapshot", err)
	}

	summary := &Summary{
		Version:     snap.Version,
		Entries:     len(snap.Contacts),
		WithDrState: withDR,
		GeneratedAt: generatedAt,
		Bytes:       len(raw),
	}
	return snap, summary, nil
}

// ImportOptions controls ImportSnapshot behavior.
type ImportOptions struct {
	Replace bool
}

// ImportSnapshot merges (or, with Replace, overwrites) the vault's
// contact set from a decrypted Snapshot.
func (v *Vault) ImportSnapshot(snap *Snapshot, opts ImportOptions) error {
	if snap == nil {
		return sentryerr.New(sentryerr.CodeBadEnvelope, "nil snapshot")
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	if opts.Replace {
		v.contacts = make(map[string]*ContactRecord, len(snap.Contacts))
	}
	for k, rec := range snap.Contacts {
		v.contacts[k] = rec
	}
	return nil
}

// ComputeChecksum returns a stable hex SHA-256 over the snapshot's
// canonical JSON encoding, used to decide whether an upload is needed
// (spec §4.5 upload policy).
func ComputeChecksum(snap *Snapshot) (string, error) {
	raw, err := json.Marshal(snap)
	if err != nil {
		return "", sentryerr.Wrap(sentryerr.CodeBadEnvelope, "marshal snapshot for checksum", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// Seal MK-wraps a snapshot for upload (info contact-secrets/backup/v1).
func Seal(snap *Snapshot, mk []byte) (*envelope.Envelope, error) {
	return envelope.Wrap(snap, mk, envelope.InfoContactSecretsBkp)
}

// Open decrypts an uploaded backup envelope into a Snapshot. Per spec
// §4.5, a decrypt failure here marks the backup key as corrupt at the
// caller's layer and must never be retried within the session; Open
// itself only reports the failure, it does not track retry state.
func Open(env *envelope.Envelope, mk []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := envelope.Unwrap(env, mk, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// ShouldUpload implements the upload-policy gate (spec §4.5): upload
// only when mk is present AND (force OR entries>0 AND withDrState>0 AND
// checksum != lastUploaded).
func (v *Vault) ShouldUpload(mkPresent bool, force bool, summary *Summary, checksum string) bool {
	if !mkPresent {
		return false
	}
	if force {
		return true
	}
	v.mu.RLock()
	last := v.lastUploadedChecksum
	v.mu.RUnlock()
	return summary.Entries > 0 && summary.WithDrState > 0 && checksum != last
}

// RecordUploaded remembers the checksum of the last uploaded snapshot.
func (v *Vault) RecordUploaded(checksum string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.lastUploadedChecksum = checksum
}
