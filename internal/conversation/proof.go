package conversation

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/zeebo/blake3"

	"github.com/alfredjeanlab/gatekeeper/internal/model"
)

const proofPrefix = "pf-"

// newProof validates an attachment and derives its content identity.
// Identical bytes always produce the same ID.
func newProof(a *model.Attachment, maxBytes int, now time.Time) (*model.Proof, error) {
	if len(a.Data) == 0 {
		return nil, fmt.Errorf("%w: empty attachment", model.ErrInvalidClientState)
	}
	if len(a.Data) > maxBytes {
		return nil, fmt.Errorf("%w: attachment is %d bytes, limit %d", model.ErrInvalidClientState, len(a.Data), maxBytes)
	}
	mime := strings.ToLower(strings.TrimSpace(a.MIMEType))
	if !strings.HasPrefix(mime, "image/") && mime != "application/pdf" {
		return nil, fmt.Errorf("%w: unsupported attachment type %q", model.ErrInvalidClientState, a.MIMEType)
	}
	sum := blake3.Sum256(a.Data)
	digest := hex.EncodeToString(sum[:])
	return &model.Proof{
		ID:          proofPrefix + digest[:12],
		MIMEType:    mime,
		Digest:      digest,
		Size:        len(a.Data),
		SubmittedAt: now,
		Data:        append([]byte(nil), a.Data...),
	}, nil
}
