// Package verify runs the admission pipeline for signed envelopes: shape
// check, key resolution, signature check, replay admission, in that order.
package verify

import (
	"context"
	"crypto/ed25519"
	"fmt"

	"signet/internal/common"
	"signet/internal/keydir"
	"signet/internal/models"
	"signet/internal/replay"
)

type Verifier struct {
	dir   keydir.Directory
	guard *replay.Guard
}

func NewVerifier(dir keydir.Directory, guard *replay.Guard) *Verifier {
	return &Verifier{dir: dir, guard: guard}
}

// Verify validates env and, on success, consumes its nonce. A nil return
// means the envelope is well-formed, authentic, fresh, and attributable to
// env.Signee.User. Nothing is recorded in the nonce table for envelopes that
// fail earlier checks, so a forged duplicate cannot burn a legitimate nonce.
func (v *Verifier) Verify(ctx context.Context, env *models.Envelope) error {
	if err := env.Validate(); err != nil {
		return fmt.Errorf("%w: %v", common.ErrBadEnvelope, err)
	}

	pub, err := v.dir.Resolve(ctx, env.Signee.User)
	if err != nil {
		return err
	}

	msg, err := env.SigneeBytes()
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrBadEnvelope, err)
	}
	if !ed25519.Verify(pub, msg, env.Sig) {
		return fmt.Errorf("%w: signature does not cover signee", common.ErrInvalidSignature)
	}

	return v.guard.Admit(env.Signee.User, env.Signee.Nonce, env.Signee.Timestamp)
}
