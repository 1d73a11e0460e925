package audit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gonkalabs/kpg-client/internal/signer"
	"github.com/gonkalabs/kpg-client/internal/upstream"
)

// Signature headers attached when the client holds a signing key.
const (
	HeaderSignature = "X-KPG-Signature"
	HeaderTimestamp = "X-KPG-Timestamp"
	HeaderSigner    = "X-KPG-Signer"
)

// Remote appends events to the audit service over /audit/log.
type Remote struct {
	up     *upstream.Client
	signer *signer.Signer
}

// NewRemote creates a Remote. s may be nil, in which case appends are
// unsigned.
func NewRemote(up *upstream.Client, s *signer.Signer) *Remote {
	return &Remote{up: up, signer: s}
}

type appendResponse struct {
	Hash string `json:"hash"`
}

// Append posts req and returns the assigned hash.
func (r *Remote) Append(ctx context.Context, req Request) (string, error) {
	var opts []upstream.RequestOption
	if r.signer != nil {
		opts = append(opts, r.sign(req.CaseID))
	}
	var resp appendResponse
	if err := r.up.Post(ctx, upstream.PathAuditLog, req, &resp, opts...); err != nil {
		return "", fmt.Errorf("audit: append: %w", err)
	}
	return resp.Hash, nil
}

func (r *Remote) sign(caseID string) upstream.RequestOption {
	return func(req *http.Request, body []byte) {
		sig, ts := r.signer.Sign(body, caseID)
		req.Header.Set(HeaderSignature, sig)
		req.Header.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		req.Header.Set(HeaderSigner, r.signer.Address())
	}
}
