package intake

import (
	"context"

	"tipRelay/internal/model"
)

// PermissiveGraph approves every audience probe. Stands in until the
// ingestion service exposes its follow-graph client.
type PermissiveGraph struct{}

func (PermissiveGraph) Follows(_ context.Context, _, _ uint64) (bool, error) {
	return true, nil
}

// PermissiveProfiles serves a profile that clears any threshold. Stands in
// until the ingestion service exposes its reputation client.
type PermissiveProfiles struct{}

func (PermissiveProfiles) Profile(_ context.Context, fid uint64) (*model.UserProfile, error) {
	return &model.UserProfile{
		FID:           fid,
		FollowerCount: 1 << 31,
		TrustScore:    1.0,
	}, nil
}

// StaticProfiles serves profiles from a fixed map, for backfill runs and
// tests. Unknown accounts resolve to nil, which the validator rejects.
type StaticProfiles map[uint64]model.UserProfile

func (p StaticProfiles) Profile(_ context.Context, fid uint64) (*model.UserProfile, error) {
	profile, ok := p[fid]
	if !ok {
		return nil, nil
	}
	return &profile, nil
}
