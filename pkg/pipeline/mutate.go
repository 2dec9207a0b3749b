package pipeline

import (
	"context"
	"fmt"

	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/metrics"
	"github.com/satoshipuzzles/jukebot/pkg/store"
)

// Collections resolves the playlist a mention's tracks go to.
type Collections interface {
	GetOrCreate(ctx context.Context, owner, label string) (store.PlaylistRef, error)
}

// GlobalCollection resolves the shared community playlist.
type GlobalCollection interface {
	Global(ctx context.Context) (store.PlaylistRef, error)
}

// Media reads and appends playlist members.
type Media interface {
	PlaylistTrackIDs(ctx context.Context, playlistID string) ([]string, error)
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) error
}

type MutationResult struct {
	Playlist  store.PlaylistRef
	Added     int
	Requested int
	// Degraded is set when the membership read failed and every requested
	// id was appended without a duplicate check.
	Degraded bool
}

type Mutator struct {
	Collections Collections
	Media       Media
}

// Apply appends the ids that are not yet in the owner's playlist.
func (m *Mutator) Apply(ctx context.Context, owner, label string, ids []string) (MutationResult, error) {
	ref, err := m.Collections.GetOrCreate(ctx, owner, label)
	if err != nil {
		return MutationResult{}, fmt.Errorf("resolving playlist for %s: %w", owner, err)
	}
	return m.applyTo(ctx, ref, ids)
}

// ApplyToGlobal appends ids to the shared playlist with the same duplicate
// handling as Apply.
func (m *Mutator) ApplyToGlobal(ctx context.Context, global GlobalCollection, ids []string) (MutationResult, error) {
	ref, err := global.Global(ctx)
	if err != nil {
		return MutationResult{}, fmt.Errorf("resolving global playlist: %w", err)
	}
	return m.applyTo(ctx, ref, ids)
}

func (m *Mutator) applyTo(ctx context.Context, ref store.PlaylistRef, ids []string) (MutationResult, error) {
	result := MutationResult{Playlist: ref, Requested: len(ids)}

	toAdd := ids
	members, err := m.Media.PlaylistTrackIDs(ctx, ref.PlaylistID)
	if err != nil {
		// Fail open: appending a present track again is harmless.
		logger.WarnCF("pipeline", "Membership read failed, appending all tracks", map[string]any{
			"playlist": ref.PlaylistID,
			"error":    err.Error(),
		})
		result.Degraded = true
		metrics.DegradedMutations.Inc()
	} else {
		toAdd = subtract(ids, members)
	}

	if len(toAdd) > 0 {
		if err := m.Media.AddTracks(ctx, ref.PlaylistID, toAdd); err != nil {
			return MutationResult{}, fmt.Errorf("adding %d track(s) to %s: %w", len(toAdd), ref.PlaylistID, err)
		}
	}
	result.Added = len(toAdd)
	return result, nil
}

// subtract returns ids not in members, keeping the order of ids.
func subtract(ids, members []string) []string {
	present := make(map[string]struct{}, len(members))
	for _, id := range members {
		present[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := present[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
