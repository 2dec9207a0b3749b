// Package migrate imports playlist mappings and Spotify tokens left behind by
// the previous bot (its db.json file and the PLAYLIST_MAP variable).
package migrate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/satoshipuzzles/jukebot/pkg/auth"
	"github.com/satoshipuzzles/jukebot/pkg/identity"
	"github.com/satoshipuzzles/jukebot/pkg/logger"
	"github.com/satoshipuzzles/jukebot/pkg/playlist"
	"github.com/satoshipuzzles/jukebot/pkg/store"
)

type ActionType int

const (
	ActionImport ActionType = iota
	ActionSkip
	ActionOverwrite
	ActionImportCredential
)

// Store is the part of *store.Store the importer writes to.
type Store interface {
	Get(ctx context.Context, owner string) (store.PlaylistRef, error)
	Put(ctx context.Context, ref store.PlaylistRef) error
	PutIfAbsent(ctx context.Context, ref store.PlaylistRef) (store.PlaylistRef, bool, error)
	auth.CredentialStore
}

type Options struct {
	DryRun bool
	// Force overwrites existing mappings and skips the confirmation prompt.
	Force bool
	Out   io.Writer
	In    io.Reader
}

func (o Options) out() io.Writer {
	if o.Out == nil {
		return os.Stdout
	}
	return o.Out
}

func (o Options) in() io.Reader {
	if o.In == nil {
		return os.Stdin
	}
	return o.In
}

type Action struct {
	Type        ActionType
	Entry       Entry
	Existing    string
	Description string
}

type Result struct {
	Imported           int
	Overwritten        int
	Skipped            int
	CredentialImported bool
	Warnings           []string
	Errors             []error
}

// ImportFile plans and applies an import of a legacy db.json.
func ImportFile(ctx context.Context, st Store, path string, opts Options) (*Result, error) {
	db, err := LoadLegacyDB(path)
	if err != nil {
		return nil, err
	}
	entries, warnings := normalizeEntries(db.BotSpotify.PlaylistMap)

	actions, planWarnings, err := Plan(ctx, st, entries, opts.Force)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, planWarnings...)

	if db.BotSpotify.AccessToken != "" || db.BotSpotify.RefreshToken != "" {
		existing, err := auth.GetCredential(ctx, st)
		if err != nil {
			return nil, fmt.Errorf("checking stored credential: %w", err)
		}
		if existing == nil {
			actions = append(actions, Action{Type: ActionImportCredential, Description: "spotify tokens"})
		} else {
			warnings = append(warnings, "Spotify credential already stored, legacy tokens ignored")
		}
	}

	w := opts.out()
	fmt.Fprintf(w, "Importing legacy bot data from %s\n\n", path)

	if opts.DryRun {
		PrintPlan(w, actions, warnings)
		return &Result{Warnings: warnings}, nil
	}

	if !opts.Force {
		PrintPlan(w, actions, warnings)
		if !Confirm(opts.in(), w) {
			fmt.Fprintln(w, "Aborted.")
			return &Result{Warnings: warnings}, nil
		}
		fmt.Fprintln(w)
	}

	result := Execute(ctx, st, actions, db, w)
	result.Warnings = warnings
	return result, nil
}

// ImportPlaylistMap seeds mappings from the PLAYLIST_MAP variable at startup.
// Existing mappings always win; nothing is printed.
func ImportPlaylistMap(ctx context.Context, st Store, raw string) (*Result, error) {
	m, err := ParsePlaylistMap(raw)
	if err != nil {
		return nil, err
	}
	entries, warnings := normalizeEntries(m)
	result := &Result{Warnings: warnings}
	for _, e := range entries {
		_, written, err := st.PutIfAbsent(ctx, refFor(e))
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("import %s: %w", e.Owner, err))
			continue
		}
		if written {
			result.Imported++
		} else {
			result.Skipped++
		}
	}
	if result.Imported > 0 || len(warnings) > 0 {
		logger.InfoCF("migrate", "PLAYLIST_MAP imported", map[string]any{
			"imported": result.Imported,
			"skipped":  result.Skipped,
			"warnings": len(warnings),
		})
	}
	return result, nil
}

// Plan decides per entry whether to import, skip or overwrite.
func Plan(ctx context.Context, st Store, entries []Entry, force bool) ([]Action, []string, error) {
	var actions []Action
	var warnings []string

	for _, e := range entries {
		existing, err := st.Get(ctx, e.Owner)
		switch {
		case errors.Is(err, store.ErrNotFound):
			actions = append(actions, Action{Type: ActionImport, Entry: e})
		case err != nil:
			return nil, nil, fmt.Errorf("looking up %s: %w", e.Owner, err)
		case existing.PlaylistID == e.PlaylistID:
			actions = append(actions, Action{Type: ActionSkip, Entry: e, Existing: existing.PlaylistID})
		case force:
			actions = append(actions, Action{Type: ActionOverwrite, Entry: e, Existing: existing.PlaylistID})
		default:
			actions = append(actions, Action{
				Type:        ActionSkip,
				Entry:       e,
				Existing:    existing.PlaylistID,
				Description: "different playlist already mapped, use --force to replace",
			})
			warnings = append(warnings, fmt.Sprintf("%s already maps to %s", identity.ShortNpub(e.Owner), existing.PlaylistID))
		}
	}
	return actions, warnings, nil
}

func Execute(ctx context.Context, st Store, actions []Action, db *LegacyDB, w io.Writer) *Result {
	result := &Result{}

	for _, action := range actions {
		switch action.Type {
		case ActionImport:
			_, written, err := st.PutIfAbsent(ctx, refFor(action.Entry))
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("import %s: %w", action.Entry.Owner, err))
				fmt.Fprintf(w, "  ✗ Import failed: %s\n", identity.ShortNpub(action.Entry.Owner))
				continue
			}
			if !written {
				result.Skipped++
				continue
			}
			result.Imported++
			fmt.Fprintf(w, "  ✓ Imported %s -> %s\n", identity.ShortNpub(action.Entry.Owner), action.Entry.PlaylistID)
		case ActionOverwrite:
			if err := st.Put(ctx, refFor(action.Entry)); err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("overwrite %s: %w", action.Entry.Owner, err))
				fmt.Fprintf(w, "  ✗ Overwrite failed: %s\n", identity.ShortNpub(action.Entry.Owner))
				continue
			}
			result.Overwritten++
			fmt.Fprintf(w, "  ✓ Replaced %s: %s -> %s\n", identity.ShortNpub(action.Entry.Owner), action.Existing, action.Entry.PlaylistID)
		case ActionImportCredential:
			ok, err := auth.SeedFromEnv(ctx, st, db.BotSpotify.AccessToken, db.BotSpotify.RefreshToken)
			if err != nil {
				result.Errors = append(result.Errors, fmt.Errorf("credential: %w", err))
				fmt.Fprintf(w, "  ✗ Credential import failed: %v\n", err)
				continue
			}
			result.CredentialImported = ok
			if ok {
				fmt.Fprintln(w, "  ✓ Imported Spotify tokens")
			}
		case ActionSkip:
			result.Skipped++
		}
	}
	return result
}

func refFor(e Entry) store.PlaylistRef {
	return store.PlaylistRef{
		Owner:      e.Owner,
		PlaylistID: e.PlaylistID,
		Title:      playlist.Title(e.Owner, ""),
		CreatedAt:  time.Now().UTC(),
	}
}

func Confirm(in io.Reader, w io.Writer) bool {
	fmt.Fprint(w, "Proceed with import? (y/n): ")
	response, _ := bufio.NewReader(in).ReadString('\n')
	return strings.ToLower(strings.TrimSpace(response)) == "y"
}

func PrintPlan(w io.Writer, actions []Action, warnings []string) {
	fmt.Fprintln(w, "Planned actions:")
	imports, overwrites, skips, creds := 0, 0, 0, 0

	for _, action := range actions {
		switch action.Type {
		case ActionImport:
			fmt.Fprintf(w, "  [import]     %s -> %s\n", identity.ShortNpub(action.Entry.Owner), action.Entry.PlaylistID)
			imports++
		case ActionOverwrite:
			fmt.Fprintf(w, "  [overwrite]  %s: %s -> %s\n", identity.ShortNpub(action.Entry.Owner), action.Existing, action.Entry.PlaylistID)
			overwrites++
		case ActionImportCredential:
			fmt.Fprintln(w, "  [credential] spotify tokens")
			creds++
		case ActionSkip:
			if action.Description != "" {
				fmt.Fprintf(w, "  [skip]       %s (%s)\n", identity.ShortNpub(action.Entry.Owner), action.Description)
			}
			skips++
		}
	}

	if len(warnings) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, "Warnings:")
		for _, warn := range warnings {
			fmt.Fprintf(w, "  - %s\n", warn)
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%d playlists to import, %d to replace, %d credentials, %d skipped\n",
		imports, overwrites, creds, skips)
}

func PrintSummary(w io.Writer, result *Result) {
	fmt.Fprintln(w)
	parts := []string{}
	if result.Imported > 0 {
		parts = append(parts, fmt.Sprintf("%d playlists imported", result.Imported))
	}
	if result.Overwritten > 0 {
		parts = append(parts, fmt.Sprintf("%d replaced", result.Overwritten))
	}
	if result.CredentialImported {
		parts = append(parts, "Spotify tokens imported")
	}
	if result.Skipped > 0 {
		parts = append(parts, fmt.Sprintf("%d skipped", result.Skipped))
	}

	if len(parts) > 0 {
		fmt.Fprintf(w, "Import complete! %s.\n", strings.Join(parts, ", "))
	} else {
		fmt.Fprintln(w, "Import complete! No actions taken.")
	}

	if len(result.Errors) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "%d errors occurred:\n", len(result.Errors))
		for _, e := range result.Errors {
			fmt.Fprintf(w, "  - %v\n", e)
		}
	}
}
