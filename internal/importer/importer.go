// Copyright © 2026 Groups.io, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package importer implements the Project Importer: it scans the agent
// CLI's on-disk session tree, upserts project/session catalog rows, and
// triggers reconciliation.
package importer

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/wingedpig/gatewayd/internal/catalog"
)

// minSessionFiles is the strict import threshold: a project directory
// qualifies only when it contains *more than* this many session files.
const minSessionFiles = 3

// Importer scans an agent CLI's projects directory and reconciles it into
// the catalog.
type Importer struct {
	store       *catalog.Store
	projectsDir string // e.g. ~/.claude/projects
}

// New constructs an Importer over projectsDir.
func New(store *catalog.Store, projectsDir string) *Importer {
	return &Importer{store: store, projectsDir: projectsDir}
}

// Sync performs one full import pass: for every project directory with
// strictly more than three session files, it recovers the real working
// directory, upserts the project, reconciles and upserts every session,
// and sweeps catalog rows with no on-disk file.
func (im *Importer) Sync() error {
	dirEntries, err := os.ReadDir(im.projectsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	for _, entry := range dirEntries {
		if !entry.IsDir() {
			continue
		}
		if err := im.syncProject(entry.Name()); err != nil {
			return err
		}
	}
	return nil
}

func (im *Importer) syncProject(encodedDir string) error {
	dir := filepath.Join(im.projectsDir, encodedDir)
	files, err := sessionFiles(dir)
	if err != nil {
		return err
	}
	if len(files) <= minSessionFiles {
		return nil
	}

	realPath := recoverProjectPath(dir, files, encodedDir)
	name := filepath.Base(realPath)
	project, err := im.store.ProjectUpsertByPath(name, realPath)
	if err != nil {
		return err
	}

	seenIDs := make(map[string]struct{}, len(files))
	for _, f := range files {
		sessionID := strings.TrimSuffix(filepath.Base(f), ".jsonl")
		seenIDs[sessionID] = struct{}{}

		meta, _, err := catalog.Reconcile(f)
		if err != nil {
			return err
		}
		// userId is not recoverable from the agent CLI's own log, so
		// imported rows are upserted with an empty user id.
		if err := im.store.SessionUpsert(sessionID, project.ID, "", meta); err != nil {
			return err
		}
	}

	existing, err := im.store.SessionListByProject(project.ID, "")
	if err != nil {
		return err
	}
	var orphaned []string
	for _, s := range existing {
		if _, ok := seenIDs[s.ID]; !ok {
			orphaned = append(orphaned, s.ID)
		}
	}
	return im.store.SessionDeleteMany(orphaned)
}

func sessionFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(e.Name(), ".jsonl") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	return files, nil
}

type cwdObservation struct {
	cwd string
	ts  time.Time
}

// recoverProjectPath applies a cwd-dominance heuristic: if a single cwd
// dominates, use it; if several occur, prefer the one attached to the
// most recent timestamp provided it accounts for >=25% of occurrences,
// else the most frequent; failing all of that, fall back to dash-to-slash
// decoding of the encoded directory name.
func recoverProjectPath(dir string, files []string, encodedDir string) string {
	observations := collectCWDs(files)
	if len(observations) == 0 {
		return catalog.DecodeProjectPath(encodedDir)
	}

	counts := make(map[string]int, len(observations))
	var mostRecent cwdObservation
	for _, o := range observations {
		counts[o.cwd]++
		if o.ts.After(mostRecent.ts) {
			mostRecent = o
		}
	}

	if len(counts) == 1 {
		for cwd := range counts {
			return cwd
		}
	}

	total := len(observations)
	if mostRecent.cwd != "" {
		share := float64(counts[mostRecent.cwd]) / float64(total)
		if share >= 0.25 {
			return mostRecent.cwd
		}
	}

	type kv struct {
		cwd   string
		count int
	}
	ranked := make([]kv, 0, len(counts))
	for cwd, n := range counts {
		ranked = append(ranked, kv{cwd, n})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].count > ranked[j].count })
	if len(ranked) > 0 {
		return ranked[0].cwd
	}

	return catalog.DecodeProjectPath(encodedDir)
}

type cwdRecord struct {
	CWD       string          `json:"cwd"`
	Timestamp json.RawMessage `json:"timestamp"`
}

func collectCWDs(files []string) []cwdObservation {
	var out []cwdObservation
	for _, f := range files {
		fh, err := os.Open(f)
		if err != nil {
			continue
		}
		scanner := bufio.NewScanner(fh)
		scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
		for scanner.Scan() {
			var rec cwdRecord
			if json.Unmarshal(scanner.Bytes(), &rec) != nil || rec.CWD == "" {
				continue
			}
			ts := parseTimestamp(rec.Timestamp)
			out = append(out, cwdObservation{cwd: rec.CWD, ts: ts})
		}
		fh.Close()
	}
	return out
}

func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t
		}
	}
	var ms int64
	if json.Unmarshal(raw, &ms) == nil {
		return time.UnixMilli(ms)
	}
	return time.Time{}
}
