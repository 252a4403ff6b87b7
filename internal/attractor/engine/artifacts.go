package engine

import (
	"encoding/hex"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/zeebo/blake3"

	"github.com/danshapiro/attractor/internal/attractor/model"
	"github.com/danshapiro/attractor/internal/attractor/runtime"
)

// ArtifactEntry describes one file a stage left behind. The content hash
// lets a reviewer tell which artifacts a resumed or retried run actually
// rewrote.
type ArtifactEntry struct {
	Path     string    `json:"path"` // relative to the stage dir
	Size     int64     `json:"size"`
	Blake3   string    `json:"blake3"`
	Modified time.Time `json:"modified"`
}

// indexStageArtifacts walks a stage directory and writes artifacts.json
// listing every file except the index itself and anything matching the
// configured exclude globs. Best-effort: indexing never fails a stage.
func (e *Engine) indexStageArtifacts(nodeID, stageDir string) {
	excludes := defaultArtifactExcludes
	if e.Opts.Config != nil && len(e.Opts.Config.Artifacts.ExcludeGlobs) > 0 {
		excludes = e.Opts.Config.Artifacts.ExcludeGlobs
	}

	var entries []ArtifactEntry
	_ = filepath.WalkDir(stageDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(stageDir, path)
		if rerr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		if rel == "artifacts.json" || artifactExcluded(rel, excludes) {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		sum, herr := hashFileBlake3(path)
		if herr != nil {
			return nil
		}
		entries = append(entries, ArtifactEntry{
			Path:     rel,
			Size:     info.Size(),
			Blake3:   sum,
			Modified: info.ModTime().UTC(),
		})
		return nil
	})
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })

	if err := runtime.WriteJSONFile(filepath.Join(stageDir, "artifacts.json"), map[string]any{
		"node_id":   nodeID,
		"artifacts": entries,
	}); err != nil {
		e.Warn("index artifacts for " + nodeID + ": " + err.Error())
	}
}

func artifactExcluded(rel string, globs []string) bool {
	for _, g := range globs {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		if ok, err := doublestar.Match(g, rel); err == nil && ok {
			return true
		}
	}
	return false
}

func hashFileBlake3(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// shapeAllowsArtifacts filters the roles whose stage dirs carry
// meaningful outputs; routing nodes leave nothing worth indexing.
func shapeAllowsArtifacts(n *model.Node) bool {
	switch n.Role() {
	case model.RoleLLM, model.RoleTool, model.RoleHumanGate, model.RoleFanIn:
		return true
	}
	return false
}
