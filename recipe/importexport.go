package recipe

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// maxImportEntrySize bounds any single JSON or file entry materialized
// during import (spec §4.9: "JSON files are bounded (<= 100 MiB each)").
const maxImportEntrySize = 100 << 20

// EntryReader streams named byte entries into the importer one at a time,
// mirroring the original implementation's EntryReader trait so more than one
// transport (a ZIP archive, a chunked upload) can feed the same import path.
// Next returns io.EOF once exhausted.
type EntryReader interface {
	Next() (name string, r io.Reader, err error)
}

// ZipEntryReader adapts a *zip.Reader to EntryReader, grounded on the
// zip_reader_wrapper used by the original implementation's importer and on
// syncthing's archive/zip usage in its support-bundle exporter.
type ZipEntryReader struct {
	files []*zip.File
	pos   int
	open  io.ReadCloser
}

// NewZipEntryReader wraps r for use as an EntryReader.
func NewZipEntryReader(r *zip.Reader) *ZipEntryReader {
	return &ZipEntryReader{files: r.File}
}

// Next opens the next file in the archive. The reader returned by the
// previous call is closed before the new one is opened.
func (z *ZipEntryReader) Next() (string, io.Reader, error) {
	if z.open != nil {
		z.open.Close()
		z.open = nil
	}
	if z.pos >= len(z.files) {
		return "", nil, io.EOF
	}
	f := z.files[z.pos]
	z.pos++
	rc, err := f.Open()
	if err != nil {
		return "", nil, err
	}
	z.open = rc
	return f.Name, rc, nil
}

// MergeStrategy selects how Import resolves recipe-ID and variable conflicts
// when a staged import collides with the live store (spec §4.9).
type MergeStrategy int

const (
	// MergeUnspecified fails if any recipe-ID or variable conflict exists,
	// returning a resumable *Import the caller can retry with a real
	// strategy.
	MergeUnspecified MergeStrategy = iota
	// MergeDuplicate mints a fresh unique ID for each conflicting recipe and
	// keeps the store's existing variable bindings where they conflict.
	MergeDuplicate
	// MergeReplace supplants conflicting recipes outright and resolves
	// variable conflicts in favor of the import.
	MergeReplace
)

// Export writes id's recipe, its devices' file trees, and a variables.json
// of exactly the variables it transitively references to w as a ZIP (spec
// §4.9). Grounded on writeZip in syncthing's support-bundle exporter.
func (s *Service) Export(w io.Writer, id RecipeID) error {
	s.store.Lock()
	r, ok := s.store.Get(id)
	if !ok {
		s.store.Unlock()
		return newTxErr(ErrUnknownRecipeID, id, DeviceIDNone, fmt.Errorf("recipe %q does not exist", id))
	}
	exported := r.Clone()

	names := make(map[string]bool)
	exported.Devices.Range(func(_ DeviceID, cfg *DeviceConfig) bool {
		for _, n := range referencedVariableNames(cfg.Params) {
			names[n] = true
		}
		return true
	})

	vars := make(Variables, len(names))
	var missing []string
	for n := range names {
		v, ok := s.store.variables[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		vars[n] = v
	}
	s.store.Unlock()

	if len(missing) > 0 {
		return &VariableError{Reason: fmt.Sprintf("export: unresolved variable reference(s): %v", missing)}
	}

	zw := zip.NewWriter(w)

	recipeJSON, err := json.MarshalIndent(exported, "", "  ")
	if err != nil {
		return err
	}
	if err := writeZipEntry(zw, string(id)+"/recipe.json", recipeJSON); err != nil {
		return err
	}

	varsJSON, err := json.MarshalIndent(vars, "", "  ")
	if err != nil {
		return err
	}
	if err := writeZipEntry(zw, "variables.json", varsJSON); err != nil {
		return err
	}

	var walkErr error
	exported.Devices.Range(func(devID DeviceID, _ *DeviceConfig) bool {
		devDir := s.devicePath(devID)
		if _, err := os.Stat(devDir); err != nil {
			return true
		}
		walkErr = filepath.Walk(devDir, func(path string, fi os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if fi.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(devDir, path)
			if err != nil {
				return err
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return err
			}
			name := fmt.Sprintf("%s/%s/%s", id, devID, filepath.ToSlash(rel))
			return writeZipEntry(zw, name, data)
		})
		return walkErr == nil
	})
	if walkErr != nil {
		zw.Close()
		return newTxErr(ErrFileSystemError, id, DeviceIDNone, walkErr)
	}

	return zw.Close()
}

func writeZipEntry(zw *zip.Writer, name string, data []byte) error {
	f, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	return err
}

// stagedImport is phase 1's output (spec §4.9): decoded recipes, the
// variables they carry, and a staging directory containing their devices'
// files, laid out exactly as Service's own device directories are (one
// subdirectory per device ID, directly under the staging root), so phase 3
// can move it into place with a plain directory copy.
type stagedImport struct {
	recipes    map[RecipeID]*Recipe
	variables  Variables
	stagingDir string
}

func (st *stagedImport) cleanup() {
	if st != nil && st.stagingDir != "" {
		os.RemoveAll(st.stagingDir)
	}
}

// materializeImport runs phase 1 of spec §4.9: every entry is decoded and
// written into a fresh temporary directory. variables.json must appear;
// files whose first path segment is not a valid RecipeId, or whose second
// segment is neither recipe.json nor a valid DeviceId, are rejected.
func materializeImport(r EntryReader) (*stagedImport, error) {
	stagingDir, err := os.MkdirTemp("", "pilatus-import-*")
	if err != nil {
		return nil, &ImportError{Kind: ErrImportInvalidFormat, Err: err}
	}

	fail := func(err error) (*stagedImport, error) {
		os.RemoveAll(stagingDir)
		return nil, &ImportError{Kind: ErrImportInvalidFormat, Err: err}
	}

	recipes := make(map[RecipeID]*Recipe)
	var variables Variables
	sawVariables := false

	for {
		name, rd, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fail(err)
		}

		if name == "variables.json" {
			data, err := readBounded(rd)
			if err != nil {
				return fail(fmt.Errorf("variables.json: %w", err))
			}
			if err := json.Unmarshal(data, &variables); err != nil {
				return fail(fmt.Errorf("variables.json: %w", err))
			}
			sawVariables = true
			continue
		}

		segs := strings.Split(name, "/")
		if len(segs) < 2 {
			return fail(fmt.Errorf("entry %q must be in a recipe subfolder", name))
		}
		recipeID, err := NewRecipeID(segs[0])
		if err != nil {
			return fail(fmt.Errorf("entry %q: %w", name, err))
		}

		if segs[1] == "recipe.json" {
			if len(segs) != 2 {
				return fail(fmt.Errorf("%s/recipe.json must not be nested", recipeID))
			}
			data, err := readBounded(rd)
			if err != nil {
				return fail(fmt.Errorf("%s/recipe.json: %w", recipeID, err))
			}
			var rec Recipe
			if err := json.Unmarshal(data, &rec); err != nil {
				return fail(fmt.Errorf("%s/recipe.json: %w", recipeID, err))
			}
			recipes[recipeID] = &rec
			continue
		}

		devID, err := ParseDeviceID(segs[1])
		if err != nil {
			return fail(fmt.Errorf("entry %q: second segment must be recipe.json or a device id: %w", name, err))
		}
		if len(segs) < 3 {
			return fail(fmt.Errorf("entry %q has no file name under device %s", name, devID))
		}
		relParts := segs[2:]
		for _, p := range relParts {
			if p == "" || p == "." || p == ".." {
				return fail(fmt.Errorf("entry %q contains an invalid path segment", name))
			}
		}

		dest := filepath.Join(append([]string{stagingDir, devID.String()}, relParts...)...)
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return fail(err)
		}
		if err := writeStagedFile(dest, rd); err != nil {
			return fail(fmt.Errorf("entry %q: %w", name, err))
		}
	}

	if !sawVariables {
		return fail(fmt.Errorf("variables.json not found"))
	}

	return &stagedImport{recipes: recipes, variables: variables, stagingDir: stagingDir}, nil
}

func readBounded(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxImportEntrySize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxImportEntrySize {
		return nil, fmt.Errorf("entry exceeds %d byte limit", maxImportEntrySize)
	}
	return data, nil
}

func writeStagedFile(dest string, r io.Reader) error {
	f, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	n, err := io.Copy(f, io.LimitReader(r, maxImportEntrySize+1))
	if err != nil {
		return err
	}
	if n > maxImportEntrySize {
		return fmt.Errorf("staged file exceeds %d byte limit", maxImportEntrySize)
	}
	return nil
}

// Import is the resumable importer spec §4.9 returns whenever a staged
// import's conflicts require a merge-strategy decision. Apply must be
// called at most once; calling it again returns an error instead of
// re-running phase 2.
type Import struct {
	service *Service
	staged  *stagedImport
	applied bool
}

// Close discards a resumable Import's staging directory without applying
// it. Safe to call on an already-applied or already-closed Import.
func (imp *Import) Close() error {
	if imp == nil || imp.staged == nil {
		return nil
	}
	err := os.RemoveAll(imp.staged.stagingDir)
	imp.staged = nil
	return err
}

// RecipeIDs returns the set of recipe IDs staged by this import.
func (imp *Import) RecipeIDs() []RecipeID {
	ids := make([]RecipeID, 0, len(imp.staged.recipes))
	for id := range imp.staged.recipes {
		ids = append(ids, id)
	}
	return ids
}

// Import runs phases 1 and 2 of spec §4.9 against r, committing immediately
// if strategy resolves every conflict. If conflicts exist and strategy is
// MergeUnspecified, the returned error is an *ImportError of kind
// ErrImportConflicts carrying a resumable Import via its Resumable field.
func (s *Service) Import(r EntryReader, strategy MergeStrategy) error {
	staged, err := materializeImport(r)
	if err != nil {
		return err
	}
	imp := &Import{service: s, staged: staged}
	return imp.Apply(strategy)
}

// Apply runs phase 2 (conflict detection, under the store lock) and, if
// strategy resolves every conflict, phase 3 (commit) of an import.
func (imp *Import) Apply(strategy MergeStrategy) error {
	if imp.applied {
		return fmt.Errorf("import: Apply already called")
	}
	s := imp.service

	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()

	for id := range imp.staged.recipes {
		if id == candidate.activeID {
			imp.applied = true
			imp.Close()
			return &ImportError{Kind: ErrImportContainsActiveRecipe, RecipeA: id}
		}
	}

	owners := make(map[DeviceID]RecipeID)
	candidate.all.Range(func(rid RecipeID, r *Recipe) bool {
		r.Devices.Range(func(did DeviceID, _ *DeviceConfig) bool {
			owners[did] = rid
			return true
		})
		return true
	})
	for rid, r := range imp.staged.recipes {
		var conflictErr error
		r.Devices.Range(func(did DeviceID, _ *DeviceConfig) bool {
			if existing, ok := owners[did]; ok && existing != rid {
				conflictErr = &ImportError{Kind: ErrImportExistingDeviceInOtherRecipe, Device: did, RecipeA: existing, RecipeB: rid}
				return false
			}
			owners[did] = rid
			return true
		})
		if conflictErr != nil {
			imp.applied = true
			imp.Close()
			return conflictErr
		}
	}

	var recipeConflicts []RecipeID
	for id := range imp.staged.recipes {
		if candidate.all.Has(id) {
			recipeConflicts = append(recipeConflicts, id)
		}
	}
	_, variableConflicts := candidate.variables.Add(imp.staged.variables)

	if strategy == MergeUnspecified {
		if len(recipeConflicts) > 0 || len(variableConflicts) > 0 {
			// Leave applied false and the staging dir intact: the caller is
			// expected to call Apply again with a real strategy.
			return &ImportError{
				Kind:               ErrImportConflicts,
				ConflictingRecipes: recipeConflicts,
				VariableConflicts:  variableConflicts,
				Resumable:          imp,
			}
		}
		imp.applied = true
		merged, _ := candidate.variables.Add(imp.staged.variables)
		candidate.variables = merged
		for id, r := range imp.staged.recipes {
			candidate.all.Set(id, r)
		}
		return imp.commit(candidate)
	}

	imp.applied = true
	switch strategy {
	case MergeDuplicate:
		merged, _ := candidate.variables.Add(imp.staged.variables)
		candidate.variables = merged
		for id, r := range imp.staged.recipes {
			finalID := id
			if candidate.all.Has(id) {
				finalID = candidate.GetUniqueID(string(id))
			}
			candidate.all.Set(finalID, r)
		}
		return imp.commit(candidate)

	case MergeReplace:
		candidate.variables = candidate.variables.Patch(imp.staged.variables)
		for id, r := range imp.staged.recipes {
			if existing, ok := candidate.all.Get(id); ok {
				existing.Devices.Range(func(did DeviceID, _ *DeviceConfig) bool {
					os.RemoveAll(s.devicePath(did))
					return true
				})
			}
			candidate.all.Set(id, r)
		}
		return imp.commit(candidate)

	default:
		imp.Close()
		return fmt.Errorf("import: unknown merge strategy %d", strategy)
	}
}

// commit runs phase 3: move staged device directories into the live recipes
// root, then persist and adopt candidate. A failure here is reported as
// ErrImportIrreversible per spec §4.9, since files may already have moved.
func (imp *Import) commit(candidate *Store) error {
	s := imp.service
	defer imp.Close()

	entries, err := os.ReadDir(imp.staged.stagingDir)
	if err != nil {
		return &ImportError{Kind: ErrImportIrreversible, Err: err}
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		src := filepath.Join(imp.staged.stagingDir, e.Name())
		dst := filepath.Join(s.root, e.Name())
		os.RemoveAll(dst)
		if err := copyDir(src, dst); err != nil {
			return &ImportError{Kind: ErrImportIrreversible, Err: err}
		}
	}

	var recipeID RecipeID
	if len(imp.staged.recipes) == 1 {
		for id := range imp.staged.recipes {
			recipeID = id
		}
	}
	if _, err := s.commit(candidate, ChangeImportApplied, recipeID); err != nil {
		return &ImportError{Kind: ErrImportIrreversible, Err: err}
	}
	s.log.WithField("recipes", len(imp.staged.recipes)).Info("recipes imported")
	return nil
}
