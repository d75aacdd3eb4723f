package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"sync"
	"time"
)

// DeviceConfig is one device's record within a recipe: its type, display
// name, and parameter state. When CommittedParams is non-nil, it holds the
// last known-good parameters and Params is the uncommitted working copy
// (spec §3).
type DeviceConfig struct {
	DeviceType      string               `json:"device_type"`
	DeviceName      Name                 `json:"device_name"`
	Params          ParamsWithVariables  `json:"params"`
	CommittedParams *ParamsWithVariables `json:"committed_params,omitempty"`
}

// Equal reports deep-value equality between two device configs, used for
// uncommitted-change detection (spec §8 invariant 3).
func (c *DeviceConfig) Equal(other *DeviceConfig) bool {
	if c == nil || other == nil {
		return c == other
	}
	if c.DeviceType != other.DeviceType || c.DeviceName != other.DeviceName {
		return false
	}
	if !jsonDeepEqual(c.Params, other.Params) {
		return false
	}
	switch {
	case c.CommittedParams == nil && other.CommittedParams == nil:
		return true
	case c.CommittedParams == nil || other.CommittedParams == nil:
		return false
	default:
		return jsonDeepEqual(*c.CommittedParams, *other.CommittedParams)
	}
}

func jsonDeepEqual(a, b ParamsWithVariables) bool {
	var va, vb interface{}
	if err := json.Unmarshal(a, &va); err != nil {
		return bytes.Equal(a, b)
	}
	if err := json.Unmarshal(b, &vb); err != nil {
		return false
	}
	return reflect.DeepEqual(va, vb)
}

// Recipe is a named, ordered collection of device configurations plus tags
// and a creation timestamp (spec §3).
type Recipe struct {
	Created time.Time       `json:"created"`
	Tags    []Name          `json:"tags"`
	Devices *OrderedDevices `json:"devices"`
}

// NewRecipe creates an empty recipe, stamped with the current time.
func NewRecipe() *Recipe {
	return &Recipe{
		Created: time.Now().UTC(),
		Devices: NewOrderedDevices(),
	}
}

// Equal reports device-by-device equality between two recipes, per spec §8
// invariant 3's definition of has_active_changes.
func (r *Recipe) Equal(other *Recipe) bool {
	if r == nil || other == nil {
		return r == other
	}
	return r.Devices.Equal(other.Devices)
}

// Clone performs a deep copy of the recipe.
func (r *Recipe) Clone() *Recipe {
	out := &Recipe{
		Created: r.Created,
		Tags:    append([]Name{}, r.Tags...),
		Devices: r.Devices.Clone(),
	}
	return out
}

// AddTag adds name to the recipe's tag set if not already present.
func (r *Recipe) AddTag(name Name) {
	for _, t := range r.Tags {
		if t == name {
			return
		}
	}
	r.Tags = append(r.Tags, name)
}

// VariableUsage names one device whose parameters reference an affected
// variable, as returned by Store.FindVariableUsage.
type VariableUsage struct {
	Recipe     RecipeID
	DeviceType string
	Device     DeviceID
	Params     ParamsWithVariables
}

// Store is the in-memory, mutex-guarded recipe database described in spec
// §3 as "Recipes." It exclusively owns all recipes and variables; running
// devices never hold a reference back into it. Callers performing a
// multi-step transaction should call Lock/Unlock around the whole sequence
// (spec §4.6/§4.7); the few read-only convenience methods lock internally.
type Store struct {
	sync.Mutex

	activeID     RecipeID
	activeBackup *Recipe
	all          *OrderedRecipes
	variables    Variables
}

// NewStore creates an empty store. Callers must call Bootstrap or load one
// from disk before use, since a store is invalid without an active recipe.
func NewStore() *Store {
	return &Store{
		all:       NewOrderedRecipes(),
		variables: make(Variables),
	}
}

// Bootstrap seeds a brand-new store with a single empty "default" recipe,
// set as active.
func (s *Store) Bootstrap() {
	id := RecipeID("default")
	r := NewRecipe()
	s.all.Set(id, r)
	s.activeID = id
	s.activeBackup = r.Clone()
}

// ActiveID returns the currently active recipe's ID. Caller must hold the
// lock.
func (s *Store) ActiveID() RecipeID { return s.activeID }

// Active returns the currently active recipe. Caller must hold the lock.
func (s *Store) Active() (*Recipe, bool) {
	return s.all.Get(s.activeID)
}

// ActiveBackup returns the last committed snapshot of the active recipe.
// Caller must hold the lock.
func (s *Store) ActiveBackup() *Recipe { return s.activeBackup }

// Get returns the recipe for id. Caller must hold the lock.
func (s *Store) Get(id RecipeID) (*Recipe, bool) { return s.all.Get(id) }

// All returns the underlying ordered recipe map. Caller must hold the lock
// and must not mutate the returned map directly outside a transaction.
func (s *Store) All() *OrderedRecipes { return s.all }

// Variables returns the current variable bindings. Caller must hold the
// lock.
func (s *Store) Variables() Variables { return s.variables }

// HasActiveChanges reports whether the active recipe differs from its last
// committed snapshot (spec §8 invariant 3). Caller must hold the lock.
func (s *Store) HasActiveChanges() bool {
	active, ok := s.Active()
	if !ok {
		return false
	}
	return !active.Equal(s.activeBackup)
}

// SetActive switches the active recipe. It fails with UncommittedChanges if
// the current active recipe has edits that were never committed. Caller
// must hold the lock.
func (s *Store) SetActive(id RecipeID) error {
	if !s.all.Has(id) {
		return newTxErr(ErrUnknownRecipeID, id, DeviceIDNone, fmt.Errorf("recipe %q does not exist", id))
	}
	if s.HasActiveChanges() {
		return newTxErr(ErrUncommittedChanges, s.activeID, DeviceIDNone, fmt.Errorf("active recipe %q has uncommitted changes", s.activeID))
	}
	next, _ := s.all.Get(id)
	s.activeID = id
	s.activeBackup = next.Clone()
	return nil
}

// GetUniqueID returns an ID derived from base that does not currently exist
// in the store, appending "_N" (incrementing) until free. If base already
// ends in "_M", numbering continues from M+1 (spec §4.6).
func (s *Store) GetUniqueID(base string) RecipeID {
	if !s.all.Has(RecipeID(base)) {
		return RecipeID(base)
	}
	root, next := trailingCounter(base)
	for {
		candidate := RecipeID(fmt.Sprintf("%s_%d", root, next))
		if !s.all.Has(candidate) {
			return candidate
		}
		next++
	}
}

// FindOwner returns the recipe ID owning device, and whether it was found
// anywhere in the store (spec §8 invariant 1: unique device ownership).
// Caller must hold the lock.
func (s *Store) FindOwner(device DeviceID) (RecipeID, bool) {
	var owner RecipeID
	found := false
	s.all.Range(func(id RecipeID, r *Recipe) bool {
		if _, ok := r.Devices.Get(device); ok {
			owner = id
			found = true
			return false
		}
		return true
	})
	return owner, found
}

// FindVariableUsage returns every device, across every recipe (plus the
// active recipe's last committed snapshot, since it must also stay
// variable-closed per spec §8 invariant 4), whose parameters reference any
// variable name present in patch. Caller must hold the lock.
func (s *Store) FindVariableUsage(patch Variables) []VariableUsage {
	var usages []VariableUsage

	scan := func(recipeID RecipeID, r *Recipe) {
		r.Devices.Range(func(id DeviceID, cfg *DeviceConfig) bool {
			if paramsReferenceAny(cfg.Params, patch) {
				usages = append(usages, VariableUsage{
					Recipe:     recipeID,
					DeviceType: cfg.DeviceType,
					Device:     id,
					Params:     cfg.Params,
				})
			}
			return true
		})
	}

	s.all.Range(func(id RecipeID, r *Recipe) bool {
		scan(id, r)
		return true
	})
	if s.activeBackup != nil {
		scan(s.activeID, s.activeBackup)
	}
	return usages
}

// paramsReferenceAny reports whether any __var reference reachable from p
// names a key present in patch.
func paramsReferenceAny(p ParamsWithVariables, patch Variables) bool {
	var tree interface{}
	if err := json.Unmarshal(p, &tree); err != nil {
		return false
	}
	return referencesAny(tree, patch)
}

func referencesAny(node interface{}, patch Variables) bool {
	switch n := node.(type) {
	case map[string]interface{}:
		if ref, ok := n[VarKeyword]; ok && len(n) == 1 {
			if name, ok := ref.(string); ok {
				if _, inPatch := patch[name]; inPatch {
					return true
				}
			}
			return false
		}
		for _, v := range n {
			if referencesAny(v, patch) {
				return true
			}
		}
	case []interface{}:
		for _, v := range n {
			if referencesAny(v, patch) {
				return true
			}
		}
	}
	return false
}

// CheckVariableClosure verifies spec §8 invariant 4: every __var reference
// reachable from any device's params, across every recipe and the active
// backup, resolves against s.variables. Caller must hold the lock.
func (s *Store) CheckVariableClosure() error {
	var missing []string
	seen := make(map[string]bool)

	check := func(recipeID RecipeID, r *Recipe) {
		r.Devices.Range(func(id DeviceID, cfg *DeviceConfig) bool {
			for _, name := range referencedVariableNames(cfg.Params) {
				if _, ok := s.variables[name]; !ok && !seen[name] {
					seen[name] = true
					missing = append(missing, name)
				}
			}
			return true
		})
	}

	s.all.Range(func(id RecipeID, r *Recipe) bool {
		check(id, r)
		return true
	})
	if s.activeBackup != nil {
		check(s.activeID, s.activeBackup)
	}

	if len(missing) > 0 {
		return &VariableError{Reason: fmt.Sprintf("unresolved variable reference(s): %v", missing)}
	}
	return nil
}

func referencedVariableNames(p ParamsWithVariables) []string {
	var tree interface{}
	if err := json.Unmarshal(p, &tree); err != nil {
		return nil
	}
	var names []string
	collectVariableNames(tree, &names)
	return names
}

func collectVariableNames(node interface{}, out *[]string) {
	switch n := node.(type) {
	case map[string]interface{}:
		if ref, ok := n[VarKeyword]; ok && len(n) == 1 {
			if name, ok := ref.(string); ok {
				*out = append(*out, name)
			}
			return
		}
		for _, v := range n {
			collectVariableNames(v, out)
		}
	case []interface{}:
		for _, v := range n {
			collectVariableNames(v, out)
		}
	}
}

// Duplicate mints a fresh RecipeID and fresh DeviceIDs for a copy of the
// recipe stored at id, rewriting every JSON string that equalled an old
// device ID to the corresponding new one so intra-recipe references (e.g. a
// device's params holding another device's ID as a string) remain valid
// (spec §3, §8 invariant 5). It does not mutate the store or touch the
// filesystem; the caller (recipe service) is responsible for inserting the
// result and copying each device's file tree.
func (s *Store) Duplicate(id RecipeID) (newID RecipeID, newRecipe *Recipe, idMap map[DeviceID]DeviceID, err error) {
	src, ok := s.all.Get(id)
	if !ok {
		return "", nil, nil, newTxErr(ErrUnknownRecipeID, id, DeviceIDNone, fmt.Errorf("recipe %q does not exist", id))
	}

	raw, err := json.Marshal(src)
	if err != nil {
		return "", nil, nil, newTxErr(ErrOther, id, DeviceIDNone, err)
	}

	idMap = make(map[DeviceID]DeviceID)
	src.Devices.Range(func(old DeviceID, _ *DeviceConfig) bool {
		idMap[old] = NewDeviceID()
		return true
	})

	for old, next := range idMap {
		oldQuoted := []byte(fmt.Sprintf("%q", old.String()))
		newQuoted := []byte(fmt.Sprintf("%q", next.String()))
		raw = bytes.ReplaceAll(raw, oldQuoted, newQuoted)
	}

	var rewritten Recipe
	if err := json.Unmarshal(raw, &rewritten); err != nil {
		return "", nil, nil, newTxErr(ErrOther, id, DeviceIDNone, err)
	}
	rewritten.Created = time.Now().UTC()

	newID = s.GetUniqueID(string(id))
	return newID, &rewritten, idMap, nil
}
