package recipe

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/pilatus-run/pilatus/logging"
)

// DeviceValidator is satisfied by the device package's handler registry. It
// is declared here, rather than imported, so that recipe stays free of a
// dependency on device (which itself depends on recipe's types).
type DeviceValidator interface {
	Validate(deviceType string, id DeviceID, resolved ParamsWithoutVariables) error
}

// ActiveNotifier pushes freshly resolved parameters into a running device,
// if one exists for id in the currently spawned generation. It is satisfied
// by device.Notifier; Service calls it after any transaction that
// changes a device's resolved parameters.
type ActiveNotifier interface {
	ApplyParams(id DeviceID, resolved ParamsWithoutVariables) error
}

// noopNotifier is used until AttachNotifier installs a real notifier.
type noopNotifier struct{}

func (noopNotifier) ApplyParams(DeviceID, ParamsWithoutVariables) error { return nil }

// changeBroadcaster fans out a transaction's UUID to every subscriber after
// it commits to disk. Modeled on the subscribe/unsubscribe list syncthing's
// config.Wrapper keeps for its Committers, simplified: this package has no
// notion of a two-phase verify/commit handshake, just fire-and-forget
// notification.
type changeBroadcaster struct {
	mu   sync.Mutex
	subs map[int]chan uuid.UUID
	next int
}

func newChangeBroadcaster() *changeBroadcaster {
	return &changeBroadcaster{subs: make(map[int]chan uuid.UUID)}
}

// Subscribe returns a channel receiving one uuid.UUID per committed
// transaction, and a token to pass to Unsubscribe. The channel is buffered;
// a slow subscriber drops events rather than blocking transactions.
func (b *changeBroadcaster) Subscribe() (<-chan uuid.UUID, int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan uuid.UUID, 16)
	id := b.next
	b.next++
	b.subs[id] = ch
	return ch, id
}

func (b *changeBroadcaster) Unsubscribe(token int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[token]; ok {
		close(ch)
		delete(b.subs, token)
	}
}

func (b *changeBroadcaster) broadcast(txID uuid.UUID) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- txID:
		default:
		}
	}
}

// Service is the transactional recipe service described in spec §4.7: it
// wraps a Store with validation, on-disk persistence of recipes.json and
// per-device file trees, and change-event broadcast. All mutating methods
// take the store's lock for the whole transaction, validate the proposed
// state before touching disk, and leave both the store and recipes.json
// untouched if anything fails.
type Service struct {
	store     *Store
	root      string
	validator DeviceValidator
	notifier  ActiveNotifier
	log       *logrus.Entry
	changes   *changeBroadcaster
	feed      *changeFeed
}

// NewService opens (or bootstraps) the recipe store rooted at root,
// creating root if it does not exist; recipes.json and per-device
// directories are created directly under it.
func NewService(root string, validator DeviceValidator) (*Service, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("recipe service: %w", err)
	}

	store, err := LoadStore(root)
	if os.IsNotExist(err) {
		store = NewStore()
		store.Bootstrap()
	} else if err != nil {
		return nil, fmt.Errorf("recipe service: %w", err)
	}

	svc := &Service{
		store:     store,
		root:      root,
		validator: validator,
		notifier:  noopNotifier{},
		log:       logging.Get("recipe"),
		changes:   newChangeBroadcaster(),
		feed:      newChangeFeed(),
	}
	if os.IsNotExist(err) {
		if perr := svc.persistLocked(store); perr != nil {
			return nil, fmt.Errorf("recipe service: bootstrap: %w", perr)
		}
	}
	return svc, nil
}

// AttachNotifier wires the live-apply hook (normally a device.Notifier) in
// after construction, avoiding an import cycle between recipe and device.
func (s *Service) AttachNotifier(n ActiveNotifier) { s.notifier = n }

// Subscribe registers for change notifications; see changeBroadcaster.
func (s *Service) Subscribe() (<-chan uuid.UUID, int) { return s.changes.Subscribe() }

// Unsubscribe removes a prior Subscribe registration.
func (s *Service) Unsubscribe(token int) { s.changes.Unsubscribe(token) }

// ChangeEvent resolves a transaction UUID received off the Subscribe
// channel into its content — the follow-up call spec §6 describes. It
// returns false once the event has fallen out of the feed's TTL window.
func (s *Service) ChangeEvent(txID uuid.UUID) (ChangeEvent, bool) { return s.feed.get(txID) }

// Root returns the recipes root directory.
func (s *Service) Root() string { return s.root }

func (s *Service) recipesPath() string { return filepath.Join(s.root, RecipesFileName) }

func (s *Service) devicePath(id DeviceID) string { return filepath.Join(s.root, id.String()) }

// persistLocked marshals candidate and writes it to recipes.json. Caller
// must hold s.store's lock.
func (s *Service) persistLocked(candidate *Store) error {
	data, err := candidate.Marshal()
	if err != nil {
		return newTxErr(ErrOther, candidate.activeID, DeviceIDNone, err)
	}
	if err := writeAtomic(s.recipesPath(), data); err != nil {
		return newTxErr(ErrFileSystemError, candidate.activeID, DeviceIDNone, err)
	}
	return nil
}

// commit persists candidate, and only on success adopts it into the live
// store, records the transaction's ChangeEvent in the feed, and broadcasts
// the fresh transaction id. recipeID is left empty for transactions that
// touch more than one recipe (see ChangeImportApplied).
func (s *Service) commit(candidate *Store, kind string, recipeID RecipeID) (uuid.UUID, error) {
	if err := s.persistLocked(candidate); err != nil {
		return uuid.UUID{}, err
	}
	s.store.adopt(candidate)
	txID := uuid.New()
	s.feed.record(ChangeEvent{TxID: txID, Kind: kind, RecipeID: recipeID})
	s.changes.broadcast(txID)
	return txID, nil
}

// Snapshot returns the active recipe id, a deep copy of the active recipe,
// and a copy of the current variable bindings, for the runner to spawn
// devices from (spec §4.8).
func (s *Service) Snapshot() (RecipeID, *Recipe, Variables) {
	s.store.Lock()
	defer s.store.Unlock()

	active, _ := s.store.Active()
	vars := make(Variables, len(s.store.variables))
	for k, v := range s.store.variables {
		vars[k] = v
	}
	if active == nil {
		return s.store.activeID, NewRecipe(), vars
	}
	return s.store.activeID, active.Clone(), vars
}

// Variables returns a copy of the current variable bindings.
func (s *Service) Variables() Variables {
	s.store.Lock()
	defer s.store.Unlock()
	out := make(Variables, len(s.store.variables))
	for k, v := range s.store.variables {
		out[k] = v
	}
	return out
}

// Get returns a deep copy of the named recipe.
func (s *Service) Get(id RecipeID) (*Recipe, bool) {
	s.store.Lock()
	defer s.store.Unlock()
	r, ok := s.store.Get(id)
	if !ok {
		return nil, false
	}
	return r.Clone(), true
}

// List returns every recipe ID in insertion order.
func (s *Service) List() []RecipeID {
	s.store.Lock()
	defer s.store.Unlock()
	return s.store.All().Keys()
}

// ActiveID returns the active recipe's ID.
func (s *Service) ActiveID() RecipeID {
	s.store.Lock()
	defer s.store.Unlock()
	return s.store.ActiveID()
}

// HasActiveChanges reports whether the active recipe has uncommitted edits.
func (s *Service) HasActiveChanges() bool {
	s.store.Lock()
	defer s.store.Unlock()
	return s.store.HasActiveChanges()
}

// AddRecipe creates a new, empty recipe named id (or a disambiguated
// variant of it if id is already taken) tagged with tags.
func (s *Service) AddRecipe(id string, tags []Name) (RecipeID, error) {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	newID := candidate.GetUniqueID(id)
	r := NewRecipe()
	for _, t := range tags {
		r.AddTag(t)
	}
	candidate.all.Set(newID, r)

	if _, err := s.commit(candidate, ChangeRecipeAdded, newID); err != nil {
		return "", err
	}
	s.log.WithField("recipe", newID).Info("recipe added")
	return newID, nil
}

// DeleteRecipe removes a recipe and its devices' file trees. It refuses to
// delete the active recipe (spec §8 invariant: the active recipe always
// exists).
func (s *Service) DeleteRecipe(id RecipeID) error {
	s.store.Lock()
	defer s.store.Unlock()

	if id == s.store.activeID {
		return newTxErr(ErrInvalidDeviceConfig, id, DeviceIDNone, fmt.Errorf("cannot delete the active recipe"))
	}
	r, ok := s.store.Get(id)
	if !ok {
		return newTxErr(ErrUnknownRecipeID, id, DeviceIDNone, fmt.Errorf("recipe %q does not exist", id))
	}

	candidate := s.store.snapshot()
	candidate.all.Delete(id)
	if _, err := s.commit(candidate, ChangeRecipeDeleted, id); err != nil {
		return err
	}

	r.Devices.Range(func(devID DeviceID, _ *DeviceConfig) bool {
		if err := os.RemoveAll(s.devicePath(devID)); err != nil {
			s.log.WithError(err).WithField("device", devID).Warn("failed to remove device directory")
		}
		return true
	})
	s.log.WithField("recipe", id).Info("recipe deleted")
	return nil
}

// DuplicateRecipe deep-copies a recipe under a fresh ID, minting fresh
// device IDs and deep-copying each device's on-disk file tree (spec §4.7,
// §8 invariant 5).
func (s *Service) DuplicateRecipe(id RecipeID) (RecipeID, error) {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	newID, newRecipe, idMap, err := candidate.Duplicate(id)
	if err != nil {
		return "", err
	}
	candidate.all.Set(newID, newRecipe)

	for oldID, newDevID := range idMap {
		src := s.devicePath(oldID)
		if _, statErr := os.Stat(src); statErr != nil {
			continue
		}
		if err := copyDir(src, s.devicePath(newDevID)); err != nil {
			return "", newTxErr(ErrFileSystemError, id, oldID, err)
		}
	}

	if _, err := s.commit(candidate, ChangeRecipeDuplicated, newID); err != nil {
		return "", err
	}
	s.log.WithFields(logrus.Fields{"from": id, "to": newID}).Info("recipe duplicated")
	return newID, nil
}

// RenameRecipe moves a recipe to a new ID, preserving its position and
// updating the active pointer if the active recipe is the one renamed.
func (s *Service) RenameRecipe(from, to RecipeID) error {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	if candidate.all.Has(to) {
		return newTxErr(ErrRecipeAlreadyExists, to, DeviceIDNone, fmt.Errorf("recipe %q already exists", to))
	}
	if err := candidate.all.Rename(from, to); err != nil {
		return newTxErr(ErrUnknownRecipeID, from, DeviceIDNone, err)
	}
	if candidate.activeID == from {
		candidate.activeID = to
	}

	if _, err := s.commit(candidate, ChangeRecipeRenamed, to); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{"from": from, "to": to}).Info("recipe renamed")
	return nil
}

// ActivateRecipe switches the active recipe, refusing if the current active
// recipe has uncommitted changes (spec §8 invariant 3).
func (s *Service) ActivateRecipe(id RecipeID) error {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	if err := candidate.SetActive(id); err != nil {
		return err
	}
	if _, err := s.commit(candidate, ChangeRecipeActivated, id); err != nil {
		return err
	}
	s.log.WithField("recipe", id).Info("recipe activated")
	return nil
}

// AddDevice inserts a new device into recipeID after validating params
// against the store's current variables.
func (s *Service) AddDevice(recipeID RecipeID, deviceType string, name Name, params ParamsWithVariables) (DeviceID, error) {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	r, ok := candidate.all.Get(recipeID)
	if !ok {
		return DeviceIDNone, newTxErr(ErrUnknownRecipeID, recipeID, DeviceIDNone, fmt.Errorf("recipe %q does not exist", recipeID))
	}

	resolved, _, err := Resolve(params, candidate.variables)
	if err != nil {
		return DeviceIDNone, newTxErr(ErrInvalidDeviceConfig, recipeID, DeviceIDNone, err)
	}
	id := NewDeviceID()
	if s.validator != nil {
		if err := s.validator.Validate(deviceType, id, resolved); err != nil {
			return DeviceIDNone, newTxErr(ErrInvalidDeviceConfig, recipeID, id, &ValidationError{DeviceType: deviceType, DeviceID: id, Err: err})
		}
	}

	r.Devices.Set(id, &DeviceConfig{DeviceType: deviceType, DeviceName: name, Params: params})

	if _, err := s.commit(candidate, ChangeDeviceAdded, recipeID); err != nil {
		return DeviceIDNone, err
	}
	s.log.WithFields(logrus.Fields{"recipe": recipeID, "device": id, "type": deviceType}).Info("device added")
	return id, nil
}

// RemoveDevice deletes a device from recipeID and removes its file tree.
func (s *Service) RemoveDevice(recipeID RecipeID, deviceID DeviceID) error {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	r, ok := candidate.all.Get(recipeID)
	if !ok {
		return newTxErr(ErrUnknownRecipeID, recipeID, DeviceIDNone, fmt.Errorf("recipe %q does not exist", recipeID))
	}
	r.Devices.Delete(deviceID)

	if _, err := s.commit(candidate, ChangeDeviceRemoved, recipeID); err != nil {
		return err
	}
	if err := os.RemoveAll(s.devicePath(deviceID)); err != nil {
		s.log.WithError(err).WithField("device", deviceID).Warn("failed to remove device directory")
	}
	s.log.WithFields(logrus.Fields{"recipe": recipeID, "device": deviceID}).Info("device removed")
	return nil
}

// UpdateDeviceParams sets a device's working (uncommitted) parameters,
// validating the resolved result before accepting it. If the device belongs
// to the active recipe, the notifier is asked to apply the change live.
func (s *Service) UpdateDeviceParams(recipeID RecipeID, deviceID DeviceID, params ParamsWithVariables) error {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	r, ok := candidate.all.Get(recipeID)
	if !ok {
		return newTxErr(ErrUnknownRecipeID, recipeID, DeviceIDNone, fmt.Errorf("recipe %q does not exist", recipeID))
	}
	cfg, ok := r.Devices.Get(deviceID)
	if !ok {
		return newTxErr(ErrUnknownRecipeID, recipeID, deviceID, fmt.Errorf("device %s not in recipe %q", deviceID, recipeID))
	}

	resolved, _, err := Resolve(params, candidate.variables)
	if err != nil {
		return newTxErr(ErrInvalidDeviceConfig, recipeID, deviceID, err)
	}
	if s.validator != nil {
		if err := s.validator.Validate(cfg.DeviceType, deviceID, resolved); err != nil {
			return newTxErr(ErrInvalidDeviceConfig, recipeID, deviceID, &ValidationError{DeviceType: cfg.DeviceType, DeviceID: deviceID, Err: err})
		}
	}
	cfg.Params = params

	if _, err := s.commit(candidate, ChangeDeviceParamsUpdated, recipeID); err != nil {
		return err
	}

	if recipeID == s.store.activeID {
		if err := s.notifier.ApplyParams(deviceID, resolved); err != nil {
			s.log.WithError(err).WithField("device", deviceID).Warn("failed to apply params to running device")
		}
	}
	return nil
}

// CommitDeviceParams copies a device's working parameters into its
// committed snapshot (spec §3's committed/uncommitted distinction).
func (s *Service) CommitDeviceParams(recipeID RecipeID, deviceID DeviceID) error {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	r, ok := candidate.all.Get(recipeID)
	if !ok {
		return newTxErr(ErrUnknownRecipeID, recipeID, DeviceIDNone, fmt.Errorf("recipe %q does not exist", recipeID))
	}
	cfg, ok := r.Devices.Get(deviceID)
	if !ok {
		return newTxErr(ErrUnknownRecipeID, recipeID, deviceID, fmt.Errorf("device %s not in recipe %q", deviceID, recipeID))
	}
	committed := cfg.Params
	cfg.CommittedParams = &committed

	if recipeID == candidate.activeID {
		candidate.activeBackup = r.Clone()
	}

	_, err := s.commit(candidate, ChangeDeviceParamsCommitted, recipeID)
	return err
}

// RestoreDeviceParams discards a device's uncommitted edits, reverting
// Params to the last CommittedParams.
func (s *Service) RestoreDeviceParams(recipeID RecipeID, deviceID DeviceID) error {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	r, ok := candidate.all.Get(recipeID)
	if !ok {
		return newTxErr(ErrUnknownRecipeID, recipeID, DeviceIDNone, fmt.Errorf("recipe %q does not exist", recipeID))
	}
	cfg, ok := r.Devices.Get(deviceID)
	if !ok {
		return newTxErr(ErrUnknownRecipeID, recipeID, deviceID, fmt.Errorf("device %s not in recipe %q", deviceID, recipeID))
	}
	if cfg.CommittedParams == nil {
		return newTxErr(ErrOther, recipeID, deviceID, fmt.Errorf("device %s has no committed params to restore", deviceID))
	}
	cfg.Params = *cfg.CommittedParams

	_, err := s.commit(candidate, ChangeDeviceParamsRestored, recipeID)
	return err
}

// CommitActiveRecipe snapshots the active recipe's current state as its new
// backup, clearing HasActiveChanges.
func (s *Service) CommitActiveRecipe() error {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	active, ok := candidate.Active()
	if !ok {
		return newTxErr(ErrUnknownRecipeID, candidate.activeID, DeviceIDNone, fmt.Errorf("no active recipe"))
	}
	candidate.activeBackup = active.Clone()

	_, err := s.commit(candidate, ChangeActiveRecipeCommitted, candidate.activeID)
	return err
}

// UpdateVariables applies patch to the store's variable table, validating
// every affected device (across every recipe, plus the active backup)
// before committing. If any device rejects its newly resolved parameters,
// the whole patch is refused and nothing changes (spec §8 invariant 4).
func (s *Service) UpdateVariables(patch Variables) error {
	s.store.Lock()
	defer s.store.Unlock()

	candidate := s.store.snapshot()
	usages := candidate.FindVariableUsage(patch)
	newVars := candidate.variables.Patch(patch)

	for _, u := range usages {
		resolved, _, err := Resolve(u.Params, newVars)
		if err != nil {
			return newTxErr(ErrInvalidVariable, u.Recipe, u.Device, err)
		}
		if s.validator != nil {
			if err := s.validator.Validate(u.DeviceType, u.Device, resolved); err != nil {
				return newTxErr(ErrInvalidVariable, u.Recipe, u.Device, &ValidationError{DeviceType: u.DeviceType, DeviceID: u.Device, Err: err})
			}
		}
	}
	candidate.variables = newVars

	if _, err := s.commit(candidate, ChangeVariablesUpdated, RecipeID("")); err != nil {
		return err
	}

	for _, u := range usages {
		if u.Recipe != s.store.activeID {
			continue
		}
		resolved, _, err := Resolve(u.Params, s.store.variables)
		if err != nil {
			continue
		}
		if err := s.notifier.ApplyParams(u.Device, resolved); err != nil {
			s.log.WithError(err).WithField("device", u.Device).Warn("failed to apply variable patch to running device")
		}
	}
	s.log.WithField("count", len(patch)).Info("variables updated")
	return nil
}

// copyDir recursively copies a device's file tree, used by DuplicateRecipe
// and the importer.
func copyDir(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if info.IsDir() {
			return os.MkdirAll(target, info.Mode())
		}
		return copyFile(path, target, info.Mode())
	})
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
