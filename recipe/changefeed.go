package recipe

import (
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
)

const (
	changeFeedTTL           = 5 * time.Minute
	changeFeedCleanupPeriod = 10 * time.Minute
)

// Change kinds recorded alongside a transaction's UUID. Subscribers only
// ever see the UUID over the broadcast channel (spec §6); these are the
// values ChangeEvent.Kind takes when a subscriber makes the follow-up call.
const (
	ChangeRecipeAdded           = "recipe_added"
	ChangeRecipeDeleted         = "recipe_deleted"
	ChangeRecipeDuplicated      = "recipe_duplicated"
	ChangeRecipeRenamed         = "recipe_renamed"
	ChangeRecipeActivated       = "recipe_activated"
	ChangeDeviceAdded           = "device_added"
	ChangeDeviceRemoved         = "device_removed"
	ChangeDeviceParamsUpdated   = "device_params_updated"
	ChangeDeviceParamsCommitted = "device_params_committed"
	ChangeDeviceParamsRestored  = "device_params_restored"
	ChangeActiveRecipeCommitted = "active_recipe_committed"
	ChangeVariablesUpdated      = "variables_updated"
	ChangeImportApplied         = "import_applied"
)

// ChangeEvent is the content a subscriber retrieves for a transaction UUID
// it received off the change-event stream. Spec §6 deliberately keeps the
// broadcast itself down to a bare UUID; ChangeEvent is what "content
// retrieval is a follow-up call" resolves to. RecipeID is left empty for
// transactions that touch more than one recipe (an import applying several
// recipes at once).
type ChangeEvent struct {
	TxID     uuid.UUID
	Kind     string
	RecipeID RecipeID
}

// changeFeed keeps recently committed ChangeEvents around under a short TTL
// so a subscriber that was briefly behind can still resolve a UUID it just
// received, without the service having to retain unbounded history.
// Grounded on sdk/cache.go's use of patrickmn/go-cache for short-lived
// reading lookups, repurposed here for transaction metadata instead of
// device readings.
type changeFeed struct {
	cache *gocache.Cache
}

func newChangeFeed() *changeFeed {
	return &changeFeed{cache: gocache.New(changeFeedTTL, changeFeedCleanupPeriod)}
}

func (f *changeFeed) record(ev ChangeEvent) {
	f.cache.SetDefault(ev.TxID.String(), ev)
}

func (f *changeFeed) get(txID uuid.UUID) (ChangeEvent, bool) {
	v, ok := f.cache.Get(txID.String())
	if !ok {
		return ChangeEvent{}, false
	}
	return v.(ChangeEvent), true
}
