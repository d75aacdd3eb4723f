package recipe

import "fmt"

// VariableError reports an unknown variable reference or an ill-formed
// __var object. When the error arises transitively from editing a variable
// that invalidates a device in another recipe, Recipe names that recipe.
type VariableError struct {
	Variable string
	Recipe   RecipeID
	Reason   string
}

func (e *VariableError) Error() string {
	if e.Recipe != "" {
		return fmt.Sprintf("variable error in recipe %q: %s", e.Recipe, e.Reason)
	}
	return fmt.Sprintf("variable error: %s", e.Reason)
}

// ValidationError wraps a device validator's rejection of a parameter set,
// surfaced verbatim as required by spec §7.
type ValidationError struct {
	DeviceType string
	DeviceID   DeviceID
	Err        error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed for device %s (%s): %v", e.DeviceID, e.DeviceType, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// TransactionError is the union of recipe-service transaction failures
// named in spec §7.
type TransactionError struct {
	Kind   TransactionErrorKind
	Recipe RecipeID
	Device DeviceID
	Err    error
}

// TransactionErrorKind enumerates the distinct TransactionError variants.
type TransactionErrorKind int

const (
	// ErrUnknownRecipeID means the named recipe does not exist in the store.
	ErrUnknownRecipeID TransactionErrorKind = iota
	// ErrRecipeAlreadyExists means a recipe with that ID already exists.
	ErrRecipeAlreadyExists
	// ErrUnknownFilePath means a referenced device file path does not exist.
	ErrUnknownFilePath
	// ErrFileSystemError wraps an I/O failure.
	ErrFileSystemError
	// ErrInvalidDeviceConfig means a device's parameters failed validation.
	ErrInvalidDeviceConfig
	// ErrInvalidVariable means a variable patch invalidated some device.
	ErrInvalidVariable
	// ErrUncommittedChanges means the active recipe has uncommitted edits.
	ErrUncommittedChanges
	// ErrOther is a catch-all for transaction failures not otherwise named.
	ErrOther
)

func (k TransactionErrorKind) String() string {
	switch k {
	case ErrUnknownRecipeID:
		return "UnknownRecipeId"
	case ErrRecipeAlreadyExists:
		return "RecipeAlreadyExists"
	case ErrUnknownFilePath:
		return "UnknownFilePath"
	case ErrFileSystemError:
		return "FileSystemError"
	case ErrInvalidDeviceConfig:
		return "InvalidDeviceConfig"
	case ErrInvalidVariable:
		return "InvalidVariable"
	case ErrUncommittedChanges:
		return "UncommittedChanges"
	default:
		return "Other"
	}
}

func (e *TransactionError) Error() string {
	msg := fmt.Sprintf("transaction error %s", e.Kind)
	if e.Recipe != "" {
		msg += fmt.Sprintf(" recipe=%s", e.Recipe)
	}
	if !e.Device.IsNone() {
		msg += fmt.Sprintf(" device=%s", e.Device)
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

func (e *TransactionError) Unwrap() error { return e.Err }

func newTxErr(kind TransactionErrorKind, recipe RecipeID, device DeviceID, err error) *TransactionError {
	return &TransactionError{Kind: kind, Recipe: recipe, Device: device, Err: err}
}

// ImportError is the union of import-path failures named in spec §7/§4.9.
type ImportError struct {
	Kind ImportErrorKind
	Err  error

	// ContainsActiveRecipe / ExistingDeviceInOtherRecipe context.
	Device DeviceID
	RecipeA,
	RecipeB RecipeID

	// Conflicts context, populated when Kind == ErrImportConflicts.
	ConflictingRecipes []RecipeID
	VariableConflicts  []VariableConflict
	Resumable          *Import
}

// ImportErrorKind enumerates the distinct ImportError variants.
type ImportErrorKind int

const (
	// ErrImportInvalidFormat means the ZIP stream did not match the
	// expected layout (missing variables.json, bad paths, oversized entry).
	ErrImportInvalidFormat ImportErrorKind = iota
	// ErrImportContainsActiveRecipe means an imported recipe's ID collides
	// with the store's current active recipe.
	ErrImportContainsActiveRecipe
	// ErrImportExistingDeviceInOtherRecipe means the union of store and
	// import would assign one device ID to two different recipes.
	ErrImportExistingDeviceInOtherRecipe
	// ErrImportConflicts means unresolved conflicts require a merge
	// strategy; Resumable can be used to apply one.
	ErrImportConflicts
	// ErrImportIrreversible means a failure occurred after commit began;
	// the store may be left in a degraded state.
	ErrImportIrreversible
)

func (k ImportErrorKind) String() string {
	switch k {
	case ErrImportInvalidFormat:
		return "InvalidFormat"
	case ErrImportContainsActiveRecipe:
		return "ContainsActiveRecipe"
	case ErrImportExistingDeviceInOtherRecipe:
		return "ExistingDeviceInOtherRecipe"
	case ErrImportConflicts:
		return "Conflicts"
	case ErrImportIrreversible:
		return "Irreversible"
	default:
		return "Unknown"
	}
}

func (e *ImportError) Error() string {
	switch e.Kind {
	case ErrImportContainsActiveRecipe:
		return fmt.Sprintf("import error: recipe %q is the active recipe", e.RecipeA)
	case ErrImportExistingDeviceInOtherRecipe:
		return fmt.Sprintf("import error: device %s exists in both recipe %q and %q", e.Device, e.RecipeA, e.RecipeB)
	case ErrImportConflicts:
		return fmt.Sprintf("import error: %d conflicting recipe id(s), %d variable conflict(s)", len(e.ConflictingRecipes), len(e.VariableConflicts))
	case ErrImportIrreversible:
		return fmt.Sprintf("import error: irreversible failure during commit: %v", e.Err)
	default:
		return fmt.Sprintf("import error: invalid format: %v", e.Err)
	}
}

func (e *ImportError) Unwrap() error { return e.Err }
