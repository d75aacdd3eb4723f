package recipe

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// OrderedDevices is an insertion-ordered map from DeviceID to *DeviceConfig,
// matching the "insertion-ordered map" invariant on Recipe.Devices (spec
// §3). Encoding/json's native map support does not preserve key order, so
// this type implements its own (Un)MarshalJSON to keep recipes.json stable
// across re-saves.
type OrderedDevices struct {
	order []DeviceID
	data  map[DeviceID]*DeviceConfig
}

// NewOrderedDevices creates an empty OrderedDevices.
func NewOrderedDevices() *OrderedDevices {
	return &OrderedDevices{data: make(map[DeviceID]*DeviceConfig)}
}

// Set inserts or overwrites the config for id, appending to the insertion
// order only if id is new.
func (o *OrderedDevices) Set(id DeviceID, cfg *DeviceConfig) {
	if _, exists := o.data[id]; !exists {
		o.order = append(o.order, id)
	}
	o.data[id] = cfg
}

// Get returns the config for id and whether it was present.
func (o *OrderedDevices) Get(id DeviceID) (*DeviceConfig, bool) {
	cfg, ok := o.data[id]
	return cfg, ok
}

// Delete removes id, if present, preserving the order of what remains.
func (o *OrderedDevices) Delete(id DeviceID) {
	if _, exists := o.data[id]; !exists {
		return
	}
	delete(o.data, id)
	for i, existing := range o.order {
		if existing == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// Len returns the number of devices.
func (o *OrderedDevices) Len() int { return len(o.order) }

// Keys returns the device IDs in insertion order.
func (o *OrderedDevices) Keys() []DeviceID {
	out := make([]DeviceID, len(o.order))
	copy(out, o.order)
	return out
}

// Range calls fn for each device in insertion order, stopping early if fn
// returns false.
func (o *OrderedDevices) Range(fn func(id DeviceID, cfg *DeviceConfig) bool) {
	for _, id := range o.order {
		if !fn(id, o.data[id]) {
			return
		}
	}
}

// Clone performs a deep copy, used before mutating a working copy during a
// transaction so the original can be restored on failure.
func (o *OrderedDevices) Clone() *OrderedDevices {
	out := NewOrderedDevices()
	for _, id := range o.order {
		cfg := *o.data[id]
		out.Set(id, &cfg)
	}
	return out
}

// Equal reports whether two OrderedDevices have the same members with
// device-by-device deep-equal configs, used for uncommitted-change
// detection (spec §8 invariant 3). Order is not considered significant for
// equality.
func (o *OrderedDevices) Equal(other *OrderedDevices) bool {
	if o.Len() != other.Len() {
		return false
	}
	for id, cfg := range o.data {
		otherCfg, ok := other.data[id]
		if !ok || !cfg.Equal(otherCfg) {
			return false
		}
	}
	return true
}

// MarshalJSON renders the devices as a JSON object with keys in insertion
// order.
func (o *OrderedDevices) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range o.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(id.String())
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(o.data[id])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON parses a JSON object into an OrderedDevices, preserving the
// key order as it appears in the source document.
func (o *OrderedDevices) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	order, err := jsonObjectKeyOrder(data)
	if err != nil {
		return err
	}

	*o = OrderedDevices{data: make(map[DeviceID]*DeviceConfig, len(raw))}
	for _, key := range order {
		id, err := ParseDeviceID(key)
		if err != nil {
			return fmt.Errorf("recipe devices: %w", err)
		}
		var cfg DeviceConfig
		if err := json.Unmarshal(raw[key], &cfg); err != nil {
			return fmt.Errorf("recipe devices[%s]: %w", key, err)
		}
		o.Set(id, &cfg)
	}
	return nil
}

// OrderedRecipes is an insertion-ordered map from RecipeID to *Recipe,
// matching Recipes.all's ordering invariant (spec §3/§6).
type OrderedRecipes struct {
	order []RecipeID
	data  map[RecipeID]*Recipe
}

// NewOrderedRecipes creates an empty OrderedRecipes.
func NewOrderedRecipes() *OrderedRecipes {
	return &OrderedRecipes{data: make(map[RecipeID]*Recipe)}
}

// Set inserts or overwrites the recipe for id.
func (o *OrderedRecipes) Set(id RecipeID, r *Recipe) {
	if _, exists := o.data[id]; !exists {
		o.order = append(o.order, id)
	}
	o.data[id] = r
}

// Get returns the recipe for id and whether it was present.
func (o *OrderedRecipes) Get(id RecipeID) (*Recipe, bool) {
	r, ok := o.data[id]
	return r, ok
}

// Delete removes id, if present.
func (o *OrderedRecipes) Delete(id RecipeID) {
	if _, exists := o.data[id]; !exists {
		return
	}
	delete(o.data, id)
	for i, existing := range o.order {
		if existing == id {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
}

// Rename moves the recipe stored at from to to, preserving its position in
// the insertion order.
func (o *OrderedRecipes) Rename(from, to RecipeID) error {
	r, ok := o.data[from]
	if !ok {
		return fmt.Errorf("recipe %q not found", from)
	}
	if _, exists := o.data[to]; exists {
		return fmt.Errorf("recipe %q already exists", to)
	}
	delete(o.data, from)
	o.data[to] = r
	for i, existing := range o.order {
		if existing == from {
			o.order[i] = to
			break
		}
	}
	return nil
}

// Has reports whether id is present.
func (o *OrderedRecipes) Has(id RecipeID) bool {
	_, ok := o.data[id]
	return ok
}

// Len returns the number of recipes.
func (o *OrderedRecipes) Len() int { return len(o.order) }

// Keys returns the recipe IDs in insertion order.
func (o *OrderedRecipes) Keys() []RecipeID {
	out := make([]RecipeID, len(o.order))
	copy(out, o.order)
	return out
}

// Range calls fn for each recipe in insertion order, stopping early if fn
// returns false.
func (o *OrderedRecipes) Range(fn func(id RecipeID, r *Recipe) bool) {
	for _, id := range o.order {
		if !fn(id, o.data[id]) {
			return
		}
	}
}

func (o *OrderedRecipes) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, id := range o.order {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(id))
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		val, err := json.Marshal(o.data[id])
		if err != nil {
			return nil, err
		}
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (o *OrderedRecipes) UnmarshalJSON(data []byte) error {
	raw := make(map[string]json.RawMessage)
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	order, err := jsonObjectKeyOrder(data)
	if err != nil {
		return err
	}

	*o = OrderedRecipes{data: make(map[RecipeID]*Recipe, len(raw))}
	for _, key := range order {
		id, err := NewRecipeID(key)
		if err != nil {
			return fmt.Errorf("recipes: %w", err)
		}
		var r Recipe
		if err := json.Unmarshal(raw[key], &r); err != nil {
			return fmt.Errorf("recipes[%s]: %w", key, err)
		}
		o.Set(id, &r)
	}
	return nil
}

// jsonObjectKeyOrder walks a JSON object's top-level tokens to recover the
// order its keys appeared in the source document, since Go's map decoding
// does not preserve it.
func jsonObjectKeyOrder(data []byte) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	delim, ok := tok.(json.Delim)
	if !ok || delim != '{' {
		return nil, fmt.Errorf("expected JSON object")
	}

	var order []string
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := keyTok.(string)
		if !ok {
			return nil, fmt.Errorf("expected string key")
		}
		order = append(order, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return order, nil
}
