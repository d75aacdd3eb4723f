package recipe

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newImportExportService(t *testing.T) *Service {
	t.Helper()
	svc, err := NewService(t.TempDir(), nil)
	require.NoError(t, err)
	return svc
}

func buildZip(t *testing.T, entries map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range entries {
		f, err := zw.Create(name)
		require.NoError(t, err)
		_, err = f.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func zipReader(t *testing.T, raw []byte) *ZipEntryReader {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	return NewZipEntryReader(r)
}

func recipeJSON(t *testing.T, devices map[DeviceID]string) []byte {
	t.Helper()
	r := NewRecipe()
	for id, deviceType := range devices {
		r.Devices.Set(id, &DeviceConfig{
			DeviceType: deviceType,
			DeviceName: mustName(t, "dev"),
			Params:     ParamsWithVariables(`{}`),
		})
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	return data
}

func TestService_Export_WritesRecipeVariablesAndDeviceFiles(t *testing.T) {
	svc := newImportExportService(t)

	devID, err := svc.AddDevice("default", "camera", mustName(t, "cam"), rawParams(t, map[string]interface{}{"fps": 30}))
	require.NoError(t, err)
	require.NoError(t, svc.CommitActiveRecipe())

	devDir := svc.devicePath(devID)
	require.NoError(t, os.MkdirAll(devDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(devDir, "calib.bin"), []byte("calibration-data"), 0o644))

	var buf bytes.Buffer
	require.NoError(t, svc.Export(&buf, "default"))

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, "default/recipe.json")
	assert.Contains(t, names, "variables.json")
	assert.Contains(t, names, "default/"+devID.String()+"/calib.bin")
}

func TestService_Import_NewRecipe(t *testing.T) {
	svc := newImportExportService(t)

	devID := NewDeviceID()
	raw := buildZip(t, map[string][]byte{
		"variables.json": []byte(`{}`),
		"imported/recipe.json": recipeJSON(t, map[DeviceID]string{
			devID: "camera",
		}),
		"imported/" + devID.String() + "/calib.bin": []byte("data"),
	})

	err := svc.Import(zipReader(t, raw), MergeUnspecified)
	require.NoError(t, err)

	r, ok := svc.Get("imported")
	require.True(t, ok)
	assert.Equal(t, 1, r.Devices.Len())

	data, err := os.ReadFile(filepath.Join(svc.devicePath(devID), "calib.bin"))
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestService_Import_MissingVariablesIsInvalidFormat(t *testing.T) {
	svc := newImportExportService(t)
	raw := buildZip(t, map[string][]byte{
		"imported/recipe.json": recipeJSON(t, nil),
	})

	err := svc.Import(zipReader(t, raw), MergeUnspecified)
	require.Error(t, err)
	var ie *ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrImportInvalidFormat, ie.Kind)
}

func TestService_Import_ActiveRecipeCollision(t *testing.T) {
	svc := newImportExportService(t)
	raw := buildZip(t, map[string][]byte{
		"variables.json":   []byte(`{}`),
		"default/recipe.json": recipeJSON(t, nil),
	})

	err := svc.Import(zipReader(t, raw), MergeUnspecified)
	require.Error(t, err)
	var ie *ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrImportContainsActiveRecipe, ie.Kind)
}

func TestService_Import_RecipeConflictReturnsResumable(t *testing.T) {
	svc := newImportExportService(t)
	_, err := svc.AddRecipe("alt", nil)
	require.NoError(t, err)

	raw := buildZip(t, map[string][]byte{
		"variables.json":  []byte(`{}`),
		"alt/recipe.json": recipeJSON(t, nil),
	})

	err = svc.Import(zipReader(t, raw), MergeUnspecified)
	require.Error(t, err)
	var ie *ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrImportConflicts, ie.Kind)
	assert.Contains(t, ie.ConflictingRecipes, RecipeID("alt"))
	require.NotNil(t, ie.Resumable)

	require.NoError(t, ie.Resumable.Apply(MergeDuplicate))
	assert.True(t, len(svc.List()) >= 3)
}

func TestService_Import_VariableConflictResolvedByReplace(t *testing.T) {
	svc := newImportExportService(t)
	require.NoError(t, svc.UpdateVariables(Variables{"text1": StringVariable("initial_text")}))

	raw := buildZip(t, map[string][]byte{
		"variables.json":    []byte(`{"text1":"other_text"}`),
		"imported/recipe.json": recipeJSON(t, nil),
	})

	err := svc.Import(zipReader(t, raw), MergeUnspecified)
	require.Error(t, err)
	var ie *ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrImportConflicts, ie.Kind)
	require.Len(t, ie.VariableConflicts, 1)
	assert.Equal(t, "text1", ie.VariableConflicts[0].Name)

	require.NoError(t, ie.Resumable.Apply(MergeReplace))
	assert.Equal(t, "other_text", svc.Variables()["text1"].String())
}

func TestService_Import_ExistingDeviceInOtherRecipeIsIrrecoverable(t *testing.T) {
	svc := newImportExportService(t)
	devID, err := svc.AddDevice("default", "camera", mustName(t, "cam"), rawParams(t, map[string]interface{}{}))
	require.NoError(t, err)
	require.NoError(t, svc.CommitActiveRecipe())

	raw := buildZip(t, map[string][]byte{
		"variables.json": []byte(`{}`),
		"imported/recipe.json": recipeJSON(t, map[DeviceID]string{
			devID: "camera",
		}),
	})

	err = svc.Import(zipReader(t, raw), MergeDuplicate)
	require.Error(t, err)
	var ie *ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrImportExistingDeviceInOtherRecipe, ie.Kind)
}

func TestService_Import_RejectsInvalidDeviceSegment(t *testing.T) {
	svc := newImportExportService(t)
	raw := buildZip(t, map[string][]byte{
		"variables.json":                []byte(`{}`),
		"imported/recipe.json":          recipeJSON(t, nil),
		"imported/not-a-device-id/file": []byte("x"),
	})

	err := svc.Import(zipReader(t, raw), MergeUnspecified)
	require.Error(t, err)
	var ie *ImportError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, ErrImportInvalidFormat, ie.Kind)
}
