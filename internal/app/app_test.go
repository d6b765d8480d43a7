// Package app_test contains unit tests for the app package.
package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/munifin/harvester/internal/app"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, dir, name, contents string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o640))
	return path
}

func TestNewApp_WithoutReferenceData(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("harvester.municipalities_csv", filepath.Join(t.TempDir(), "absent.csv"))

	a, err := app.NewApp(context.Background())
	require.NoError(t, err)
	require.NotNil(t, a)
	defer a.Close()

	assert.NotNil(t, a.GetLogger())
	assert.Nil(t, a.GetRefData())
}

func TestNewApp_WithReferenceData(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	viper.Set("harvester.municipalities_csv", writeCSV(t, dir, "munis.csv",
		"region,name,municipal_status,PR_UID,pop\n5915022,Langley,CY,59,28963\n"))
	viper.Set("harvester.status_codes_csv", writeCSV(t, dir, "status.csv",
		"code,name\nCY,City\n"))
	viper.Set("harvester.province_codes_csv", writeCSV(t, dir, "provinces.csv",
		"id,province\n59,British Columbia\n"))

	a, err := app.NewApp(context.Background())
	require.NoError(t, err)
	defer a.Close()

	store := a.GetRefData()
	require.NotNil(t, store)
	m, ok := store.ByCSD("5915022")
	require.True(t, ok)
	assert.Equal(t, "City", m.StatusName)
}

func TestNewApp_BadReferenceData(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	dir := t.TempDir()
	viper.Set("harvester.municipalities_csv", writeCSV(t, dir, "munis.csv",
		"region,name\n\"unterminated\n"))
	viper.Set("harvester.status_codes_csv", writeCSV(t, dir, "status.csv", "code,name\n"))
	viper.Set("harvester.province_codes_csv", writeCSV(t, dir, "provinces.csv", "id,province\n"))

	_, err := app.NewApp(context.Background())
	require.Error(t, err)
}
