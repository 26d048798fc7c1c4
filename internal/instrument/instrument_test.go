package instrument

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/pickscrape/internal/browser/browsertest"
	"github.com/adityalohuni/pickscrape/internal/protocol"
)

func TestScriptCarriesConfig(t *testing.T) {
	js, err := Script("install", Options{IncludeInnerHTML: true})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(js, "() => ("))
	assert.Contains(t, js, `"op":"install"`)
	assert.Contains(t, js, `"includeInnerHTML":true`)
	assert.Contains(t, js, `"deliverFunc":"`+protocol.DeliverFunc+`"`)
	assert.Contains(t, js, `"ackFunc":"`+protocol.AckFunc+`"`)
	assert.Contains(t, js, `"markerClass":"`+MarkerClass+`"`)
}

func TestInstallDecodesStatus(t *testing.T) {
	page := browsertest.NewPage()
	page.EvalFunc = func(js string, out any) error {
		return json.Unmarshal([]byte(`{"installed":true,"count":2}`), out)
	}

	st, err := Install(context.Background(), page, Options{})
	require.NoError(t, err)
	assert.Equal(t, Status{Installed: true, Count: 2}, st)
	assert.Equal(t, 1, page.EvalsContaining(`"op":"install"`))
}

func TestInstallWrapsEvalError(t *testing.T) {
	page := browsertest.NewPage()
	page.EvalFunc = func(string, any) error { return errors.New("execution context was destroyed") }

	_, err := Install(context.Background(), page, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "install")
}

func TestSnapshotNeverNil(t *testing.T) {
	page := browsertest.NewPage()
	page.EvalFunc = func(js string, out any) error {
		return json.Unmarshal([]byte(`null`), out)
	}

	got, err := Snapshot(context.Background(), page)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
	assert.Equal(t, 1, page.EvalsContaining(`"op":"snapshot"`))
}

func TestRemove(t *testing.T) {
	page := browsertest.NewPage()
	require.NoError(t, Remove(context.Background(), page))
	assert.Equal(t, 1, page.EvalsContaining(`"op":"remove"`))
}
