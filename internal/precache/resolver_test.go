package precache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveAgainstBase(t *testing.T) {
	r, err := NewResolver("https://example.com/app/sw.js", Capabilities{})
	require.NoError(t, err)

	cases := map[string]string{
		"css/main.css":                   "https://example.com/app/css/main.css",
		"/root.js":                       "https://example.com/root.js",
		"../up.png":                      "https://example.com/up.png",
		"https://cdn.example.net/f.woff": "https://cdn.example.net/f.woff",
		"page.html#section":              "https://example.com/app/page.html",
	}
	for id, want := range cases {
		got, err := r.Canonical(id)
		require.NoError(t, err, id)
		assert.Equal(t, want, got, id)
	}
}

func TestNewResolverRequiresAbsoluteBase(t *testing.T) {
	_, err := NewResolver("/relative/", Capabilities{})
	require.Error(t, err)
}

func TestBustAppendsStamp(t *testing.T) {
	r, err := NewResolver("https://example.com/", Capabilities{})
	require.NoError(t, err)
	stamp := NewBustStamp(time.UnixMilli(1700000000123))

	got, err := r.Bust("/a.css", stamp)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/a.css?cache-bust=1700000000123", got)

	got, err = r.Bust("/data.json?v=2", stamp)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/data.json?v=2&cache-bust=1700000000123", got)
}

func TestBustIsNoopWithDirectiveOrZeroStamp(t *testing.T) {
	supported, err := NewResolver("https://example.com/", Capabilities{CacheDirective: true})
	require.NoError(t, err)
	got, err := supported.Bust("/a.css", NewBustStamp(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "/a.css", got)
	assert.False(t, supported.NeedsBusting(true))

	unsupported, err := NewResolver("https://example.com/", Capabilities{})
	require.NoError(t, err)
	got, err = unsupported.Bust("/a.css", BustStamp{})
	require.NoError(t, err)
	assert.Equal(t, "/a.css", got)
	assert.True(t, unsupported.NeedsBusting(true))
	assert.False(t, unsupported.NeedsBusting(false))
}

func TestDetectCapabilities(t *testing.T) {
	caps, err := DetectCapabilities("auto", true, true)
	require.NoError(t, err)
	assert.Equal(t, Capabilities{CacheDirective: true, ClaimClients: true}, caps)

	caps, err = DetectCapabilities("auto", false, false)
	require.NoError(t, err)
	assert.False(t, caps.CacheDirective)

	caps, err = DetectCapabilities("Unsupported", true, false)
	require.NoError(t, err)
	assert.False(t, caps.CacheDirective)

	caps, err = DetectCapabilities("supported", false, false)
	require.NoError(t, err)
	assert.True(t, caps.CacheDirective)

	_, err = DetectCapabilities("maybe", true, true)
	require.Error(t, err)
}
