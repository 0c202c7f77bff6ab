package headless

import (
	"testing"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"
)

func TestHeaderValue(t *testing.T) {
	t.Parallel()

	headers := network.Headers{
		"Content-Type": "text/html",
		"retry-after":  "7",
		"X-Numeric":    float64(30),
	}
	require.Equal(t, "text/html", headerValue(headers, "Content-Type"))
	// Header lookup is case-insensitive.
	require.Equal(t, "7", headerValue(headers, "Retry-After"))
	require.Equal(t, "30", headerValue(headers, "x-numeric"))
	require.Empty(t, headerValue(headers, "Missing"))
	require.Empty(t, headerValue(nil, "Retry-After"))
}

func TestFinalURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://example.com/landed", finalURL("https://example.com/landed", "https://example.com/"))
	// An empty location falls back to the requested URL.
	require.Equal(t, "https://example.com/", finalURL("", "https://example.com/"))
}

func TestResponseMetaRateLimitSignal(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	status, retryAfter := meta.rateLimitSignal()
	require.Zero(t, status)
	require.Empty(t, retryAfter)

	meta.captureEvent(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  429,
			Headers: network.Headers{"Retry-After": "7"},
		},
	})
	status, retryAfter = meta.rateLimitSignal()
	require.Equal(t, 429, status)
	require.Equal(t, "7", retryAfter)
}

func TestResponseMetaIgnoresSubresources(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 429},
	})
	meta.captureEvent("not an event")

	status, _ := meta.rateLimitSignal()
	require.Zero(t, status)
}

func TestResponseMetaSuccessIsNotASignal(t *testing.T) {
	t.Parallel()

	meta := newResponseMeta()
	meta.captureEvent(&network.EventResponseReceived{
		Type:     network.ResourceTypeDocument,
		Response: &network.Response{Status: 200},
	})
	status, _ := meta.rateLimitSignal()
	require.Zero(t, status)
}

func TestDedupeLinks(t *testing.T) {
	t.Parallel()

	require.Nil(t, dedupeLinks(nil))
	require.Equal(t,
		[]string{"https://a.example.com/", "https://b.example.com/"},
		dedupeLinks([]string{
			"https://a.example.com/",
			"https://b.example.com/",
			"https://a.example.com/",
			"",
		}),
	)
}
