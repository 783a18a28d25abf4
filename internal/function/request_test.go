package function

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestDefaults(t *testing.T) {
	for _, body := range []string{"", "  ", "{}"} {
		r, err := ParseRequest([]byte(body))
		require.NoError(t, err)
		assert.Equal(t, DefaultHandler, r.Handler)
		assert.Equal(t, map[string]interface{}{}, r.Event)
		assert.Nil(t, r.Timeout)
		assert.NotEmpty(t, r.Id)
		assert.Equal(t, 10.0, r.TimeoutOr(10))
	}
}

func TestParseRequestFields(t *testing.T) {
	body := `{
		"arn": "arn:aws:lambda:local:0:function:demo",
		"version": "3",
		"event": {"url": "http://example.com", "n": [1, 2]},
		"module": "src/handler.js",
		"file": "handler.api_handler",
		"timeout": 2.5
	}`
	r, err := ParseRequest([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "arn:aws:lambda:local:0:function:demo", r.Arn)
	assert.Equal(t, "3", r.Version)
	assert.Equal(t, "src/handler.js", r.ModulePath)
	assert.Equal(t, "handler.api_handler", r.Handler)
	assert.Equal(t, map[string]interface{}{"url": "http://example.com", "n": []interface{}{1.0, 2.0}}, r.Event)
	require.NotNil(t, r.Timeout)
	assert.Equal(t, 2.5, r.TimeoutOr(10))
	assert.WithinDuration(t, time.Now(), r.Arrival, time.Second)
}

func TestParseRequestStringEvent(t *testing.T) {
	r, err := ParseRequest([]byte(`{"event": "{\"url\": \"http://example.com\"}"}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"url": "http://example.com"}, r.Event)

	r, err = ParseRequest([]byte(`{"event": "[1,2]"}`))
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1.0, 2.0}, r.Event)

	r, err = ParseRequest([]byte(`{"event": null}`))
	require.NoError(t, err)
	assert.Nil(t, r.Event)
}

func TestParseRequestTimeout(t *testing.T) {
	r, err := ParseRequest([]byte(`{"timeout": "1.5"}`))
	require.NoError(t, err)
	assert.Equal(t, 1.5, *r.Timeout)

	r, err = ParseRequest([]byte(`{"timeout": null}`))
	require.NoError(t, err)
	assert.Nil(t, r.Timeout)

	for _, body := range []string{
		`{"timeout": 0}`,
		`{"timeout": -1}`,
		`{"timeout": "soon"}`,
		`{"timeout": true}`,
		`{"timeout": {}}`,
	} {
		_, err := ParseRequest([]byte(body))
		assert.True(t, errors.Is(err, ErrMalformedRequest), body)
	}
}

func TestParseRequestMalformed(t *testing.T) {
	for _, body := range []string{
		`[1, 2]`,
		`"text"`,
		`{"event": `,
		`{"event": "{not json"}`,
		`{"arn": 42}`,
		`{"file": ["handler.handler"]}`,
		`{"handler": {}}`,
	} {
		_, err := ParseRequest([]byte(body))
		assert.True(t, errors.Is(err, ErrMalformedRequest), body)
	}
}

func TestHandlerReference(t *testing.T) {
	cases := []struct {
		file, handler, expected string
	}{
		{"", "", DefaultHandler},
		{"handler.handler", "", "handler.handler"},
		{"", "main.run", "main.run"},
		{"", "run", "run"},
		{"handler.js", "api_handler", "handler.api_handler"},
		{"src/lib/app.js", "run", "app.run"},
		{"handler.js", "other.run", "other.run"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.expected, handlerReference(tc.file, tc.handler), "%q %q", tc.file, tc.handler)
	}
}

func TestContext(t *testing.T) {
	c := NewContext(2, "arn", "$LATEST", "req")
	assert.Equal(t, 2*time.Second, c.Timeout())
	left := c.RemainingMillis()
	assert.LessOrEqual(t, left, int64(2000))
	assert.Greater(t, left, int64(1000))

	expired := NewContext(0.001, "", "", "")
	time.Sleep(5 * time.Millisecond)
	assert.Equal(t, int64(0), expired.RemainingMillis())
}

func TestSecondsToDuration(t *testing.T) {
	assert.Equal(t, 1500*time.Millisecond, SecondsToDuration(1.5))
	assert.Equal(t, time.Duration(0), SecondsToDuration(-3))
	assert.Equal(t, time.Duration(0), SecondsToDuration(0))
	assert.Equal(t, time.Duration(1<<63-1), SecondsToDuration(1e300))
}
