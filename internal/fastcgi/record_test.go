package fastcgi

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordRoundTrip(t *testing.T) {
	cases := []*Record{
		{Version: Version1, Type: TypeStdout, RequestID: 1, Content: []byte("hello")},
		{Version: Version1, Type: TypeParams, RequestID: 7, Content: []byte{}},
		{Version: Version1, Type: TypeStdin, RequestID: 42, Content: bytes.Repeat([]byte{0xAB}, 9)},
	}

	for _, want := range cases {
		buf, err := Encode(nil, want)
		require.NoError(t, err)

		var got Record
		require.NoError(t, Decode(bytes.NewReader(buf), &got))

		assert.Equal(t, want.Version, got.Version)
		assert.Equal(t, want.Type, got.Type)
		assert.Equal(t, want.RequestID, got.RequestID)
		assert.Equal(t, want.Content, got.Content)
	}
}

func TestEncodeRejectsOversizedContent(t *testing.T) {
	r := &Record{Version: Version1, Type: TypeStdin, Content: make([]byte, MaxContentLength+1)}
	_, err := Encode(nil, r)
	assert.ErrorIs(t, err, ErrContentTooLarge)
}

func TestNameValuePairsRoundTrip(t *testing.T) {
	pairs := map[string]string{
		"SCRIPT_NAME":     "/hello.php",
		"QUERY_STRING":    "x=1",
		"REQUEST_METHOD":  "GET",
		"LONG_VALUE_NAME": string(bytes.Repeat([]byte{'a'}, 200)),
	}

	records, err := EncodeNameValuePairs(pairs)
	require.NoError(t, err)

	decoded := make(map[string]string)
	for _, rec := range records {
		got, err := DecodeNameValuePairs(rec)
		require.NoError(t, err)
		for k, v := range got {
			decoded[k] = v
		}
	}
	assert.Equal(t, pairs, decoded)
}
