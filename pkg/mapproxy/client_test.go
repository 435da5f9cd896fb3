package mapproxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeContent(t *testing.T) {
	content, err := decodeContent([]byte(`{"status":"200","content":"# map"}`))
	require.NoError(t, err)
	assert.Equal(t, "# map", content)

	content, err = decodeContent([]byte(`"{\"content\":\"inner\"}"`))
	require.NoError(t, err)
	assert.Equal(t, "inner", content)

	_, err = decodeContent([]byte(`{"content":null}`))
	assert.ErrorIs(t, err, ErrNoData)

	_, err = decodeContent([]byte(`"just text"`))
	assert.ErrorContains(t, err, "error decoding raw response string")

	_, err = decodeContent([]byte(`plain`))
	assert.ErrorContains(t, err, "error decoding raw response")
}

func TestCheckEditReply(t *testing.T) {
	assert.NoError(t, checkEditReply([]byte(`{"status":"200","content":"OK"}`)))
	assert.NoError(t, checkEditReply([]byte(`{"status":200}`)))
	assert.NoError(t, checkEditReply([]byte(`OK`)))
	assert.NoError(t, checkEditReply(nil))

	err := checkEditReply([]byte(`{"status":"400","content":"Invalid edit code"}`))
	assert.EqualError(t, err, "upstream rejected edit (400: Invalid edit code)")

	err = checkEditReply([]byte(`{"status":"400","errors":"Bad text"}`))
	assert.EqualError(t, err, "upstream rejected edit (400: Bad text)")

	err = checkEditReply([]byte(`{"status":"500"}`))
	assert.EqualError(t, err, "upstream rejected edit (500)")
}

func TestClientEndpoint(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpstreamURL = "https://rentry.co/"
	client, err := NewClient(cfg, nil)
	require.NoError(t, err)

	assert.Equal(t, "https://rentry.co/", client.endpoint())
	assert.Equal(t, "https://rentry.co/api/raw/abc", client.endpoint("api", "raw", "abc"))
	assert.Equal(t, "https://rentry.co/api/edit/my%20map", client.endpoint("api", "edit", "my map"))
}
