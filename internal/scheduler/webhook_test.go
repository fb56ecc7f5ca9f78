package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignWebhook(t *testing.T) {
	body := []byte(`{"input":{"a":1}}`)
	header := SignWebhook("s3cret", body, time.Unix(1700000000, 0))
	assert.Equal(t, "t=1700000000,v1=70b9c49d535eb7abba88a6487e7b314012824966ee19632e621d46bf0fc55ac3", header)
}

func TestVerifyWebhook(t *testing.T) {
	body := []byte(`{"input":{"a":1}}`)
	signedAt := time.Unix(1700000000, 0)
	valid := SignWebhook("s3cret", body, signedAt)

	tests := []struct {
		name   string
		secret string
		header string
		body   []byte
		now    time.Time
		want   error
	}{
		{"valid", "s3cret", valid, body, signedAt.Add(time.Minute), nil},
		{"no secret accepts unsigned", "", "", body, signedAt, nil},
		{"missing header", "s3cret", "", body, signedAt, ErrMissingSignature},
		{"tampered body", "s3cret", valid, []byte(`{"input":{"a":2}}`), signedAt, ErrSignatureMismatch},
		{"wrong secret", "other", valid, body, signedAt, ErrSignatureMismatch},
		{"too old", "s3cret", valid, body, signedAt.Add(301 * time.Second), ErrSignatureExpired},
		{"from the future", "s3cret", valid, body, signedAt.Add(-301 * time.Second), ErrSignatureExpired},
		{"no timestamp", "s3cret", "v1=abcd", body, signedAt, ErrMalformedSignature},
		{"bad hex", "s3cret", "t=1700000000,v1=zz", body, signedAt, ErrMalformedSignature},
		{"garbage", "s3cret", "sha256", body, signedAt, ErrMalformedSignature},
		{"rotated secrets", "s3cret", "t=1700000000,v1=00ff," + valid[len("t=1700000000,"):], body, signedAt, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := VerifyWebhook(tt.secret, tt.header, tt.body, tt.now, DefaultTolerance)
			if tt.want == nil {
				require.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRejectReason(t *testing.T) {
	assert.Equal(t, "missing", RejectReason(ErrMissingSignature))
	assert.Equal(t, "expired", RejectReason(ErrSignatureExpired))
	assert.Equal(t, "mismatch", RejectReason(ErrSignatureMismatch))
	assert.Equal(t, "malformed", RejectReason(ErrMalformedSignature))
}
