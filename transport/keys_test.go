package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateKeyPair(t *testing.T) {
	kp1, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.False(t, isZeroKey(kp1.Public))
	assert.False(t, isZeroKey(kp1.Private))

	kp2, err := GenerateKeyPair()
	require.NoError(t, err)
	assert.NotEqual(t, kp1.Private, kp2.Private)
	assert.NotEqual(t, kp1.Public, kp2.Public)
}

func TestFromSecretKeyDeterministic(t *testing.T) {
	var secret [32]byte
	for i := range secret {
		secret[i] = byte(i + 1)
	}

	kp1, err := FromSecretKey(secret)
	require.NoError(t, err)
	kp2, err := FromSecretKey(secret)
	require.NoError(t, err)

	assert.Equal(t, kp1.Public, kp2.Public)
	assert.Equal(t, secret, kp1.Private)
}

func TestFromSecretKeyRejectsZero(t *testing.T) {
	_, err := FromSecretKey([32]byte{})
	assert.Error(t, err)
}
