package encryption

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAEAD_RoundTrip(t *testing.T) {
	req := require.New(t)
	key := bytes.Repeat([]byte{7}, 32)

	nonce, ct, err := AEADEncrypt(key, []byte("hello"), []byte("aad"))
	req.NoError(err)
	req.Len(nonce, 12)
	req.NotContains(string(ct), "hello")

	plain, err := AEADDecrypt(key, nonce, ct, []byte("aad"))
	req.NoError(err)
	req.Equal("hello", string(plain))
}

func TestAEAD_FreshNonceEachTime(t *testing.T) {
	key := bytes.Repeat([]byte{7}, 32)
	n1, c1, err := AEADEncrypt(key, []byte("same"), nil)
	require.NoError(t, err)
	n2, c2, err := AEADEncrypt(key, []byte("same"), nil)
	require.NoError(t, err)
	require.NotEqual(t, n1, n2)
	require.NotEqual(t, c1, c2)
}

func TestAEAD_RejectsTampering(t *testing.T) {
	req := require.New(t)
	key := bytes.Repeat([]byte{7}, 32)
	nonce, ct, err := AEADEncrypt(key, []byte("hello"), []byte("aad"))
	req.NoError(err)

	_, err = AEADDecrypt(key, nonce, ct, []byte("other"))
	req.Error(err)

	ct[0] ^= 1
	_, err = AEADDecrypt(key, nonce, ct, []byte("aad"))
	req.Error(err)

	_, err = AEADDecrypt(key, nonce[:4], ct, []byte("aad"))
	req.Error(err)

	_, err = AEADDecrypt(bytes.Repeat([]byte{8}, 32), nonce, ct, []byte("aad"))
	req.Error(err)
}
