package security

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"sync"
	"time"
)

var testKeys struct {
	once    sync.Once
	private string
	public  string
	err     error
}

// testKeyPEM returns a PKCS#8 private key and PKIX public key, PEM-encoded, generated once per process.
func testKeyPEM() (private, public string, err error) {
	testKeys.once.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			testKeys.err = err
			return
		}
		der, err := x509.MarshalPKCS8PrivateKey(key)
		if err != nil {
			testKeys.err = err
			return
		}
		pubDER, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
		if err != nil {
			testKeys.err = err
			return
		}
		testKeys.private = string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}))
		testKeys.public = string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER}))
	})
	return testKeys.private, testKeys.public, testKeys.err
}

// NewTestTokenProvider returns an RS256 TokenProvider over a throwaway key pair. For tests only.
func NewTestTokenProvider() (*TokenProvider, error) {
	private, public, err := testKeyPEM()
	if err != nil {
		return nil, err
	}
	return LoadTokenProvider(TokenSettings{
		PrivateKey: private,
		PublicKey:  public,
		Issuer:     "test-issuer",
		Audience:   "test-audience",
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
}
