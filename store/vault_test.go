package store

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/devon-mar/startssl/cert"
	vault "github.com/hashicorp/vault/api"
	"software.sslmate.com/src/go-pkcs12"
)

const testKVMount = "secret"

// fakeKV serves the subset of the KV v2 API used by VaultStore.
type fakeKV struct {
	mu      sync.Mutex
	secrets map[string]map[string]interface{}
}

func (f *fakeKV) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	prefix := "/v1/" + testKVMount + "/data/"
	if !strings.HasPrefix(r.URL.Path, prefix) {
		http.NotFound(w, r)
		return
	}
	p := strings.TrimPrefix(r.URL.Path, prefix)
	metadata := map[string]interface{}{
		"version":       1,
		"created_time":  time.Now().UTC().Format(time.RFC3339Nano),
		"deletion_time": "",
		"destroyed":     false,
	}

	switch r.Method {
	case http.MethodGet:
		data, ok := f.secrets[p]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"errors":[]}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": map[string]interface{}{"data": data, "metadata": metadata},
		})
	case http.MethodPut, http.MethodPost:
		var body struct {
			Data map[string]interface{} `json:"data"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f.secrets[p] = body.Data
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": metadata})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newTestVaultStore(t *testing.T) (*VaultStore, *fakeKV) {
	t.Helper()
	kv := &fakeKV{secrets: map[string]map[string]interface{}{}}
	srv := httptest.NewServer(kv)
	t.Cleanup(srv.Close)

	cfg := vault.DefaultConfig()
	cfg.Address = srv.URL
	client, err := vault.NewClient(cfg)
	if err != nil {
		t.Fatalf("error creating vault client: %v", err)
	}
	client.SetToken("test")
	return newVaultStore(client, testKVMount, "certs/"), kv
}

func newSelfSigned(t *testing.T, cn string) string {
	t.Helper()
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("error generating key: %v", err)
	}
	template := x509.Certificate{
		Subject:      pkix.Name{CommonName: cn},
		SerialNumber: big.NewInt(123),
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
	}
	b, err := x509.CreateCertificate(rand.Reader, &template, &template, &priv.PublicKey, priv)
	if err != nil {
		t.Fatalf("error generating cert: %v", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: b}))
}

func TestVaultStore(t *testing.T) {
	s, kv := newTestVaultStore(t)
	cb := &cert.Bundle{
		CommonName:      "foo.example.com",
		CertificatePEM:  newSelfSigned(t, "foo.example.com"),
		IntermediatePEM: newSelfSigned(t, "Intermediate CA"),
	}

	if have, err := s.Retrieve(cb.CommonName); have != nil || err != nil {
		t.Fatalf("expected nothing before Store, got %v, %v", have, err)
	}

	if err := s.Store(cb); err != nil {
		t.Fatalf("error storing: %v", err)
	}

	stored, ok := kv.secrets["certs/foo.example.com"]
	if !ok {
		t.Fatalf("nothing stored at certs/foo.example.com: %v", kv.secrets)
	}
	if stored[VaultKVKeyChain] != cb.ChainString() {
		t.Errorf("unexpected chain %q", stored[VaultKVKeyChain])
	}
	pfx, err := base64.StdEncoding.DecodeString(stored[VaultKVKeyPFX].(string))
	if err != nil {
		t.Fatalf("error decoding pfx: %v", err)
	}
	certs, err := pkcs12.DecodeTrustStore(pfx, "")
	if err != nil {
		t.Fatalf("error decoding trust store: %v", err)
	}
	if len(certs) != 2 {
		t.Errorf("got %d certificates in the trust store, want 2", len(certs))
	}

	have, err := s.Retrieve(cb.CommonName)
	if err != nil {
		t.Fatalf("error retrieving: %v", err)
	}
	if *have != *cb {
		t.Errorf("got %#v, want %#v", have, cb)
	}
}

func TestVaultStoreInvalidBundle(t *testing.T) {
	s, kv := newTestVaultStore(t)
	err := s.Store(&cert.Bundle{CommonName: "foo", CertificatePEM: "nope", IntermediatePEM: "nope"})
	if err == nil {
		t.Error("expected an error")
	}
	if len(kv.secrets) != 0 {
		t.Errorf("expected nothing to be stored, got %v", kv.secrets)
	}
}

func TestVaultStoreRetrieveNotString(t *testing.T) {
	s, kv := newTestVaultStore(t)
	kv.secrets["certs/foo"] = map[string]interface{}{VaultKVKeyCert: 1, VaultKVKeyCA: "x"}
	if _, err := s.Retrieve("foo"); err == nil {
		t.Error("expected an error")
	}
}
