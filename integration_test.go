//go:build integration

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"os"
	"testing"

	"github.com/devon-mar/startssl/cert"
	"github.com/devon-mar/startssl/store"

	vault "github.com/hashicorp/vault/api"
	"software.sslmate.com/src/go-pkcs12"
)

const (
	testKVMount   = "secret"
	testCertsPath = "startssl-test"
)

// TestVaultExtract runs against the Vault server in VAULT_ADDR, for example
// one started with `vault server -dev`.
func TestVaultExtract(t *testing.T) {
	if os.Getenv(vault.EnvVaultAddress) == "" || os.Getenv(vault.EnvVaultToken) == "" {
		t.Skipf("%s and %s must be set", vault.EnvVaultAddress, vault.EnvVaultToken)
	}
	setEnvs(t, nil)
	t.Setenv(store.EnvVaultKVMount, testKVMount)
	t.Setenv(store.EnvVaultKVCertsPath, testCertsPath)

	v, err := vault.NewClient(vault.DefaultConfig())
	if err != nil {
		t.Fatalf("error creating vault client: %v", err)
	}

	cn := "integration.example.com"
	archive := newArchive(t, t.TempDir(), cn)
	secretPath := testCertsPath + "/" + cn
	t.Cleanup(func() {
		_ = v.KVv2(testKVMount).DeleteMetadata(context.Background(), secretPath)
	})

	for i := 0; i < 2; i++ {
		var buf bytes.Buffer
		if have := execute([]string{"extract", "--store", storeVault, "--skip-existing", archive}, &buf, newStore); have != 0 {
			t.Fatalf("run %d: expected return code 0, got %d", i, have)
		}
	}

	data, err := v.KVv2(testKVMount).Get(context.Background(), secretPath)
	if err != nil {
		t.Fatalf("error reading vault secret: %v", err)
	}
	if data.VersionMetadata.Version != 1 {
		t.Errorf("got version %d, want 1", data.VersionMetadata.Version)
	}

	cb, err := cert.BundleFromStrings(cn, data.Data[store.VaultKVKeyCert].(string), data.Data[store.VaultKVKeyCA].(string))
	if err != nil {
		t.Fatalf("error parsing stored bundle: %v", err)
	}
	leaf, im, err := cb.Certificates()
	if err != nil {
		t.Fatalf("error parsing certificates: %v", err)
	}
	if leaf.Subject.CommonName != cn {
		t.Errorf("got leaf CN %q, want %q", leaf.Subject.CommonName, cn)
	}

	pfx, err := base64.StdEncoding.DecodeString(data.Data[store.VaultKVKeyPFX].(string))
	if err != nil {
		t.Fatalf("error decoding pfx: %v", err)
	}
	certs, err := pkcs12.DecodeTrustStore(pfx, "")
	if err != nil {
		t.Fatalf("error decoding trust store: %v", err)
	}
	if len(certs) != 2 || !certs[0].Equal(leaf) || !certs[1].Equal(im) {
		t.Errorf("unexpected trust store contents: %d certificate(s)", len(certs))
	}
}
