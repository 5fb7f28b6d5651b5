package store

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/devon-mar/startssl/cert"
	vault "github.com/hashicorp/vault/api"
	"software.sslmate.com/src/go-pkcs12"
)

const (
	EnvVaultKVMount      = "STARTSSL_VAULT_KV_MOUNT"
	EnvVaultKVCertsPath  = "STARTSSL_VAULT_KV_CERTS_PATH"
	EnvVaultCertAuth     = "STARTSSL_VAULT_CERT_AUTH"
	EnvVaultCertAuthRole = "STARTSSL_VAULT_CERT_AUTH_ROLE"

	VaultKVKeyCert  = "tls.crt"
	VaultKVKeyCA    = "ca"
	VaultKVKeyChain = "chain"
	VaultKVKeyPFX   = "pfx"
)

type VaultStore struct {
	kvMount   string
	certsPath string

	client *vault.Client
}

func NewVaultStore() (*VaultStore, error) {
	kvMount, err := readEnv(EnvVaultKVMount)
	if err != nil {
		return nil, err
	}
	certsPath, err := readEnv(EnvVaultKVCertsPath)
	if err != nil {
		return nil, err
	}

	client, err := vault.NewClient(vault.DefaultConfig())
	if err != nil {
		return nil, err
	}
	if client.Token() == "" {
		if m := os.Getenv(EnvVaultCertAuth); m != "" {
			_, err := client.Auth().Login(
				context.Background(),
				&vaultCertAuth{Mount: m, Role: os.Getenv(EnvVaultCertAuthRole)},
			)
			if err != nil {
				return nil, err
			}
		} else {
			return nil, errors.New("no Vault auth method configured")
		}
	}
	return newVaultStore(client, kvMount, certsPath), nil
}

func newVaultStore(client *vault.Client, kvMount string, certsPath string) *VaultStore {
	return &VaultStore{client: client, kvMount: kvMount, certsPath: cleanPath(certsPath)}
}

// Retrieve implements Store
func (s *VaultStore) Retrieve(cn string) (*cert.Bundle, error) {
	data, err := s.kv().Get(context.Background(), s.certPath(cn))
	if errors.Is(err, vault.ErrSecretNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	certificate, ok := data.Data[VaultKVKeyCert].(string)
	if !ok {
		return nil, fmt.Errorf("%s:%s wasn't a string", s.certPath(cn), VaultKVKeyCert)
	}
	ca, ok := data.Data[VaultKVKeyCA].(string)
	if !ok {
		return nil, fmt.Errorf("%s:%s wasn't a string", s.certPath(cn), VaultKVKeyCA)
	}

	return cert.BundleFromStrings(cn, certificate, ca)
}

// Store implements Store
func (s *VaultStore) Store(cb *cert.Bundle) error {
	pfx, err := trustStore(cb)
	if err != nil {
		return err
	}

	data := map[string]interface{}{
		VaultKVKeyCert:  cb.CertificatePEM,
		VaultKVKeyCA:    cb.IntermediatePEM,
		VaultKVKeyChain: cb.ChainString(),
		VaultKVKeyPFX:   base64.StdEncoding.EncodeToString(pfx),
	}
	_, err = s.kv().Put(context.Background(), s.certPath(cb.CommonName), data)
	return err
}

// trustStore encodes the certificate and intermediate as a PKCS#12 trust store.
func trustStore(cb *cert.Bundle) ([]byte, error) {
	leaf, im, err := cb.Certificates()
	if err != nil {
		return nil, err
	}
	return pkcs12.Legacy.EncodeTrustStore([]*x509.Certificate{leaf, im}, "")
}

func (s *VaultStore) certPath(cn string) string {
	return s.certsPath + "/" + cn
}

func (s *VaultStore) kv() *vault.KVv2 {
	return s.client.KVv2(s.kvMount)
}

func readEnv(name string) (string, error) {
	val := os.Getenv(name)
	if val == "" {
		return "", fmt.Errorf("%s is empty", name)
	}
	return val, nil
}

type vaultCertAuth struct {
	Mount string
	Role  string
}

func (a *vaultCertAuth) Login(ctx context.Context, client *vault.Client) (*vault.Secret, error) {
	data := map[string]interface{}{"name": a.Role}

	path := "auth/" + a.Mount + "/login"

	resp, err := client.Logical().WriteWithContext(ctx, path, data)
	if err != nil {
		return nil, fmt.Errorf("error authenticating with TLS: %w", err)
	}
	if resp == nil {
		return nil, fmt.Errorf("empty response from TLS auth")
	}
	return resp, nil
}

func cleanPath(p string) string {
	return strings.TrimSuffix(p, "/")
}
