package main

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	log "github.com/sirupsen/logrus"
)

func TestConfigFromEnv(t *testing.T) {
	tests := map[string]struct {
		envs map[string]string

		want      *config
		wantError bool
	}{
		"empty env": {
			want: &config{store: storeFile, logLevel: log.InfoLevel},
		},
		"all": {
			envs: map[string]string{
				envDomainsFile:        "domains.json",
				envEmailsFile:         "emails.json",
				envStore:              storeVault,
				envFilenameFormat:     "certs/{name}.pem",
				envIntermediateFormat: "certs/{name}.ca.pem",
				envExitError:          "true",
				envLogLevel:           "debug",
			},
			want: &config{
				domainsFile:        "domains.json",
				emailsFile:         "emails.json",
				store:              storeVault,
				filenameFormat:     "certs/{name}.pem",
				intermediateFormat: "certs/{name}.ca.pem",
				exitOnError:        true,
				logLevel:           log.DebugLevel,
			},
		},
		"invalid exit error": {
			envs: map[string]string{envExitError: "maybe"},
			want: &config{store: storeFile, logLevel: log.InfoLevel},
		},
		"invalid store": {
			envs:      map[string]string{envStore: "s3"},
			wantError: true,
		},
		"invalid log level": {
			envs:      map[string]string{envLogLevel: "loud"},
			wantError: true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			setEnvs(t, tc.envs)

			have, err := configFromEnv()
			if err == nil && tc.wantError {
				t.Error("expected an error")
			} else if err != nil && !tc.wantError {
				t.Errorf("expected no error but got: %v", err)
			}
			if !reflect.DeepEqual(have, tc.want) {
				t.Errorf("got %#v, want %#v", have, tc.want)
			}
		})
	}
}

func TestLoadConfigFiles(t *testing.T) {
	const envTest = "STARTSSL_TEST_LOADED"
	t.Cleanup(func() { os.Unsetenv(envTest) })
	setEnvs(t, map[string]string{envDomainsFile: "env.json"})

	dir := t.TempDir()
	first := filepath.Join(dir, "first.conf")
	second := filepath.Join(dir, "second.conf")
	if err := os.WriteFile(first, []byte(envTest+"=first\n"+envDomainsFile+"=file.json\n"), 0o600); err != nil {
		t.Fatalf("error writing config: %v", err)
	}
	if err := os.WriteFile(second, []byte(envTest+"=second\n"), 0o600); err != nil {
		t.Fatalf("error writing config: %v", err)
	}

	if err := loadConfigFiles(filepath.Join(dir, "missing.conf"), first, second); err != nil {
		t.Fatalf("got error: %v", err)
	}
	if have := os.Getenv(envTest); have != "first" {
		t.Errorf("%s: got %q, want %q", envTest, have, "first")
	}
	if have := os.Getenv(envDomainsFile); have != "env.json" {
		t.Errorf("%s: got %q, want %q", envDomainsFile, have, "env.json")
	}
}

func TestLoadConfigFilesError(t *testing.T) {
	if err := loadConfigFiles(t.TempDir()); err == nil {
		t.Error("expected an error loading a directory")
	}
}

// setEnvs sets every variable the config reads, defaulting to empty.
func setEnvs(t *testing.T, kv map[string]string) {
	t.Helper()
	for _, k := range []string{envDomainsFile, envEmailsFile, envStore, envFilenameFormat, envIntermediateFormat, envExitError, envLogLevel} {
		t.Setenv(k, kv[k])
	}
}
