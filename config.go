package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
)

const (
	envDomainsFile        = "STARTSSL_DOMAINS_FILE"
	envEmailsFile         = "STARTSSL_EMAILS_FILE"
	envStore              = "STARTSSL_STORE"
	envFilenameFormat     = "STARTSSL_FILENAME_FORMAT"
	envIntermediateFormat = "STARTSSL_INTERMEDIATE_FORMAT"
	envExitError          = "STARTSSL_EXIT_ERROR"
	envLogLevel           = "STARTSSL_LOG_LEVEL"

	storeFile  = "file"
	storeVault = "vault"
)

// Files loaded into the environment at startup. Earlier files take
// precedence and neither overrides variables that are already set.
var configFiles = []string{"startssl.conf", "/etc/startssl.conf"}

type config struct {
	domainsFile        string
	emailsFile         string
	store              string
	filenameFormat     string
	intermediateFormat string
	exitOnError        bool
	logLevel           log.Level
}

func loadConfigFiles(files ...string) error {
	for _, f := range files {
		err := godotenv.Load(f)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return fmt.Errorf("error loading %s: %w", f, err)
		}
		log.WithField("file", f).Debug("Loaded config file")
	}
	return nil
}

func configFromEnv() (*config, error) {
	cfg := &config{
		domainsFile:        os.Getenv(envDomainsFile),
		emailsFile:         os.Getenv(envEmailsFile),
		store:              os.Getenv(envStore),
		filenameFormat:     os.Getenv(envFilenameFormat),
		intermediateFormat: os.Getenv(envIntermediateFormat),
		logLevel:           log.InfoLevel,
	}
	if cfg.store == "" {
		cfg.store = storeFile
	}
	cfg.exitOnError, _ = strconv.ParseBool(os.Getenv(envExitError))

	if l := os.Getenv(envLogLevel); l != "" {
		level, err := log.ParseLevel(l)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envLogLevel, err)
		}
		cfg.logLevel = level
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *config) validate() error {
	switch c.store {
	case storeFile, storeVault:
	default:
		return fmt.Errorf("unsupported store %q", c.store)
	}
	return nil
}
