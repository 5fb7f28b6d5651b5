package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/devon-mar/startssl/cert"
	"github.com/devon-mar/startssl/csr"
	"github.com/devon-mar/startssl/request"
	"github.com/devon-mar/startssl/store"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const formSuffix = ".form"

var (
	exitFunc func(int) = os.Exit
	version            = "dev"
)

func main() {
	exitFunc(execute(os.Args[1:], os.Stdout, newStore))
}

func newStore(cfg *config) (store.Store, error) {
	if cfg.store == storeVault {
		return store.NewVaultStore()
	}
	return store.NewFileStore(cfg.filenameFormat, cfg.intermediateFormat)
}

// cliFlags override the matching values from the environment when set.
type cliFlags struct {
	logLevel           string
	domainsFile        string
	emailsFile         string
	filenameFormat     string
	intermediateFormat string
	exitOnError        bool
	store              string
}

func (f *cliFlags) apply(cmd *cobra.Command, cfg *config) error {
	fs := cmd.Flags()
	if fs.Changed("log-level") {
		level, err := log.ParseLevel(f.logLevel)
		if err != nil {
			return err
		}
		cfg.logLevel = level
	}
	if fs.Changed("domains-file") {
		cfg.domainsFile = f.domainsFile
	}
	if fs.Changed("emails-file") {
		cfg.emailsFile = f.emailsFile
	}
	if fs.Changed("filename-format") {
		cfg.filenameFormat = f.filenameFormat
	}
	if fs.Changed("intermediate-format") {
		cfg.intermediateFormat = f.intermediateFormat
	}
	if fs.Changed("exit-on-error") {
		cfg.exitOnError = f.exitOnError
	}
	if fs.Changed("store") {
		cfg.store = f.store
	}
	return cfg.validate()
}

// execute runs the command line in args and returns the exit code.
func execute(args []string, stdout io.Writer, newStore func(*config) (store.Store, error)) int {
	var (
		cfg   *config
		flags cliFlags
		ret   int
	)

	rootCmd := &cobra.Command{
		Use:           "startssl",
		Short:         "Prepare certificate requests and unpack issued certificates",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := loadConfigFiles(configFiles...); err != nil {
				return err
			}
			var err error
			cfg, err = configFromEnv()
			if err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return fmt.Errorf("config error: %w", err)
			}
			log.SetLevel(cfg.logLevel)
			return nil
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flags.logLevel, "log-level", "info", "Log level (or set "+envLogLevel+")")
	pf.StringVar(&flags.domainsFile, "domains-file", "", "Validated domains JSON file (or set "+envDomainsFile+")")
	pf.StringVar(&flags.emailsFile, "emails-file", "", "Validated emails JSON file (or set "+envEmailsFile+")")
	pf.StringVar(&flags.filenameFormat, "filename-format", store.DefaultFilenameFormat, "Certificate filename, {name} is the common name, - for stdout (or set "+envFilenameFormat+")")
	pf.StringVar(&flags.intermediateFormat, "intermediate-format", "", "Intermediate filename, {name} is the common name (or set "+envIntermediateFormat+")")
	pf.BoolVar(&flags.exitOnError, "exit-on-error", false, "Stop at the first failure (or set "+envExitError+")")

	var sanTypes []string
	decodeCmd := &cobra.Command{
		Use:   "decode CSR...",
		Short: "Print the names in certificate signing requests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			types := make([]csr.NameType, 0, len(sanTypes))
			for _, st := range sanTypes {
				nt, err := csr.ParseNameType(st)
				if err != nil {
					return err
				}
				types = append(types, nt)
			}
			ret = runDecode(cfg, args, types, stdout)
			return nil
		},
	}
	decodeCmd.Flags().StringSliceVar(&sanTypes, "type", nil, "Only print subject alternative names of this type, e.g. dNSName (repeatable)")

	var outDir string
	csrCmd := &cobra.Command{
		Use:   "csr CSR...",
		Short: "Build certificate request forms",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ret = runCSR(cmd.Context(), cfg, args, outDir, stdout)
		},
	}
	csrCmd.Flags().StringVar(&outDir, "out", "", "Write <csr>"+formSuffix+" files to this directory instead of stdout")

	var skipExisting bool
	extractCmd := &cobra.Command{
		Use:   "extract ZIP...",
		Short: "Extract certificates from archives and store them",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			ret = runExtract(cfg, args, newStore, skipExisting)
		},
	}
	extractCmd.Flags().StringVar(&flags.store, "store", storeFile, "Certificate store: "+storeFile+" or "+storeVault+" (or set "+envStore+")")
	extractCmd.Flags().BoolVar(&skipExisting, "skip-existing", false, "Skip certificates that are already stored")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		// No config needed.
		PersistentPreRun: func(cmd *cobra.Command, args []string) {},
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(stdout, "startssl version %s\n", version)
		},
	}

	rootCmd.AddCommand(decodeCmd, csrCmd, extractCmd, versionCmd)
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)

	if err := rootCmd.Execute(); err != nil {
		log.WithError(err).Error("error running command")
		return 1
	}
	return ret
}

// forEach calls fn for every item and returns the number of failures.
func forEach(cfg *config, items []string, fn func(string) error) int {
	var ret int
	for _, item := range items {
		if err := fn(item); err != nil {
			log.WithError(err).Errorf("error processing %s", item)
			ret++
			if cfg.exitOnError {
				break
			}
		}
	}
	return ret
}

func runDecode(cfg *config, paths []string, types []csr.NameType, w io.Writer) int {
	return forEach(cfg, paths, func(p string) error {
		d, err := csr.DecodeFile(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s:\n", p)
		if cn, ok := d.CommonName(); ok {
			fmt.Fprintf(w, "\tCN: %s\n", cn)
		}
		for san := range d.SubjectAltNames(types...) {
			fmt.Fprintf(w, "\t%s\n", san)
		}
		return nil
	})
}

func runCSR(ctx context.Context, cfg *config, paths []string, outDir string, w io.Writer) int {
	if cfg.domainsFile == "" {
		log.Errorf("a domains file is required (--domains-file or %s)", envDomainsFile)
		return 1
	}

	session := request.NewSession(&request.FileFetcher{DomainsFile: cfg.domainsFile, EmailsFile: cfg.emailsFile})
	res, err := session.ValidatedResources(ctx, false)
	if err != nil {
		log.WithError(err).Error("error loading validated resources")
		return 1
	}
	log.Infof("Found %d validated domain(s) and %d email(s)", len(res.Domains), len(res.Emails))

	// Form files written so far, by the CSR they were built from.
	written := map[string]string{}

	return forEach(cfg, paths, func(p string) error {
		logger := log.WithField("csr", p)

		d, err := csr.DecodeFile(p)
		if err != nil {
			return err
		}
		plan, err := request.PlanCSR(d, res)
		if err != nil {
			return err
		}
		logger.WithField("dns_names", d.DNSNames()).Debugf("Covered by %v", plan.DirectDomains)
		for san := range d.SubjectAltNames(csr.RFC822Name) {
			if !request.CoversEmail(san.Value, res.Emails) {
				logger.WithField("email", san.Value).Warn("Email address is not validated")
			}
		}

		form, err := request.Build(plan, d.PEM())
		if err != nil {
			return err
		}
		if outDir == "" {
			_, err := fmt.Fprintln(w, form.Encode())
			return err
		}

		name := filepath.Join(outDir, strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))+formSuffix)
		if prev, ok := written[name]; ok {
			return fmt.Errorf("%s was already written for %s", name, prev)
		}
		body := "Content-Type: " + request.ContentType + "\n\n" + form.Encode()
		if err := os.WriteFile(name, []byte(body), 0o644); err != nil {
			return err
		}
		written[name] = p
		logger.Infof("Wrote %s", name)
		return nil
	})
}

func runExtract(cfg *config, paths []string, newStore func(*config) (store.Store, error), skipExisting bool) int {
	st, err := newStore(cfg)
	if err != nil {
		log.WithError(err).Error("error initializing cert store")
		return 1
	}

	return forEach(cfg, paths, func(p string) error {
		name := filepath.Base(p)
		logger := log.WithField("archive", name)

		if cn, ok := strings.CutSuffix(name, ".zip"); ok && skipExisting {
			existing, err := st.Retrieve(cn)
			if err != nil {
				return err
			}
			if existing != nil {
				logger.Info("Certificate already stored, skipping")
				return nil
			}
		}

		b, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		cb, err := cert.Extract(b, name)
		if err != nil {
			return err
		}
		if err := st.Store(cb); err != nil {
			return err
		}
		logger.WithField("cn", cb.CommonName).Info("Stored certificate")
		return nil
	})
}
