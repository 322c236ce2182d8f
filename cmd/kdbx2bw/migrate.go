package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/nvinuesa/kdbx2bw/internal/bitwarden"
	"github.com/nvinuesa/kdbx2bw/internal/config"
	"github.com/nvinuesa/kdbx2bw/internal/migration"
	"github.com/nvinuesa/kdbx2bw/internal/sources"
)

var migrateFlags struct {
	host              string
	port              int
	bitwardenPassword string
	organization      string
	groups            []string
	file              string
	passphrase        string
	keyFile           string
	rewrites          []string
	dryRun            bool
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Migrate a KeePass database into Bitwarden",
	Long: `Migrate every entry of a KeePass database into a Bitwarden organization.

The database name becomes the root collection and every group a nested
collection ("Database/Group/Subgroup"). Collections are created once, then
each entry becomes a login item with its attachments.

Every flag can also be set through the environment variable shown in its
description.

A rewrite replaces the first match of its regular expression. In the
replacement, $1 or ${name} expand a group and the longest group name wins:
write ${1}x, since $1x refers to a group named "1x". A rewrite must not
leave a path empty.

Examples:
  # Migrate with a custom API address
  kdbx2bw migrate -H 127.0.0.1 -P 8087 -f vault.kdbx -o <org-id>

  # Rename the root collection
  kdbx2bw migrate -f vault.kdbx -r 'Vault(.*):Imported$1'

  # Grant two groups access to every new collection
  kdbx2bw migrate -f vault.kdbx --group <group-id> --group <group-id>`,
	Args: cobra.NoArgs,
	RunE: runMigrate,
}

func init() {
	f := migrateCmd.Flags()
	f.StringVarP(&migrateFlags.host, "host", "H", config.DefaultHost, "Host of the bw serve API (BITWARDEN_HOST)")
	f.IntVarP(&migrateFlags.port, "port", "P", config.DefaultPort, "Port of the bw serve API (BITWARDEN_PORT)")
	f.StringVarP(&migrateFlags.bitwardenPassword, "bitwarden-password", "b", "", "Bitwarden master password (BITWARDEN_PASSWORD)")
	f.StringVarP(&migrateFlags.organization, "organization", "o", "", "Target organization id (BITWARDEN_ORGANIZATION_ID)")
	f.StringSliceVar(&migrateFlags.groups, "group", nil, "Group id granted access to new collections, repeatable (BITWARDEN_DEFAULT_GROUP_IDS)")
	f.StringVarP(&migrateFlags.file, "file", "f", "", "KeePass database to migrate (KEEPASS_FILE)")
	f.StringVarP(&migrateFlags.passphrase, "passphrase", "p", "", "KeePass passphrase, prompted when missing unless a key file is set (KEEPASS_PASSPHRASE)")
	f.StringVarP(&migrateFlags.keyFile, "key-file", "k", "", "KeePass key file (KEEPASS_KEY_FILE)")
	f.StringArrayVarP(&migrateFlags.rewrites, "rewrite", "r", nil, "Collection path rewrite 'pattern:replacement' applied to the first match, repeatable (COLLECTION_PATH_REWRITES)")
	f.BoolVar(&migrateFlags.dryRun, "dry-run", false, "Log the API calls instead of issuing them (DRY_RUN)")
}

// applyMigrateFlags overrides cfg with the flags set on the command line.
func applyMigrateFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("host") {
		cfg.Host = migrateFlags.host
	}
	if f.Changed("port") {
		cfg.Port = migrateFlags.port
	}
	if f.Changed("bitwarden-password") {
		cfg.BitwardenPassword = migrateFlags.bitwardenPassword
	}
	if f.Changed("organization") {
		cfg.OrganizationID = migrateFlags.organization
	}
	if f.Changed("group") {
		cfg.DefaultGroupIDs = migrateFlags.groups
	}
	if f.Changed("file") {
		cfg.KeepassFile = migrateFlags.file
	}
	if f.Changed("passphrase") {
		cfg.KeepassPassphrase = migrateFlags.passphrase
	}
	if f.Changed("key-file") {
		cfg.KeepassKeyFile = migrateFlags.keyFile
	}
	if f.Changed("rewrite") {
		cfg.PathRewrites = migrateFlags.rewrites
	}
	if f.Changed("dry-run") {
		cfg.DryRun = migrateFlags.dryRun
	}
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(rootFlags.configFile, config.DotEnvFile)
	if err != nil {
		return err
	}
	applyMigrateFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}

	rewrites, err := migration.ParsePathRewrites(cfg.PathRewrites)
	if err != nil {
		return err
	}

	source, err := openSource(cfg.KeepassFile, cfg.KeepassPassphrase, cfg.KeepassKeyFile)
	if err != nil {
		return err
	}
	defer source.Close()

	client := bitwarden.NewClient(cfg.BaseURL(), cfg.BitwardenPassword,
		bitwarden.WithDefaultGroupIDs(cfg.DefaultGroupIDs...),
		bitwarden.WithDryRun(cfg.DryRun),
		bitwarden.WithLogger(log),
	)
	if cfg.DryRun {
		log.Warn("Dry run: no changes will be made to the vault")
	}

	ctx := cmd.Context()
	if err := client.Unlock(ctx); err != nil {
		return err
	}

	engine := migration.New(cfg.OrganizationID, source, client,
		migration.WithPathRewrites(rewrites...),
		migration.WithLogger(log),
	)
	report, err := engine.Migrate(ctx)
	if report != nil && !rootFlags.quiet {
		printReport(cmd.OutOrStdout(), report, cfg.DryRun)
	}
	return err
}

// openSource opens the database, prompting for the passphrase on a terminal
// when neither a passphrase nor a key file is configured.
func openSource(path, passphrase, keyFile string) (*sources.KeePassSource, error) {
	opts := sources.OpenOptions{
		Passphrase:  passphrase,
		KeyFilePath: keyFile,
	}
	if passphrase == "" && keyFile == "" {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return nil, config.Required("passphrase", "KEEPASS_PASSPHRASE")
		}
		opts.PasswordFunc = promptPassword
	}

	source := sources.NewKeePassSource()
	if err := source.Open(path, opts); err != nil {
		return nil, fmt.Errorf("failed to open source: %w", err)
	}
	log.Debugf("Opened %s database %s", source.Name(), path)
	return source, nil
}

func promptPassword(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr) // newline after password
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	return string(password), nil
}

func printReport(w io.Writer, report *migration.Report, dryRun bool) {
	if dryRun {
		fmt.Fprintln(w, "[Dry run - nothing was written]")
	}
	fmt.Fprintf(w, "Entries:     %d\n", report.Entries)
	fmt.Fprintf(w, "Created:     %d\n", report.Created)
	fmt.Fprintf(w, "Skipped:     %d (no title)\n", report.Skipped)
	fmt.Fprintf(w, "Attachments: %d (%s)\n", report.Attachments, humanize.Bytes(report.Bytes))

	if len(report.Collections) == 0 {
		return
	}
	paths := make([]string, 0, len(report.Collections))
	for p := range report.Collections {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	fmt.Fprintln(w, "\nCollections:")
	for _, p := range paths {
		id := report.Collections[p]
		if id == "" {
			id = "-"
		}
		fmt.Fprintf(w, "  - %s (%s)\n", p, id)
	}
}
