package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/nvinuesa/kdbx2bw/internal/config"
	"github.com/nvinuesa/kdbx2bw/internal/migration"
	"github.com/nvinuesa/kdbx2bw/internal/model"
)

var previewFlags struct {
	passphrase string
	keyFile    string
	rewrites   []string
}

var previewCmd = &cobra.Command{
	Use:   "preview [input-file]",
	Short: "Preview the collections and items without contacting Bitwarden",
	Long: `Preview what a migration would create, without contacting Bitwarden.

The preview command opens the database, applies the collection path rewrites
and prints the resulting collection tree with item and attachment counts.
The file defaults to KEEPASS_FILE.

Examples:
  # Preview a KeePass database
  kdbx2bw preview vault.kdbx

  # Check a rewrite before migrating
  kdbx2bw preview vault.kdbx -r 'Vault(.*):Imported$1'`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPreview,
}

func init() {
	previewCmd.Flags().StringVarP(&previewFlags.passphrase, "passphrase", "p", "", "KeePass passphrase, prompted when missing unless a key file is set (KEEPASS_PASSPHRASE)")
	previewCmd.Flags().StringVarP(&previewFlags.keyFile, "key-file", "k", "", "KeePass key file (KEEPASS_KEY_FILE)")
	previewCmd.Flags().StringArrayVarP(&previewFlags.rewrites, "rewrite", "r", nil, "Collection path rewrite 'pattern:replacement' applied to the first match, repeatable (COLLECTION_PATH_REWRITES)")
}

func runPreview(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(rootFlags.configFile, config.DotEnvFile)
	if err != nil {
		return err
	}
	if len(args) > 0 {
		cfg.KeepassFile = args[0]
	}
	if cmd.Flags().Changed("passphrase") {
		cfg.KeepassPassphrase = previewFlags.passphrase
	}
	if cmd.Flags().Changed("key-file") {
		cfg.KeepassKeyFile = previewFlags.keyFile
	}
	if cmd.Flags().Changed("rewrite") {
		cfg.PathRewrites = previewFlags.rewrites
	}

	// Show help if there is nothing to preview
	if cfg.KeepassFile == "" {
		return cmd.Help()
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

	db, err := source.Database()
	if err != nil {
		return err
	}
	entries, err := source.Passwords()
	if err != nil {
		return err
	}
	entries = migration.RewriteCollectionPaths(entries, rewrites)

	printPreview(cmd.OutOrStdout(), db.Name, cfg.KeepassFile, entries)
	return nil
}

// printPreview outputs the migration preview.
func printPreview(w io.Writer, name, inputPath string, entries []model.PasswordEntry) {
	var untitled, attachments int
	var size uint64
	for _, e := range entries {
		if e.Title() == "" {
			untitled++
		}
		for _, a := range migration.Attachments(e.Entry) {
			attachments++
			size += uint64(len(a.Data))
		}
	}

	fmt.Fprintf(w, "Database: %s (%s)\n", name, inputPath)
	fmt.Fprintf(w, "Entries: %d total\n", len(entries))
	if untitled > 0 {
		fmt.Fprintf(w, "  - %d without title (skipped)\n", untitled)
	}
	fmt.Fprintf(w, "Attachments: %d (%s)\n", attachments, humanize.Bytes(size))

	folders := buildFolderTree(entries)
	if len(folders) > 0 {
		fmt.Fprintln(w, "\nCollections:")
		printFolderTree(w, folders, "  ")
	}
}

// folderNode is one collection path segment.
type folderNode struct {
	name     string
	count    int
	children map[string]*folderNode
}

// buildFolderTree counts the entries below each collection path segment.
func buildFolderTree(entries []model.PasswordEntry) map[string]*folderNode {
	root := make(map[string]*folderNode)

	for _, e := range entries {
		current := root
		for _, part := range strings.Split(e.CollectionPath, "/") {
			if part == "" {
				continue
			}
			if _, ok := current[part]; !ok {
				current[part] = &folderNode{
					name:     part,
					children: make(map[string]*folderNode),
				}
			}
			current[part].count++
			current = current[part].children
		}
	}

	return root
}

// printFolderTree recursively prints the folder tree with indentation.
func printFolderTree(w io.Writer, nodes map[string]*folderNode, indent string) {
	names := make([]string, 0, len(nodes))
	for name := range nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		node := nodes[name]
		fmt.Fprintf(w, "%s- %s (%d items)\n", indent, node.name, node.count)
		if len(node.children) > 0 {
			printFolderTree(w, node.children, indent+"  ")
		}
	}
}
