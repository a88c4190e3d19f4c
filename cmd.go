package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

// cli holds the flags shared by every command.
type cli struct {
	configFile string
	envFile    string
	stdin      io.Reader
}

// NewRootCommand builds the pocket-library command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdin)
}

func newRootCommand(stdin io.Reader) *cobra.Command {
	c := &cli{stdin: stdin}
	root := &cobra.Command{
		Use:          "pocket-library",
		Short:        "Personal library catalog with loans and activity history",
		SilenceUsage: true,
		Version:      fmt.Sprintf("%s (commit %s, built %s)", GitTag, GitCommit, BuildTime),
	}
	root.PersistentFlags().StringVarP(&c.configFile, "config", "c", "./config.yml", "path to the yaml configuration file")
	root.PersistentFlags().StringVar(&c.envFile, "env", "./config.env", "path to the optional env file")

	root.AddCommand(
		c.serveCommand(),
		c.addCommand(),
		c.listCommand(),
		c.searchCommand(),
		c.updateCommand(),
		c.deleteCommand(),
		c.borrowCommand(),
		c.returnCommand(),
		c.loansCommand(),
		c.historyCommand(),
		c.archiveCommand(),
		c.compactCommand(),
		c.usageCommand(),
		c.stripCommand(),
		c.clearCommand(),
	)
	return root
}

// run bootstraps the library, calls fn and prints its result as json.
func (c *cli) run(cmd *cobra.Command, fn func(ctx context.Context, ls *LibraryService) (interface{}, error)) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	env, err := Bootstrap(ctx, c.configFile, c.envFile, false)
	if err != nil {
		return err
	}
	defer env.Clean()

	result, err := fn(ctx, env.service)
	if err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			fmt.Fprintln(cmd.ErrOrStderr(), "storage is full: run `usage` then free space with `strip`, `delete` or `clear`.")
		}
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

func (c *cli) serveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the http api server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := Bootstrap(context.Background(), c.configFile, c.envFile, true)
			if err != nil {
				return err
			}
			return NewApp(env).Run()
		},
	}
}

// readAttachment loads the pdf at path into a data url.
func readAttachment(path string, maxBytes int64) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return EncodeAttachment(f, maxBytes)
}

func (c *cli) addCommand() *cobra.Command {
	var in BookInput
	var pdfPath string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a book to the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				if pdfPath != "" {
					dataURL, err := readAttachment(pdfPath, ls.library.config.MaxAttachmentSize)
					if err != nil {
						return nil, err
					}
					in.PDFName, in.PDFData = filepath.Base(pdfPath), dataURL
				}
				if err := ValidateBookInput(&in); err != nil {
					return nil, err
				}
				return ls.Add(ctx, in)
			})
		},
	}
	cmd.Flags().StringVar(&in.Title, "title", "", "book title")
	cmd.Flags().StringVar(&in.Author, "author", "", "book author")
	cmd.Flags().StringVar(&in.Category, "category", "", "book category")
	cmd.Flags().StringVar(&in.ReleaseDate, "release-date", "", "release date, e.g. 1965-08-01")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "path of a pdf file to attach")
	return cmd
}

func (c *cli) listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List the catalog",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				return ls.Search(ctx, ""), nil
			})
		},
	}
}

func (c *cli) searchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "search QUERY",
		Short: "Find books by title, author or category",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				return ls.Search(ctx, args[0]), nil
			})
		},
	}
}

func (c *cli) updateCommand() *cobra.Command {
	var pdfPath string
	var removePDF bool
	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags := cmd.Flags()
			var patch BookPatch
			for name, dst := range map[string]**string{
				"title":        &patch.Title,
				"author":       &patch.Author,
				"category":     &patch.Category,
				"release-date": &patch.ReleaseDate,
			} {
				if flags.Changed(name) {
					value, _ := flags.GetString(name)
					*dst = &value
				}
			}
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				switch {
				case removePDF:
					empty := ""
					patch.PDFName, patch.PDFData = &empty, &empty
				case pdfPath != "":
					dataURL, err := readAttachment(pdfPath, ls.library.config.MaxAttachmentSize)
					if err != nil {
						return nil, err
					}
					name := filepath.Base(pdfPath)
					patch.PDFName, patch.PDFData = &name, &dataURL
				}
				if err := ValidateBookPatch(&patch); err != nil {
					return nil, err
				}
				return ls.Update(ctx, args[0], patch)
			})
		},
	}
	cmd.Flags().String("title", "", "new title")
	cmd.Flags().String("author", "", "new author")
	cmd.Flags().String("category", "", "new category")
	cmd.Flags().String("release-date", "", "new release date")
	cmd.Flags().StringVar(&pdfPath, "pdf", "", "path of a pdf file to attach")
	cmd.Flags().BoolVar(&removePDF, "remove-pdf", false, "drop the attached pdf")
	cmd.MarkFlagsMutuallyExclusive("pdf", "remove-pdf")
	return cmd
}

func (c *cli) deleteCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Remove a book from the catalog",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				return deleteBook(ctx, ls, cmd.ErrOrStderr(), args[0])
			})
		},
	}
}

// deleteBook removes a book and warns on w when the removal was not saved.
func deleteBook(ctx context.Context, ls *LibraryService, w io.Writer, id string) (map[string]bool, error) {
	removed, err := ls.Delete(ctx, id)
	if err == nil {
		warnUnsaved(ls, w, "the book was kept because its removal could not be saved")
	}
	return map[string]bool{"deleted": removed}, err
}

// returnBook ends a loan and warns on w when the change was not saved.
func returnBook(ctx context.Context, ls *LibraryService, w io.Writer, id string) (map[string]bool, error) {
	returned, err := ls.Return(ctx, id)
	if err == nil {
		warnUnsaved(ls, w, "the loan is still recorded because the return could not be saved")
	}
	return map[string]bool{"returned": returned}, err
}

func warnUnsaved(ls *LibraryService, w io.Writer, msg string) {
	if err := ls.SwallowedFailure(); err != nil {
		fmt.Fprintf(w, "warning: %s: %v\n", msg, err)
	}
}

func (c *cli) borrowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "borrow ID",
		Short: "Record a loan of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				loan, err := ls.Borrow(ctx, args[0])
				if err == nil && loan == nil {
					return nil, fmt.Errorf("%w: %s", ErrNotFound, args[0])
				}
				return loan, err
			})
		},
	}
}

func (c *cli) returnCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "return ID",
		Short: "End the oldest loan of a book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				return returnBook(ctx, ls, cmd.ErrOrStderr(), args[0])
			})
		},
	}
}

func (c *cli) loansCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "loans",
		Short: "List the active loans",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				return ls.ListLoans(ctx), nil
			})
		},
	}
}

func (c *cli) historyCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "history",
		Short: "Show the activity log, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				return ls.ListHistory(ctx), nil
			})
		},
	}
}

func (c *cli) archiveCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "archive",
		Short: "Show archived activity, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				return ls.Archive(ctx, limit)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to show, 0 for all")
	return cmd
}

func (c *cli) compactCommand() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Trim the activity log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				evicted, err := ls.CompactHistory(ctx, keep)
				return map[string]int{"evicted": evicted}, err
			})
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 0, "entries to keep, 0 for the configured bound")
	return cmd
}

func (c *cli) usageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Report the storage usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				return ls.StorageUsage(ctx)
			})
		},
	}
}

func (c *cli) stripCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "strip",
		Short: "Remove every pdf attachment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				stripped, err := ls.RemoveAllAttachments(ctx)
				return map[string]int{"stripped": stripped}, err
			})
		},
	}
}

func (c *cli) clearCommand() *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Erase books, loans and history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				confirmed, err := c.confirm(cmd, "This erases the whole library. Type 'yes' to confirm: ")
				if err != nil {
					return err
				}
				if !confirmed {
					fmt.Fprintln(cmd.ErrOrStderr(), "aborted.")
					return nil
				}
			}
			return c.run(cmd, func(ctx context.Context, ls *LibraryService) (interface{}, error) {
				return map[string]bool{"cleared": true}, ls.Clear(ctx)
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// confirm asks a yes/no question. It refuses to guess when stdin is not a terminal.
func (c *cli) confirm(cmd *cobra.Command, prompt string) (bool, error) {
	if f, ok := c.stdin.(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return false, errors.New("refusing to proceed without a terminal: use --yes")
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	sc := bufio.NewScanner(c.stdin)
	if !sc.Scan() {
		return false, sc.Err()
	}
	return strings.EqualFold(strings.TrimSpace(sc.Text()), "yes"), nil
}
