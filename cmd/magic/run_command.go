package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"image-magic/internal/batch"
	"image-magic/internal/export"
	"image-magic/internal/gemini"
	"image-magic/internal/httpclient"
	"image-magic/internal/ingest"
	"image-magic/internal/prompt"
)

var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".webp": {},
	".gif":  {},
	".bmp":  {},
	".tif":  {},
	".tiff": {},
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var (
		flags   settingsFlags
		outDir  string
		bundle  bool
		archive string
	)

	cmd := &cobra.Command{
		Use:   "run <file|dir>...",
		Short: "Edit a batch of images and write the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			settings, err := flags.resolve(cmd)
			if err != nil {
				return err
			}
			if err := settings.Validate(); err != nil {
				return fmt.Errorf("%w (use --instruction)", err)
			}

			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireGemini(); err != nil {
				return err
			}
			method := cfg.ArchiveMethod
			if cmd.Flags().Changed("archive-method") {
				method = archive
			}
			archiveMethod, err := export.ParseMethod(method)
			if err != nil {
				return err
			}
			logger := ctx.logger(cfg)

			paths, err := collectImagePaths(args)
			if err != nil {
				return err
			}
			files, err := readFiles(paths)
			if err != nil {
				return err
			}

			res, err := ingest.Ingest(cmd.Context(), files, 0, batch.MaxItems)
			if err != nil {
				return err
			}
			if !res.Notice.Empty() {
				fmt.Fprintln(cmd.ErrOrStderr(), res.Notice.Message())
			}
			if len(res.Seeds) == 0 {
				return errors.New("no images to process")
			}

			gen, err := gemini.Open(cmd.Context(), cfg.GeminiBackend, gemini.Options{
				APIKey:     cfg.GeminiAPIKey,
				BaseURL:    cfg.GeminiBaseURL,
				APIVersion: cfg.GeminiAPIVersion,
				HTTPClient: httpclient.New(httpclient.Options{
					PreferIPv4: cfg.PreferIPv4,
					Timeout:    cfg.HTTPTimeout,
					Logger:     logger,
				}),
				Logger: logger,
			})
			if err != nil {
				return err
			}

			sess := batch.New(batch.Options{
				Generator:     gen,
				Logger:        logger,
				MaxConcurrent: cfg.GenerationConcurrency,
				Settings:      &settings,
			})
			sess.Add(res.Seeds...)

			runCtx := cmd.Context()
			if cfg.RequestTimeout > 0 {
				var cancel context.CancelFunc
				runCtx, cancel = context.WithTimeout(runCtx, cfg.RequestTimeout)
				defer cancel()
			}
			sum, err := sess.Run(runCtx)
			if err != nil {
				return err
			}

			if err := os.MkdirAll(outDir, 0o755); err != nil {
				return fmt.Errorf("create output dir: %w", err)
			}
			at := time.Now()
			items := sess.Items()
			written, err := writeResults(outDir, items, at)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, renderTable(
				[]string{"#", "Image", "Status", "Output"},
				resultRows(items, written),
				[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
			))

			if bundle {
				name, err := writeArchive(outDir, items, archiveMethod, at)
				switch {
				case errors.Is(err, export.ErrNotReady):
					fmt.Fprintln(cmd.ErrOrStderr(), "Archive skipped: at least two succeeded images are needed.")
				case err != nil:
					return err
				default:
					fmt.Fprintf(out, "Archive: %s\n", name)
				}
			}

			if sum.Failed > 0 {
				return fmt.Errorf("%d of %d images failed", sum.Failed, sum.Dispatched)
			}
			return nil
		},
	}

	flags.bind(cmd)
	cmd.Flags().StringVarP(&outDir, "out", "o", ".", "Directory for results")
	cmd.Flags().BoolVar(&bundle, "zip", false, "Also write a ZIP of every result")
	cmd.Flags().StringVar(&archive, "archive-method", "", "ZIP compression: store, deflate, zstd (overrides ARCHIVE_METHOD)")
	return cmd
}

// collectImagePaths expands directories one level deep, keeping files with an
// image extension in name order. Explicit file arguments are kept as given so
// ingest can report them when they are not images.
func collectImagePaths(args []string) ([]string, error) {
	var paths []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("file does not exist: %s", arg)
			}
			return nil, fmt.Errorf("inspect %s: %w", arg, err)
		}
		if !info.IsDir() {
			paths = append(paths, arg)
			continue
		}

		entries, err := os.ReadDir(arg)
		if err != nil {
			return nil, fmt.Errorf("read dir %s: %w", arg, err)
		}
		var names []string
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			if _, ok := imageExtensions[strings.ToLower(filepath.Ext(e.Name()))]; ok {
				names = append(names, e.Name())
			}
		}
		slices.Sort(names)
		for _, name := range names {
			paths = append(paths, filepath.Join(arg, name))
		}
	}
	return paths, nil
}

func readFiles(paths []string) ([]ingest.File, error) {
	files := make([]ingest.File, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", p, err)
		}
		files = append(files, ingest.File{Name: filepath.Base(p), Data: data})
	}
	return files, nil
}

// writeResults saves every result of every succeeded item and returns the
// written file names per item index.
func writeResults(dir string, items []batch.Item, at time.Time) (map[int][]string, error) {
	written := make(map[int][]string)
	for i, it := range items {
		if it.Status != batch.StatusSucceeded {
			continue
		}
		mode, aspect := runSettings(it)
		for v, img := range it.Results {
			name := export.ResultFileName(i, v, mode, aspect, img.MimeType, at)
			if err := os.WriteFile(filepath.Join(dir, name), img.Data, 0o644); err != nil {
				return nil, fmt.Errorf("write %s: %w", name, err)
			}
			written[i] = append(written[i], name)
		}
	}
	return written, nil
}

func writeArchive(dir string, items []batch.Item, method export.Method, at time.Time) (string, error) {
	name := export.BundleName(at)
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive: %w", err)
	}
	if err := export.WriteBundle(f, items, export.BundleOptions{Method: method, At: at}); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close archive: %w", err)
	}
	return name, nil
}

func runSettings(it batch.Item) (prompt.Mode, prompt.AspectRatio) {
	if it.Run == nil {
		return prompt.ModeBackground, prompt.AspectSquare
	}
	return it.Run.Mode, it.Run.AspectRatio
}

func resultRows(items []batch.Item, written map[int][]string) [][]string {
	rows := make([][]string, 0, len(items))
	for i, it := range items {
		output := strings.Join(written[i], "\n")
		if it.Status == batch.StatusFailed {
			output = it.Error
		}
		rows = append(rows, []string{fmt.Sprint(i + 1), it.Name, string(it.Status), output})
	}
	return rows
}
