package main

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"coursepipe/internal/domain"
	"coursepipe/internal/upload"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE...",
	Short: "Upload videos and submit them as one or more jobs",
	Long:  "Uploads the given videos in resumable chunks. When every file is acknowledged the session is submitted and the resulting jobs are watched. An interrupted upload can be continued with `coursectl resume`.",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runUpload,
}

var (
	uploadTitle       string
	uploadChunkMB     int
	uploadConcurrency int
	uploadNoWatch     bool
	submitFlags       jobFlags
)

// jobFlags are the submission options shared by upload and resume.
type jobFlags struct {
	density  string
	merge    string
	attachTo string
	salvage  bool
}

func (f jobFlags) options() domain.JobOptions {
	return domain.JobOptions{
		ExtractionDensity: domain.ExtractionDensity(f.density),
		MergeMode:         domain.MergeMode(f.merge),
		AttachTo:          f.attachTo,
	}
}

func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.density, "density", "fast", "Frame extraction density: fast or precision")
	cmd.Flags().StringVar(&f.merge, "merge", "separate", "One document per video (separate) or one for all (combined)")
	cmd.Flags().StringVar(&f.attachTo, "attach-to", "", "Existing job id to attach the new jobs to")
	cmd.Flags().BoolVar(&f.salvage, "salvage", false, "Submit the acknowledged files even if some failed")
}

func init() {
	uploadCmd.Flags().StringVarP(&uploadTitle, "title", "t", "", "Job title")
	uploadCmd.Flags().IntVar(&uploadChunkMB, "chunk-mb", 8, "Chunk size in MiB")
	uploadCmd.Flags().IntVar(&uploadConcurrency, "concurrency", upload.DefaultConcurrency, "Files transferred in parallel")
	uploadCmd.Flags().BoolVar(&uploadNoWatch, "no-watch", false, "Exit after submitting instead of watching the jobs")
	submitFlags.register(uploadCmd)

	rootCmd.AddCommand(uploadCmd)
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	c, err := newCLI(true)
	if err != nil {
		return err
	}
	defer c.Close()

	files, err := localFiles(args)
	if err != nil {
		return err
	}
	handle, err := c.uploader.Begin(ctx, files, uploadOptions(uploadTitle))
	if handle == nil {
		if errors.Is(err, domain.ErrSessionActive) {
			return fmt.Errorf("%w: run `coursectl resume` or `coursectl discard` first", err)
		}
		return err
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "skipping %v\n", err)
	}
	return c.finish(ctx, handle, submitFlags, !uploadNoWatch)
}

func uploadOptions(title string) upload.Options {
	return upload.Options{
		Title:       title,
		ChunkSize:   int64(uploadChunkMB) << 20,
		Concurrency: uploadConcurrency,
		OnProgress:  printUploadProgress,
	}
}

// finish waits for the transfer, submits the session and optionally watches
// the jobs it created.
func (c *cli) finish(ctx context.Context, handle *upload.Handle, flags jobFlags, watch bool) error {
	res := handle.Wait()
	fmt.Fprintln(os.Stderr)
	if ctx.Err() != nil {
		return fmt.Errorf("upload interrupted at %d%%; run `coursectl resume` to continue", res.Aggregate)
	}
	if failed := res.Failed(); len(failed) > 0 {
		for _, f := range res.Files {
			if f.Status == domain.FileStatusFailed {
				fmt.Fprintf(os.Stderr, "failed: %s: %v\n", f.Name, f.Err)
			}
		}
		if !flags.salvage {
			return fmt.Errorf("%d file(s) failed; run `coursectl resume` to retry or pass --salvage", len(failed))
		}
	}

	ids, err := c.jobs.Submit(ctx, handle.Session(), flags.options(), flags.salvage)
	if err != nil {
		return err
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	if !watch {
		return nil
	}
	return c.watch(ctx, ids)
}

func localFiles(paths []string) ([]upload.File, error) {
	files := make([]upload.File, 0, len(paths))
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			return nil, fmt.Errorf("%s is a directory", p)
		}
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		files = append(files, upload.File{
			Name:        info.Name(),
			Path:        abs,
			Size:        info.Size(),
			ContentType: mime.TypeByExtension(strings.ToLower(filepath.Ext(p))),
		})
	}
	return files, nil
}

func printUploadProgress(p upload.Progress) {
	fmt.Fprintf(os.Stderr, "\rUploading %3d%% (%d/%d files)", p.Aggregate, p.Uploaded, p.Total)
}
